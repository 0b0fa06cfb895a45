package sandbox

import (
	"strings"
	"testing"
)

func TestValidateCode_AcceptsPlainCode(t *testing.T) {
	for _, code := range []string{
		"return 1 + 1",
		`local x = {} x.y = "z" return x`,
		`print("hello") return true`,
		`local s = string.upper("a") return s`,
	} {
		if err := ValidateCode(code); err != nil {
			t.Errorf("ValidateCode(%q) unexpected error: %v", code, err)
		}
	}
}

func TestValidateCode_RejectsDenylistedConstructs(t *testing.T) {
	cases := map[string]string{
		`load("return 1")()`:            "load",
		`loadstring("x")`:               "loadstring",
		`dofile("/etc/passwd")`:         "dofile",
		`loadfile("x.lua")`:             "loadfile",
		`return os.time()`:              "os",
		`local f = io.open("/tmp/f")`:   "io",
		`debug.getinfo(1)`:              "debug",
		`package.loaded["os"]`:          "package",
		`collectgarbage("count")`:       "garbage",
		"local h = io[\"open\"](\"f\")": "io",
	}
	for code, fragment := range cases {
		err := ValidateCode(code)
		if err == nil {
			t.Errorf("ValidateCode(%q) should have been rejected", code)
			continue
		}
		if !strings.Contains(strings.ToLower(err.Error()), fragment) {
			t.Errorf("ValidateCode(%q) error %q does not reference pattern %q", code, err, fragment)
		}
	}
}

func TestValidateCode_RejectsOversizedCode(t *testing.T) {
	big := "-- " + strings.Repeat("a", MaxCodeSize)
	err := ValidateCode(big)
	if err == nil {
		t.Fatal("oversized code should be rejected")
	}
	if !strings.Contains(err.Error(), "exceeds maximum") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateCode_RejectsEmptyCode(t *testing.T) {
	if err := ValidateCode(""); err == nil {
		t.Fatal("empty code should be rejected")
	}
}

func TestScanEscapeAttempt(t *testing.T) {
	clean := []string{
		"return 1 + 1",
		`local t = {} return t`,
	}
	for _, code := range clean {
		if got := ScanEscapeAttempt(code); got != "" {
			t.Errorf("ScanEscapeAttempt(%q) = %q, want clean", code, got)
		}
	}

	dirty := []string{
		`local mt = getmetatable("")`,
		`setmetatable(t, {})`,
		`rawget(_G, "os")`,
		`rawset(t, "k", v)`,
		`local f = string.dump(fn)`,
		`getfenv(0)`,
		`_G["os"]`,
	}
	for _, code := range dirty {
		if got := ScanEscapeAttempt(code); got == "" {
			t.Errorf("ScanEscapeAttempt(%q) should have flagged", code)
		}
	}
}
