// Copyright 2025 Crucible Team
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sandbox

import (
	"fmt"
	"regexp"
)

// deniedPattern is one entry of the fixed syntactic denylist applied before
// any VM work. Cheap fail-fast screening, not a substitute for the runtime
// isolation the VM itself enforces.
type deniedPattern struct {
	name string
	re   *regexp.Regexp
}

var denylist = []deniedPattern{
	{"dynamic code loading (load)", regexp.MustCompile(`\bload\s*\(`)},
	{"dynamic code loading (loadstring)", regexp.MustCompile(`\bloadstring\b`)},
	{"file chunk loading (loadfile)", regexp.MustCompile(`\bloadfile\b`)},
	{"file chunk execution (dofile)", regexp.MustCompile(`\bdofile\b`)},
	{"os library access", regexp.MustCompile(`\bos\s*[.\[]`)},
	{"io library access", regexp.MustCompile(`\bio\s*[.\[]`)},
	{"debug library access", regexp.MustCompile(`\bdebug\s*[.\[]`)},
	{"package loader manipulation", regexp.MustCompile(`\bpackage\s*[.\[]`)},
	{"garbage collector control", regexp.MustCompile(`\bcollectgarbage\b`)},
}

// escapePatterns flags classic sandbox-escape idioms: metatable walking,
// environment pivoting, and bytecode extraction. Matches are rejected before
// execution and logged separately from plain validation failures.
var escapePatterns = []deniedPattern{
	{"metatable read (getmetatable)", regexp.MustCompile(`\bgetmetatable\b`)},
	{"metatable write (setmetatable)", regexp.MustCompile(`\bsetmetatable\b`)},
	{"raw table access (rawget)", regexp.MustCompile(`\brawget\b`)},
	{"raw table access (rawset)", regexp.MustCompile(`\brawset\b`)},
	{"environment pivot (getfenv)", regexp.MustCompile(`\bgetfenv\b`)},
	{"environment pivot (setfenv)", regexp.MustCompile(`\bsetfenv\b`)},
	{"bytecode extraction (string.dump)", regexp.MustCompile(`\bstring\s*\.\s*dump\b`)},
	{"global table indexing (_G)", regexp.MustCompile(`\b_G\s*[.\[]`)},
}

// ValidateCode screens plugin source against the size ceiling and the fixed
// denylist. Returns a descriptive error naming the first matched pattern.
func ValidateCode(code string) error {
	if code == "" {
		return fmt.Errorf("validation failed: code is empty")
	}
	if len(code) > MaxCodeSize {
		return fmt.Errorf("validation failed: code size %d exceeds maximum %d bytes", len(code), MaxCodeSize)
	}
	for _, p := range denylist {
		if p.re.MatchString(code) {
			return fmt.Errorf("validation failed: forbidden construct: %s", p.name)
		}
	}
	return nil
}

// ScanEscapeAttempt runs the secondary, independent escape-idiom scan.
// Returns the matched pattern name, or the empty string when clean.
func ScanEscapeAttempt(code string) string {
	for _, p := range escapePatterns {
		if p.re.MatchString(code) {
			return p.name
		}
	}
	return ""
}
