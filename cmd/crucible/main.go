package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/go-crucible/crucible/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:   "crucible",
	Short: "crucible runs sandboxed tenant plugins",
	Long:  "crucible is a plugin execution engine: a registry with review workflow and a sandboxed Lua runtime with per-tenant rate limits",
	Run: func(cmd *cobra.Command, args []string) {
		if err := cmd.Help(); err != nil {
			return
		}
	},
}

func init() {
	rootCmd.AddCommand(version.VersionCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
