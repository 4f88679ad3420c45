// promem: Persistent Project Memory MCP Server
//
// A universal MCP server that gives any AI coding tool (Claude Code,
// Cursor, VS Code Copilot, ...) persistent per-project memory:
// architectural decisions, code patterns and project context that
// survive between sessions.
//
// Usage:
//
//	promem serve     # Start MCP server (stdio transport)
//	promem stats     # Show memory usage
//	promem export    # Dump memory as JSON
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
