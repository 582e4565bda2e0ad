// Forge: concurrent text change pipeline served over MCP.
//
// Usage:
//
//	forge serve              # Start MCP server (stdio transport)
//	forge history [branch]   # List snapshots
//	forge diff <from> [to]   # Unified diff between branches or snapshots
//	forge branches           # List branches
//	forge version            # Print the version
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
