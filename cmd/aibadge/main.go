// Command aibadge marks storefront tiles of applications that disclose
// AI-generated content.
//
// Usage:
//
//	aibadge watch --url https://store.steampowered.com/   # drive a browser session
//	aibadge check 570 1091500                            # confirm identifiers
//	aibadge refresh                                      # reload the remote list
//	aibadge match page.html                              # evaluate a saved detail page
//	aibadge history 570                                  # journalled lookups
//	aibadge mcp                                          # MCP tools over stdio
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
