// Package main provides the entry point for the crawlmcp CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/crawlmcp/cmd/crawlmcp/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
