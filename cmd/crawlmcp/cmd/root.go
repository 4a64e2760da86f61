// Package cmd provides the CLI commands for CrawlMCP.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/crawlmcp/pkg/version"
)

// NewRootCmd creates the root command for the crawlmcp CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawlmcp",
		Short: "Web crawling and RAG MCP server",
		Long: `CrawlMCP crawls web pages into a vector index and serves hybrid
retrieval over MCP, with an optional code knowledge graph for
validating AI-generated code against parsed repositories.

Running 'crawlmcp' with no arguments starts the server on stdio.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			// Default action is serving on stdio.
			return runServe(cmd.Context(), serveOptions{transport: "stdio"})
		},
	}

	cmd.SetVersionTemplate("crawlmcp version {{.Version}}\n")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
