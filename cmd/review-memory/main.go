/*
Package main is the entry point for the review-memory CLI.

review-memory keeps an associative memory of finished code reviews and
renders the relevant history, within a token budget, for the next review.

Usage:

	review-memory [command]

Available Commands:

	learn       Store a finished review and learn from it
	context     Render past reviews relevant to the files under review
	render      Render ranked candidate records
	benchmark   Compare token usage of full vs. progressive history
	session     Manage learning sessions
	memory      Inspect and maintain the associative memory
	config      Manage the configuration file
	serve       Run the MCP server (stdio transport)
	version     Show version information

Examples:

	# Remember a review
	review-memory learn --files src/auth.ts --result-file review.md

	# Fetch history before the next review
	review-memory context --files "$(git diff --name-only)"

	# Run as MCP server
	review-memory serve
*/
package main

import (
	"fmt"
	"os"

	"github.com/khanglvm/review-memory/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
