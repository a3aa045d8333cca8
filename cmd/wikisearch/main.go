// Package main provides the entry point for the wikisearch CLI.
package main

import (
	"os"

	"github.com/xwiki/xwiki-platform-sub060/cmd/wikisearch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
