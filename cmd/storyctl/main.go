// Package main is the entry point for storyctl, the operator CLI for the
// storymatch service.
//
// Usage:
//
//	storyctl [flags] <command> [args]
//
// Remote commands talk to a running server over gRPC; ingest and sweep run
// the pipeline in-process against the configured stores.
package main

import (
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"

	"github.com/oggyb/storymatch/cmd/storyctl/commands"
	svcErr "github.com/oggyb/storymatch/internal/errors"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(svcErr.ExitCode(err))
	}
}
