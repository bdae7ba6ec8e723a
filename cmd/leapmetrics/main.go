// Package main is the entry point for the leapmetrics CLI.
package main

import (
	"errors"
	"os"

	"github.com/leapstack-labs/leapmetrics/internal/cli"
	"github.com/leapstack-labs/leapmetrics/internal/cli/commands"
)

func main() {
	if err := cli.Execute(); err != nil {
		var exitErr *commands.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
