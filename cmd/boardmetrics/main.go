// Package main is the entry point for the boardmetrics CLI.
package main

import (
	"os"

	"github.com/MertK96/azure-boardmetrics/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
