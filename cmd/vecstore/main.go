// Package main is the entry point for the vecstore CLI.
package main

import (
	"os"

	"github.com/ratlabs/vecstore/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
