// Package main is the entry point for the world server.
// This is a thin wrapper around the cli package.
package main

import (
	"os"

	"github.com/zot/world/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
