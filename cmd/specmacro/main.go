// Package main is the specmacro command.
package main

import (
	"os"

	"github.com/leapstack-labs/specmacro/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
