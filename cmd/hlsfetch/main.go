// Package main is the entry point for the hlsfetch application.
package main

import (
	"os"

	"github.com/jmylchreest/hlsfetch/cmd/hlsfetch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
