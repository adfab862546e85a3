// Package main is the entry point for condatest, the end-to-end harness
// for the anaconda auth CLI.
package main

import (
	"os"

	"github.com/anaconda/anaconda-cli-testing/cmd/condatest/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
