// Package main provides the entry point for the metafind CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/metafind/cmd/metafind/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
