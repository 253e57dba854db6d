// Package main provides syncctl, the command-line client for the sync
// engine. It works directly against the local queue database, so every
// command except drain is available offline.
package main

import (
	"fmt"
	"os"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
