// Package main is the entry point for hlsrecd.
package main

import (
	"hlsrecd/cmd/hlsrecd/cmd"
	"os"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
