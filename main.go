package main

import (
	"barragecap/cmd"
)

// main is the entry point for the barragecap CLI.
func main() {
	// Execute the root command defined in the cmd package.
	// This handles all command-line parsing, configuration, and execution.
	cmd.Execute()
}
