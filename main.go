// The main package for the crawlrules executable.
package main

import (
	"github.com/JakeFAU/crawlrules/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
