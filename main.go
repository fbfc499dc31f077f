// The main package for the tierfetch executable.
package main

import (
	"github.com/JakeFAU/tierfetch/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
