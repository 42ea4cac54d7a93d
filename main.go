// The main package for the matricula-crawler executable.
package main

import (
	"github.com/JakeFAU/matricula-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
