// The main package for the nabavki executable.
package main

import (
	"github.com/bloodyteeths/nabavkidata-sub002/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
