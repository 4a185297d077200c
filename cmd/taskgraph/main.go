// Command taskgraph runs the travel planner, the reflection loop and the
// memory feedback loop from the command line.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
