// Command fynq is a terminal client for the fynq chat sync library: a tutor
// chat REPL plus session and migration management.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(nil).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
