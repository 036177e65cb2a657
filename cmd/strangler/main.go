// Command strangler runs the NIFTY short strangle engine.
package main

import (
	"fmt"
	"os"

	"nifty-strangler/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
