// Command bench drives a synthetic game-server workload through the
// write-behind entity cache and exposes Prometheus metrics.
package main

import (
	"fmt"
	"os"

	"github.com/IvanBrykalov/writebehind/cmd/bench/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
