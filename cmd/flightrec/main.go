// Command flightrec records goroutine samples into flight-recorder chunks
// and inspects recordings.
//
// Usage:
//
//	flightrec record [--config path/to/config.yaml] [--duration 30s]
//	flightrec inspect recording.jfr
//	flightrec chunks list|export|prune
package main

import (
	"fmt"
	"os"

	"github.com/snehjoshi/flightrec/cmd/flightrec/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "flightrec: %v\n", err)
		os.Exit(1)
	}
}
