// rift-evalworker is the expression evaluation worker spawned by the rift
// engine. It speaks newline-delimited JSON over stdio: one request object per
// line on stdin, one response object per line on stdout, correlated by id.
// Emits "ready" on stderr once initialized.
//
// Usage:
//
//	rift-evalworker [--timeout 5s]
//
// The worker never exits on bad input; it answers every request, malformed
// ones included, and quits when stdin closes.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/riftlabs/rift/pkg/evalworker"
)

func main() {
	timeout := evalworker.DefaultTimeout

	for i := 1; i < len(os.Args); i++ {
		switch {
		case os.Args[i] == "--timeout" && i+1 < len(os.Args):
			i++
			d, err := time.ParseDuration(os.Args[i])
			if err != nil {
				fmt.Fprintf(os.Stderr, "rift-evalworker: bad --timeout %q: %v\n", os.Args[i], err)
				os.Exit(2)
			}
			timeout = d
		default:
			fmt.Fprintln(os.Stderr, "Usage: rift-evalworker [--timeout 5s]")
			os.Exit(2)
		}
	}

	// Emit ready signal
	fmt.Fprintln(os.Stderr, "rift-evalworker: ready")

	if err := evalworker.Serve(os.Stdin, os.Stdout, timeout); err != nil {
		fmt.Fprintf(os.Stderr, "rift-evalworker: %v\n", err)
		os.Exit(1)
	}
}
