// Command bgde serves the vocabulary search and review API and offers the
// same operations on the command line.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
