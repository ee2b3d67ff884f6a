// Command studycrew is the entry point for the study assistant. It provides
// a CLI interface (via Cobra) for ingesting documents and asking questions,
// and an HTTP server exposing the same operations as a JSON API.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/studycrew-go/cmd/studycrew/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
