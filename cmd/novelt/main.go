// Command novelt translates serialized novels chapter by chapter with an
// OpenAI-compatible model. It provides a CLI (via Cobra) and an HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/novelt-go/cmd/novelt/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
