// Command tutorctl inspects persisted tutor state and simulates selection.
package main

import (
	"os"

	"github.com/ashureev/shsh-tutor/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
