package main

import (
	"os"

	"github.com/84adam/arkvault/cmd/arkvault/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
