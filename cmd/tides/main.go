package main

import (
	"os"

	"github.com/wonny/tides/cmd/tides/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
