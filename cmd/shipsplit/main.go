package main

import (
	"os"

	"github.com/shipsplit/shipsplit/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
