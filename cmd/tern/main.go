package main

import (
	"os"

	"github.com/evanrhodes/tern/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
