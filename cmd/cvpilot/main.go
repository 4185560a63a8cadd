package main

import (
	"os"

	"github.com/cvpilot/cvpilot/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
