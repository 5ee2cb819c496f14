package main

import (
	"os"

	"github.com/atriumhq/atrium/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
