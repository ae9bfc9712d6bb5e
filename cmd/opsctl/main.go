package main

import (
	"os"

	"github.com/oremus-labs/ol-ops-console/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
