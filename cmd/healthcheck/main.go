package main

import (
	"os"

	"github.com/NSLS-II/sirepo-healthcheck/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
