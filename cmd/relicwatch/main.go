package main

import (
	"os"

	"github.com/illenko/relicwatch/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
