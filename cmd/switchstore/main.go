package main

import (
	"os"

	"github.com/jacentio/switchstore/cmd/switchstore/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
