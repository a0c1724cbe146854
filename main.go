package main

import (
	"os"

	"github.com/Kelbie/georelay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
