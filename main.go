package main

import (
	"os"

	"github.com/spigell/network-scout/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
