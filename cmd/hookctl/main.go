package main

import (
	"os"

	"github.com/hookrelay/hookrelay/cmd/hookctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
