package main

import (
	"os"

	"github.com/todmy/psychometrics/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
