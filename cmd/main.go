package main

import (
	"os"

	"github.com/quizbankorg/quizbank/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
