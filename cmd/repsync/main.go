package main

import (
	"fmt"
	"os"

	"repsync/internal/cli"
	"repsync/pkg/logger"
)

func main() {
	defer logger.Close()

	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
