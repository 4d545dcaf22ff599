package main

import (
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	if err := newCLI().rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err.Error())
		os.Exit(1)
	}
}
