package main

import (
	"fmt"
	"os"

	"freight_ops_backend/cmd/callctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
