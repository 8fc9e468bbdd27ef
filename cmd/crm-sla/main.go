package main

import (
	"fmt"
	"os"

	"crm-sla/cmd/crm-sla/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
