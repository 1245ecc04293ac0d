package main

import (
	"os"

	"github.com/neondatabase/mcp-oauth-gateway/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
