package main

import (
	"os"
	_ "time/tzdata"

	"github.com/wonny/aegis-narrator/cmd/narrator/commands"
)

// main is the entry point for the narrator CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/narrator [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
