// Command mmm fits media mix models, reports channel metrics and optimizes
// marketing budgets, either once from a config file or as an HTTP service.
package main

import (
	"os"

	"mmmcli/internal/infrastructure"
)

func main() {
	err := newRootCommand().Execute()
	_ = infrastructure.CloseLogFile()
	if err != nil {
		os.Exit(1)
	}
}
