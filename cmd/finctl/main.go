// Command finctl is the treasurer's command-line companion to the API
// server: exports, transfer files, todo lists and test tokens.
package main

import (
	"os"

	"github.com/warp/finance-engine/cmd/finctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
