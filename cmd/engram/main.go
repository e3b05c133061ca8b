// Command engram is the admin CLI for a running engram-server.
package main

import (
	"os"

	"github.com/engramlabs/engram/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
