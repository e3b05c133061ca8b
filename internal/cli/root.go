// Package cli implements the engram admin commands. Every command talks
// to a running engram-server over its HTTP API.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/engramlabs/engram/internal/logging"
)

var (
	addrFlag   string
	userFlag   string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "engram",
	Short: "Admin CLI for the engram memory daemon",
	Long:  "Store, recall, and maintain long-term memories on a running engram-server.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup("info", "text")
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "", "Server base URL (default: $ENGRAM_ADDR or http://127.0.0.1:7377)")
	RootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "User ID the command operates on")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

func serverAddr() string {
	if addrFlag != "" {
		return addrFlag
	}
	if env := os.Getenv("ENGRAM_ADDR"); env != "" {
		return env
	}
	return "http://127.0.0.1:7377"
}

func requireUser() string {
	if userFlag == "" {
		exitErr("missing flag", fmt.Errorf("--user is required"))
	}
	return userFlag
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
