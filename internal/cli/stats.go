package cli

import (
	"net/url"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the user's memory statistics",
		Run:   runStats,
	}
	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	params := url.Values{"user_id": {requireUser()}}

	var resp map[string]interface{}
	if err := newClient().getJSON(cmd.Context(), "/api/stats", params, &resp); err != nil {
		exitErr("stats", err)
	}
	printJSON(resp)
}
