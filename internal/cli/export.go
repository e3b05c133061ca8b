package cli

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the user's memories, entities, and relations",
		Long:  "Fetches a full export of the user's data. The server also writes a timestamped snapshot file to its export directory.",
		Run:   runExport,
	}
	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	params := url.Values{"user_id": {requireUser()}}

	var resp struct {
		Snapshot string      `json:"snapshot,omitempty"`
		Export   interface{} `json:"export"`
	}
	if err := newClient().getJSON(cmd.Context(), "/api/export", params, &resp); err != nil {
		exitErr("export", err)
	}

	if formatFlag == "text" && resp.Snapshot != "" {
		fmt.Printf("snapshot written: %s\n", resp.Snapshot)
		return
	}
	printJSON(resp)
}
