package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

var (
	storeSector  string
	storeTags    string
	storeSession string
)

func init() {
	cmd := &cobra.Command{
		Use:   "store <content>",
		Short: "Store a memory",
		Args:  cobra.ExactArgs(1),
		Run:   runStore,
	}
	cmd.Flags().StringVar(&storeSector, "sector", "", "Memory sector: semantic, episodic, factual, procedural, or reflective (default: semantic)")
	cmd.Flags().StringVar(&storeTags, "tags", "", "Comma-separated tags")
	cmd.Flags().StringVar(&storeSession, "session", "", "Session key the memory came from")

	RootCmd.AddCommand(cmd)
}

func runStore(cmd *cobra.Command, args []string) {
	body := map[string]interface{}{
		"user_id": requireUser(),
		"content": args[0],
	}
	if storeSector != "" {
		body["sector"] = storeSector
	}
	if storeTags != "" {
		body["tags"] = splitTags(storeTags)
	}
	if storeSession != "" {
		body["session_key"] = storeSession
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := newClient().postJSON(cmd.Context(), "/api/memories", body, &resp); err != nil {
		exitErr("store", err)
	}
	printJSON(resp)
}

func splitTags(csv string) []string {
	var tags []string
	for _, t := range strings.Split(csv, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
