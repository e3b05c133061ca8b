package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/engramlabs/engram/internal/engine"
	"github.com/engramlabs/engram/internal/ingest"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import-notes <dir>",
		Short: "Import a directory of markdown notes as memories",
		Long:  "Walks the directory, parses front-matter and #hashtags, and stores every note through the server as a semantic memory.",
		Args:  cobra.ExactArgs(1),
		Run:   runImportNotes,
	}
	RootCmd.AddCommand(cmd)
}

func runImportNotes(cmd *cobra.Command, args []string) {
	importer := ingest.NewNotesImporter(&apiSink{client: newClient()})

	report, err := importer.ImportDir(cmd.Context(), args[0], requireUser())
	if err != nil {
		exitErr("import-notes", err)
	}
	printJSON(report)
}

// apiSink feeds parsed notes to a running server instead of an in-process
// engine.
type apiSink struct {
	client *client
}

func (s *apiSink) StoreRich(ctx context.Context, userID, content string, opts engine.StoreOptions) (string, error) {
	body := map[string]interface{}{
		"user_id": userID,
		"content": content,
	}
	if opts.Sector != "" {
		body["sector"] = string(opts.Sector)
	}
	if len(opts.Tags) > 0 {
		body["tags"] = opts.Tags
	}
	if opts.SessionKey != "" {
		body["session_key"] = opts.SessionKey
	}
	if !opts.EventAt.IsZero() {
		body["event_at"] = opts.EventAt.Format(time.RFC3339)
	}
	if opts.ValidUntil != nil {
		body["valid_until"] = opts.ValidUntil.Format(time.RFC3339)
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := s.client.postJSON(ctx, "/api/memories", body, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}
