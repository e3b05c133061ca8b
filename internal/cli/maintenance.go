package cli

import (
	"net/url"

	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(&cobra.Command{
		Use:   "decay",
		Short: "Run the decay pass for the user now",
		Run:   maintenanceRunner("/api/maintenance/decay"),
	})
	RootCmd.AddCommand(&cobra.Command{
		Use:   "reflect",
		Short: "Run the reflection pass for the user now",
		Run:   maintenanceRunner("/api/maintenance/reflect"),
	})
	RootCmd.AddCommand(&cobra.Command{
		Use:   "merge-entities",
		Short: "Run the entity merge pass for the user now",
		Run:   maintenanceRunner("/api/maintenance/merge"),
	})
}

// maintenanceRunner builds the Run func for one maintenance endpoint.
// The jobs are time-gated server-side; an explicit CLI call still
// respects the per-user interval.
func maintenanceRunner(path string) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		full := path + "?" + url.Values{"user_id": {requireUser()}}.Encode()

		var resp map[string]interface{}
		if err := newClient().postJSON(cmd.Context(), full, nil, &resp); err != nil {
			exitErr("maintenance", err)
		}
		printJSON(resp)
	}
}
