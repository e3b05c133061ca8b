package cli

import (
	"net/url"

	"github.com/spf13/cobra"
)

var (
	profileQuery   string
	profileSession string
)

func init() {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the user's memory profile",
		Run:   runProfile,
	}
	cmd.Flags().StringVarP(&profileQuery, "query", "q", "", "Bias the dynamic slice toward this query")
	cmd.Flags().StringVar(&profileSession, "session", "", "Include recent turns from this session")

	RootCmd.AddCommand(cmd)
}

func runProfile(cmd *cobra.Command, args []string) {
	params := url.Values{"user_id": {requireUser()}}
	if profileQuery != "" {
		params.Set("query", profileQuery)
	}
	if profileSession != "" {
		params.Set("session_key", profileSession)
	}

	var resp map[string]interface{}
	if err := newClient().getJSON(cmd.Context(), "/api/profile", params, &resp); err != nil {
		exitErr("profile", err)
	}
	printJSON(resp)
}
