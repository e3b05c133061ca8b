package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/engramlabs/engram/pkg/types"
)

var (
	recallLimit       int
	recallSectors     string
	recallMinStrength float64
	recallGraphDepth  int
	recallTag         string
	recallTimeframe   string
)

func init() {
	cmd := &cobra.Command{
		Use:   "recall [query]",
		Short: "Search memories",
		Long:  "Rank the user's memories against a query. With --tag or --timeframe the query is optional and the matching facet is used instead of vector search.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runRecall,
	}
	cmd.Flags().IntVarP(&recallLimit, "limit", "n", 10, "Maximum results")
	cmd.Flags().StringVar(&recallSectors, "sectors", "", "Comma-separated sector filter")
	cmd.Flags().Float64Var(&recallMinStrength, "min-strength", 0, "Drop results below this strength")
	cmd.Flags().IntVar(&recallGraphDepth, "graph-depth", 0, "Entity-graph enrichment hops")
	cmd.Flags().StringVar(&recallTag, "tag", "", "Exact tag facet instead of vector search")
	cmd.Flags().StringVar(&recallTimeframe, "timeframe", "", "Named range: today, yesterday, this_week, last_week, this_month, last_month")

	RootCmd.AddCommand(cmd)
}

type recallResult struct {
	Memory    types.Memory `json:"memory"`
	Breakdown struct {
		Similarity float64 `json:"similarity"`
		Strength   float64 `json:"strength"`
		Final      float64 `json:"final"`
	} `json:"breakdown"`
}

func runRecall(cmd *cobra.Command, args []string) {
	body := map[string]interface{}{
		"user_id": requireUser(),
		"limit":   recallLimit,
	}
	if len(args) == 1 {
		body["query"] = args[0]
	}
	if recallSectors != "" {
		body["sectors"] = splitTags(recallSectors)
	}
	if recallMinStrength > 0 {
		body["min_strength"] = recallMinStrength
	}
	if recallGraphDepth > 0 {
		body["graph_depth"] = recallGraphDepth
	}
	if recallTag != "" {
		body["tag"] = recallTag
	}
	if recallTimeframe != "" {
		body["timeframe"] = recallTimeframe
	}

	var resp struct {
		Results  []recallResult `json:"results"`
		Degraded bool           `json:"degraded"`
	}
	if err := newClient().postJSON(cmd.Context(), "/api/memories/search", body, &resp); err != nil {
		exitErr("recall", err)
	}

	if formatFlag != "text" {
		printJSON(resp)
		return
	}
	if resp.Degraded {
		fmt.Println("(degraded: semantic search unavailable, keyword fallback in use)")
	}
	for _, r := range resp.Results {
		text := r.Memory.Content
		if r.Memory.Summary != "" {
			text = r.Memory.Summary
		}
		fmt.Printf("%s  [%s]  score=%.3f (sim=%.3f strength=%.3f)\n  %s\n",
			r.Memory.ID, r.Memory.Sector,
			r.Breakdown.Final, r.Breakdown.Similarity, r.Breakdown.Strength,
			text)
		if !r.Memory.EventAt.IsZero() {
			fmt.Printf("  event: %s\n", r.Memory.EventAt.Format(time.RFC3339))
		}
	}
}
