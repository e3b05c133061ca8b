package server

import (
	"time"

	"github.com/engramlabs/engram/internal/engine"
	"github.com/engramlabs/engram/pkg/types"
)

// storeRequest is the body of POST /api/memories.
type storeRequest struct {
	UserID     string     `json:"user_id"`
	Content    string     `json:"content"`
	Sector     string     `json:"sector,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	SessionKey string     `json:"session_key,omitempty"`
	EventAt    *time.Time `json:"event_at,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

// storeResponse carries the id of the stored (or reinforced) memory.
type storeResponse struct {
	ID string `json:"id"`
}

// searchRequest is the body of POST /api/memories/search.
type searchRequest struct {
	UserID      string   `json:"user_id"`
	Query       string   `json:"query,omitempty"`
	Limit       int      `json:"limit,omitempty"`
	Sectors     []string `json:"sectors,omitempty"`
	MinStrength float64  `json:"min_strength,omitempty"`
	GraphDepth  int      `json:"graph_depth,omitempty"`
	Tag         string   `json:"tag,omitempty"`
	Timeframe   string   `json:"timeframe,omitempty"`
}

// searchResponse is the body returned by POST /api/memories/search.
type searchResponse struct {
	Results  []engine.ScoredMemory `json:"results"`
	Degraded bool                  `json:"degraded"`
}

// ingestRequest is the body of POST /api/conversations.
type ingestRequest struct {
	UserID     string          `json:"user_id"`
	SessionKey string          `json:"session_key"`
	Messages   []types.Message `json:"messages"`
}

// decayResponse is the body returned by POST /api/maintenance/decay.
type decayResponse struct {
	Archived   int `json:"archived"`
	Reinforced int `json:"reinforced"`
}

// reflectResponse is the body returned by POST /api/maintenance/reflect.
type reflectResponse struct {
	Reflected  int `json:"reflected"`
	Compressed int `json:"compressed"`
}

// mergeResponse is the body returned by POST /api/maintenance/merge.
type mergeResponse struct {
	Merged int `json:"merged"`
}

// exportResponse wraps a user export with the snapshot file it was written
// to, when snapshots are enabled.
type exportResponse struct {
	Snapshot string        `json:"snapshot,omitempty"`
	Export   *types.Export `json:"export"`
}

// healthResponse is the body of GET /api/health.
type healthResponse struct {
	Status   string `json:"status"`
	Degraded bool   `json:"degraded"`
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
}

func (r searchRequest) sectors() []types.Sector {
	if len(r.Sectors) == 0 {
		return nil
	}
	out := make([]types.Sector, 0, len(r.Sectors))
	for _, s := range r.Sectors {
		out = append(out, types.Sector(s))
	}
	return out
}
