package types

// Profile is the user snapshot handed to the agent loop before a turn.
// Static and Dynamic are disjoint: a fact surfaced as stable background is
// not repeated in the recent slice.
type Profile struct {
	// Static holds stable background facts: high-strength, frequently
	// recalled factual/semantic memories.
	Static []string `json:"static"`

	// Dynamic holds recent high-strength non-episodic memories from the
	// last 24 hours that Static does not already cover.
	Dynamic []string `json:"dynamic"`

	// Memories holds query-specific recall results when a query was given.
	Memories []string `json:"memories"`
}
