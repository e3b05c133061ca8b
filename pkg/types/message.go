package types

import "time"

// Message roles as they appear in conversation transcripts.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one conversational turn. The session buffer holds recent
// messages per session key, and conversation ingestion derives episodic
// memories from them.
type Message struct {
	Role    string    `json:"role"`    // user, assistant, or system
	Content string    `json:"content"` // Turn text
	At      time.Time `json:"at"`      // When the turn happened
}
