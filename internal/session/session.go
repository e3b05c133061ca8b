// Package session holds recent conversation turns per session key. The
// engine consults the buffer for degraded-mode recall (when the vector
// index is unavailable, recent conversation is the only searchable context)
// and conversation ingestion appends to it.
package session

import (
	"context"

	"github.com/engramlabs/engram/pkg/types"
)

// Buffer is the conversation history store. Implementations keep a bounded
// window of recent messages per session.
type Buffer interface {
	// Append records messages at the end of the session's history,
	// evicting the oldest turns past the buffer's capacity.
	Append(ctx context.Context, sessionKey string, msgs ...types.Message) error

	// Recent returns up to limit of the newest messages, oldest first.
	Recent(ctx context.Context, sessionKey string, limit int) ([]types.Message, error)

	// Search returns up to limit messages whose content contains the query
	// (case-insensitive), newest first.
	Search(ctx context.Context, sessionKey, query string, limit int) ([]types.Message, error)
}
