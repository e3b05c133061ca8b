package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/engramlabs/engram/pkg/types"
)

// MemoryBuffer is the default in-process buffer: a capped slice of messages
// per session key. Sessions idle past the TTL are dropped lazily on the
// next access.
type MemoryBuffer struct {
	mu       sync.RWMutex
	sessions map[string]*sessionWindow
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

type sessionWindow struct {
	messages []types.Message
	touched  time.Time
}

// NewMemoryBuffer creates an in-memory buffer keeping up to capacity
// messages per session (default 50) for at most ttl of inactivity
// (default 1h).
func NewMemoryBuffer(capacity int, ttl time.Duration) *MemoryBuffer {
	if capacity <= 0 {
		capacity = 50
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryBuffer{
		sessions: make(map[string]*sessionWindow),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

var _ Buffer = (*MemoryBuffer)(nil)

// Append records messages at the end of the session's history.
func (b *MemoryBuffer) Append(ctx context.Context, sessionKey string, msgs ...types.Message) error {
	if sessionKey == "" || len(msgs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.evictExpired()

	window := b.sessions[sessionKey]
	if window == nil {
		window = &sessionWindow{}
		b.sessions[sessionKey] = window
	}

	window.messages = append(window.messages, msgs...)
	if overflow := len(window.messages) - b.capacity; overflow > 0 {
		window.messages = append([]types.Message(nil), window.messages[overflow:]...)
	}
	window.touched = b.now()
	return nil
}

// Recent returns up to limit of the newest messages, oldest first.
func (b *MemoryBuffer) Recent(ctx context.Context, sessionKey string, limit int) ([]types.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	window := b.sessions[sessionKey]
	if window == nil || b.expired(window) {
		return nil, nil
	}

	msgs := window.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]types.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Search returns messages containing the query, newest first.
func (b *MemoryBuffer) Search(ctx context.Context, sessionKey, query string, limit int) ([]types.Message, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	window := b.sessions[sessionKey]
	if window == nil || b.expired(window) {
		return nil, nil
	}

	var out []types.Message
	for i := len(window.messages) - 1; i >= 0; i-- {
		msg := window.messages[i]
		if strings.Contains(strings.ToLower(msg.Content), query) {
			out = append(out, msg)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (b *MemoryBuffer) expired(w *sessionWindow) bool {
	return b.now().Sub(w.touched) > b.ttl
}

// evictExpired drops idle sessions. Called with the write lock held.
func (b *MemoryBuffer) evictExpired() {
	for key, window := range b.sessions {
		if b.expired(window) {
			delete(b.sessions, key)
		}
	}
}
