package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/engramlabs/engram/internal/storage"
	"github.com/engramlabs/engram/pkg/types"
)

// ingestContentLimit truncates runaway turns before they become episodic
// memories; the session buffer keeps the full text.
const ingestContentLimit = 2000

// IngestConversation records the messages in the session buffer and
// derives one episodic memory from the last user/assistant turn pair.
// Episodic inserts skip dedup, so ingesting the same window twice yields
// two rows — callers own at-most-once delivery if they need it.
func (s *Service) IngestConversation(ctx context.Context, sessionKey, userID string, messages []types.Message) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", storage.ErrInvalidInput)
	}
	if len(messages) == 0 {
		return nil
	}

	if s.sessions != nil && sessionKey != "" {
		if err := s.sessions.Append(ctx, sessionKey, messages...); err != nil {
			s.log.WithError(err).WithField("session_key", sessionKey).Warn("session buffer append failed")
		}
	}

	userTurn, assistantTurn := lastTurnPair(messages)
	if userTurn == nil {
		return nil
	}

	var summary strings.Builder
	summary.WriteString("User: ")
	summary.WriteString(truncate(userTurn.Content, ingestContentLimit))
	if assistantTurn != nil {
		summary.WriteString("\nAssistant: ")
		summary.WriteString(truncate(assistantTurn.Content, ingestContentLimit))
	}

	_, err := s.StoreRich(ctx, userID, summary.String(), StoreOptions{
		Sector:     types.SectorEpisodic,
		SessionKey: sessionKey,
		EventAt:    userTurn.At,
	})
	if err != nil {
		return fmt.Errorf("failed to store conversation memory: %w", err)
	}
	return nil
}

// lastTurnPair finds the most recent user message and the assistant reply
// that followed it, if any.
func lastTurnPair(messages []types.Message) (user, assistant *types.Message) {
	for i := len(messages) - 1; i >= 0; i-- {
		switch messages[i].Role {
		case types.RoleUser:
			if user == nil {
				user = &messages[i]
				return user, assistant
			}
		case types.RoleAssistant:
			if user == nil {
				assistant = &messages[i]
			}
		}
	}
	return nil, nil
}

func truncate(text string, limit int) string {
	text = strings.TrimSpace(text)
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "…"
}
