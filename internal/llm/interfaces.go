// Package llm provides the model-backed collaborators of the engine:
// embedding generation, entity extraction, and text completion for
// reflection. All providers speak plain HTTP and are wrapped with circuit
// breakers so a dead model service degrades recall instead of breaking it.
package llm

import (
	"context"

	"github.com/engramlabs/engram/pkg/types"
)

// TextGenerator is the interface for LLM text completion.
// All prompts use single-string completion style (not chat).
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}

// Embedder turns text into vectors for the similarity index.
type Embedder interface {
	// EmbedOne embeds a single text.
	EmbedOne(ctx context.Context, text string) ([]float32, error)

	// Embed embeds a batch of texts, preserving order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	GetModel() string
}

// EntityExtractor pulls typed entity mentions out of memory content.
type EntityExtractor interface {
	Extract(ctx context.Context, content string) ([]types.EntityMention, error)
}
