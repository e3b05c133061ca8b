package llm

import (
	"context"
	"fmt"

	"github.com/engramlabs/engram/pkg/types"
)

// Extractor implements EntityExtractor on top of any TextGenerator.
type Extractor struct {
	gen TextGenerator
}

var _ EntityExtractor = (*Extractor)(nil)

// NewExtractor wraps a text generator as an entity extractor.
func NewExtractor(gen TextGenerator) *Extractor {
	return &Extractor{gen: gen}
}

// Extract pulls typed entity mentions out of memory content.
func (e *Extractor) Extract(ctx context.Context, content string) ([]types.EntityMention, error) {
	response, err := e.gen.Complete(ctx, EntityExtractionPrompt(content))
	if err != nil {
		return nil, fmt.Errorf("entity extraction failed: %w", err)
	}

	mentions, err := ParseEntityMentions(response)
	if err != nil {
		return nil, fmt.Errorf("entity extraction returned unparseable output: %w", err)
	}
	return mentions, nil
}
