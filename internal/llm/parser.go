package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/engramlabs/engram/pkg/types"
)

// mentionResponse is the raw shape of one extracted entity in the LLM's
// JSON output.
type mentionResponse struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// extractJSONArray extracts the first complete JSON array from a string
// that may contain extra text. LLMs add explanations and code fences
// around the JSON despite instructions; this strips all of it.
func extractJSONArray(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "[")
	if start == -1 {
		return text
	}

	depth := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			switch char {
			case '[':
				depth++
			case ']':
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	return text
}

// ParseEntityMentions parses the extraction response into typed mentions.
// Entries with unknown types or empty names are skipped rather than
// failing the batch; only malformed JSON is an error.
func ParseEntityMentions(response string) ([]types.EntityMention, error) {
	cleanJSON := extractJSONArray(response)

	var raw []mentionResponse
	if err := json.Unmarshal([]byte(cleanJSON), &raw); err != nil {
		// Some models wrap the array in an object anyway.
		var wrapped struct {
			Entities []mentionResponse `json:"entities"`
		}
		if err2 := json.Unmarshal([]byte(cleanJSON), &wrapped); err2 != nil || wrapped.Entities == nil {
			return nil, fmt.Errorf("failed to parse entity JSON: %w", err)
		}
		raw = wrapped.Entities
	}

	seen := make(map[string]bool)
	mentions := make([]types.EntityMention, 0, len(raw))
	for _, entry := range raw {
		name := strings.TrimSpace(entry.Name)
		entityType := types.EntityType(strings.ToLower(strings.TrimSpace(entry.Type)))

		if name == "" {
			continue
		}
		if !types.IsValidEntityType(entityType) {
			logrus.Debugf("llm: skipping mention %q with unknown type %q", name, entry.Type)
			continue
		}

		key := string(entityType) + "|" + strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true

		mentions = append(mentions, types.EntityMention{Type: entityType, Name: name})
	}
	return mentions, nil
}
