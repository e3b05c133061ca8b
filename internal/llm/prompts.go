package llm

import (
	"fmt"
	"strings"
)

// EntityExtractionPrompt builds a strict JSON-only prompt that pulls typed
// entity mentions out of memory content. The strict framing matters: small
// local models drift into prose unless the output contract is hammered in.
func EntityExtractionPrompt(content string) string {
	return fmt.Sprintf(`TASK: Extract the entities mentioned in the text.
OUTPUT: ONLY a valid JSON array. NO markdown. NO code blocks. NO explanation.

ENTITY TYPES (ONLY these 5):
- person: an individual human
- place: a city, country, venue, or location
- topic: a subject, technology, or interest
- project: a named initiative or piece of work
- preference: something the speaker likes, dislikes, or chooses

RULES:
1. Response starts with [ and ends with ]
2. Each element is {"type":"...","name":"..."}
3. Types EXACTLY: person|place|topic|project|preference
4. Names are short noun phrases taken from the text
5. No duplicates, no empty names, no trailing commas
6. Return [] if there is nothing to extract

Example:
[{"type":"person","name":"Alice"},{"type":"topic","name":"rust"},{"type":"place","name":"Lisbon"}]

TEXT:
%s

JSON:`, content)
}

// ReflectionPrompt builds the prompt that compresses a batch of old
// episodic memories into a single reflective summary.
func ReflectionPrompt(contents []string) string {
	var batch strings.Builder
	for i, content := range contents {
		fmt.Fprintf(&batch, "%d. %s\n", i+1, content)
	}

	return fmt.Sprintf(`TASK: Compress these conversation memories into one short reflective summary.

RULES:
1. Keep concrete facts, names, preferences, and decisions
2. Drop greetings, filler, and repetition
3. Write 1-3 sentences of plain prose in third person
4. No markdown, no list, no preamble

MEMORIES:
%s
SUMMARY:`, batch.String())
}
