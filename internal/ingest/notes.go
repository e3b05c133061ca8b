package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/engramlabs/engram/internal/engine"
	"github.com/engramlabs/engram/internal/logging"
	"github.com/engramlabs/engram/pkg/types"
)

// NoteSink stores imported notes; the memory engine satisfies it.
type NoteSink interface {
	StoreRich(ctx context.Context, userID, content string, opts engine.StoreOptions) (string, error)
}

// NotesReport summarizes one import run.
type NotesReport struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// NotesImporter walks a directory of markdown files and stores each note
// as a semantic memory. Tags come from YAML front-matter and inline
// #hashtags; a front-matter date becomes the memory's event time.
type NotesImporter struct {
	sink NoteSink
	log  *logrus.Entry
}

// NewNotesImporter creates an importer feeding the given sink.
func NewNotesImporter(sink NoteSink) *NotesImporter {
	return &NotesImporter{
		sink: sink,
		log:  logging.Component("notes"),
	}
}

// ImportDir imports every .md file under dir for the user. Unreadable or
// empty files are counted and skipped; store failures are counted and do
// not stop the walk.
func (ni *NotesImporter) ImportDir(ctx context.Context, dir, userID string) (NotesReport, error) {
	var report NotesReport

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			ni.log.WithError(err).WithField("path", path).Warn("note unreadable, skipped")
			report.Skipped++
			return nil
		}

		note := parseNote(string(data), filepath.Base(path))
		if note.content == "" {
			report.Skipped++
			return nil
		}

		opts := engine.StoreOptions{
			Sector: types.SectorSemantic,
			Tags:   note.tags,
		}
		if !note.at.IsZero() {
			opts.EventAt = note.at
		}

		if _, err := ni.sink.StoreRich(ctx, userID, note.content, opts); err != nil {
			ni.log.WithError(err).WithField("path", path).Warn("note store failed")
			report.Failed++
			return nil
		}
		report.Imported++
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("notes: import of %s failed: %w", dir, err)
	}

	ni.log.WithFields(logrus.Fields{
		"dir":      dir,
		"imported": report.Imported,
		"skipped":  report.Skipped,
		"failed":   report.Failed,
	}).Info("notes import finished")
	return report, nil
}

type parsedNote struct {
	content string
	tags    []string
	at      time.Time
}

// parseNote splits optional YAML front-matter from the body, merges
// front-matter tags with inline #hashtags, and prefixes the title derived
// from the filename when the body has no heading of its own.
func parseNote(text, filename string) parsedNote {
	fm, body := splitFrontmatter(text)

	tags := frontmatterTags(fm)
	tags = mergeTags(tags, inlineTags(body))

	body = strings.TrimSpace(body)
	if body != "" && !strings.HasPrefix(body, "# ") {
		if title := titleFromFilename(filename); title != "" {
			body = "# " + title + "\n\n" + body
		}
	}

	return parsedNote{
		content: body,
		tags:    tags,
		at:      frontmatterDate(fm),
	}
}

// splitFrontmatter separates YAML front-matter (between --- delimiters)
// from the markdown body. Bad YAML is treated as body text.
func splitFrontmatter(text string) (map[string]any, string) {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return nil, text
	}

	closeIdx := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			closeIdx = i
			break
		}
	}
	if closeIdx == -1 {
		return nil, text
	}

	fm := make(map[string]any)
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:closeIdx], "\n")), &fm); err != nil {
		return nil, text
	}
	return fm, strings.Join(lines[closeIdx+1:], "\n")
}

// frontmatterTags reads tags in either list or comma-separated string form.
func frontmatterTags(fm map[string]any) []string {
	raw, ok := fm["tags"]
	if !ok {
		return nil
	}

	switch v := raw.(type) {
	case []any:
		var tags []string
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				tags = append(tags, s)
			}
		}
		return tags
	case string:
		var tags []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
		return tags
	}
	return nil
}

// frontmatterDate reads the first parseable date-ish front-matter field.
func frontmatterDate(fm map[string]any) time.Time {
	layouts := []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

	for _, key := range []string{"date", "created", "created_at"} {
		raw, ok := fm[key]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case time.Time:
			return v
		case string:
			for _, layout := range layouts {
				if t, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
					return t
				}
			}
		}
	}
	return time.Time{}
}

// inlineTagRe finds #hashtag patterns in body text.
var inlineTagRe = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)

func inlineTags(body string) []string {
	matches := inlineTagRe.FindAllStringSubmatch(body, -1)
	seen := make(map[string]bool)
	var tags []string
	for _, m := range matches {
		lower := strings.ToLower(m[1])
		if !seen[lower] {
			seen[lower] = true
			tags = append(tags, m[1])
		}
	}
	return tags
}

// mergeTags combines two tag slices deduplicating by lowercase value.
func mergeTags(a, b []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tag := range append(a, b...) {
		lower := strings.ToLower(tag)
		if !seen[lower] {
			seen[lower] = true
			out = append(out, tag)
		}
	}
	return out
}

// titleFromFilename derives a readable title from the file name.
func titleFromFilename(name string) string {
	title := strings.TrimSuffix(name, filepath.Ext(name))
	title = strings.ReplaceAll(title, "-", " ")
	title = strings.ReplaceAll(title, "_", " ")
	return strings.TrimSpace(title)
}
