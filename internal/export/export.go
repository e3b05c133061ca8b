// Package export writes JSON snapshots of a user's memory space to disk
// and prunes old snapshots by retention count.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/engramlabs/engram/internal/logging"
	"github.com/engramlabs/engram/pkg/types"
)

// Source produces the export payload; the memory engine satisfies it.
type Source interface {
	ExportMemories(ctx context.Context, userID string) (*types.Export, error)
}

// Service writes timestamped snapshot files under one directory,
// `<userID>_<RFC3339 timestamp>.json`, keeping the newest retention files
// per user.
type Service struct {
	source    Source
	dir       string
	retention int
	now       func() time.Time
	log       *logrus.Entry
}

// New creates an export service writing to dir. Retention below 1 keeps a
// single snapshot per user.
func New(source Source, dir string, retention int) *Service {
	if retention < 1 {
		retention = 1
	}
	return &Service{
		source:    source,
		dir:       dir,
		retention: retention,
		now:       time.Now,
		log:       logging.Component("export"),
	}
}

// Snapshot exports the user's memory space, writes it to a new snapshot
// file, prunes old snapshots, and returns the file path with the payload.
func (s *Service) Snapshot(ctx context.Context, userID string) (string, *types.Export, error) {
	if userID == "" {
		return "", nil, fmt.Errorf("export: user id is required")
	}

	export, err := s.source.ExportMemories(ctx, userID)
	if err != nil {
		return "", nil, fmt.Errorf("export: failed to collect user %s: %w", userID, err)
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return "", nil, fmt.Errorf("export: failed to create %s: %w", s.dir, err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("export: failed to encode user %s: %w", userID, err)
	}

	name := fmt.Sprintf("%s_%s.json", sanitize(userID), s.now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", nil, fmt.Errorf("export: failed to write %s: %w", path, err)
	}

	if err := s.prune(userID); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("snapshot pruning failed")
	}

	s.log.WithFields(logrus.Fields{
		"user_id":  userID,
		"path":     path,
		"memories": len(export.Memories),
	}).Info("snapshot written")
	return path, export, nil
}

// List returns the user's snapshot paths, newest first.
func (s *Service) List(userID string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("export: failed to read %s: %w", s.dir, err)
	}

	prefix := sanitize(userID) + "_"
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasPrefix(entry.Name(), prefix) && strings.HasSuffix(entry.Name(), ".json") {
			paths = append(paths, filepath.Join(s.dir, entry.Name()))
		}
	}

	// Timestamps embed in the names, so lexical order is age order.
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	return paths, nil
}

// prune removes the user's snapshots beyond the retention count, oldest
// first.
func (s *Service) prune(userID string) error {
	paths, err := s.List(userID)
	if err != nil {
		return err
	}

	var lastErr error
	for _, path := range paths[min(len(paths), s.retention):] {
		if err := os.Remove(path); err != nil {
			lastErr = err
		}
	}
	if lastErr != nil {
		return fmt.Errorf("export: failed to delete some snapshots: %w", lastErr)
	}
	return nil
}

// sanitize keeps user ids filesystem-safe in snapshot names.
func sanitize(userID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-':
			return r
		default:
			return '_'
		}
	}, userID)
}
