// Package screenshot stores profile captures on disk.
package screenshot

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"dcwatch/internal/logging"

	"github.com/jonboulle/clockwork"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Store writes PNG captures into a directory.
type Store struct {
	dir   string
	clock clockwork.Clock
}

// New creates a Store under dir. A nil clock uses the real clock.
func New(dir string, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{dir: dir, clock: clock}
}

// Dir returns the capture directory.
func (s *Store) Dir() string { return s.dir }

// SafeName replaces every character that is not a letter, digit, '_' or '-'.
func SafeName(label string) string {
	return unsafeChars.ReplaceAllString(label, "_")
}

// Save writes png as profile-<label>-<timestamp>.png and returns the path.
func (s *Store) Save(label string, png []byte) (string, error) {
	if len(png) == 0 {
		return "", fmt.Errorf("empty screenshot for %s", label)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(s.clock.Now().UTC().Format("2006-01-02T15:04:05.000Z"))
	path := filepath.Join(s.dir, fmt.Sprintf("profile-%s-%s.png", SafeName(label), stamp))
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	logging.ExtractDebug("profile screenshot saved: %s", path)
	return path, nil
}

// Prune removes captures older than maxAge and returns how many were removed.
func (s *Store) Prune(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read screenshot dir: %w", err)
	}
	cutoff := s.clock.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "profile-") || filepath.Ext(e.Name()) != ".png" {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
