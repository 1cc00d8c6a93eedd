package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dcwatch/internal/logging"

	"github.com/jonboulle/clockwork"
)

// Backup writes each entry to <dir>/report-<timestamp>.json.
type Backup struct {
	dir   string
	clock clockwork.Clock
}

// NewBackup creates a Backup under dir. A nil clock uses the real clock.
func NewBackup(dir string, clock clockwork.Clock) *Backup {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Backup{dir: dir, clock: clock}
}

type backupFile struct {
	Timestamp time.Time `json:"timestamp"`
	JumpURL   string    `json:"jumpUrl,omitempty"`
	Entry
}

// fileStamp renders t the way report file names expect: ISO-8601 with
// ':' and '.' replaced so the name is portable.
func fileStamp(t time.Time) string {
	return strings.NewReplacer(":", "-", ".", "-").Replace(t.UTC().Format("2006-01-02T15:04:05.000Z"))
}

// Report implements Reporter.
func (b *Backup) Report(_ context.Context, e Entry) error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	now := b.clock.Now()
	data, err := json.MarshalIndent(backupFile{
		Timestamp: now.UTC(),
		JumpURL:   e.JumpURL(),
		Entry:     e,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	path := filepath.Join(b.dir, "report-"+fileStamp(now)+".json")
	if _, err := os.Stat(path); err == nil {
		path = filepath.Join(b.dir, fmt.Sprintf("report-%s-%s.json", fileStamp(now), e.Profile.MessageID))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", describe(e), err)
	}
	logging.Report("backup report saved: %s", path)
	return nil
}
