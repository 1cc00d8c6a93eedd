package report

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dcwatch/internal/logging"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const archiveSchema = `
CREATE TABLE IF NOT EXISTS profiles (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	display_name TEXT NOT NULL,
	username     TEXT NOT NULL DEFAULT '',
	user_id      TEXT,
	server_id    TEXT NOT NULL DEFAULT '',
	channel_id   TEXT NOT NULL DEFAULT '',
	message_id   TEXT NOT NULL DEFAULT '',
	jump_url     TEXT NOT NULL DEFAULT '',
	screenshot   TEXT NOT NULL DEFAULT '',
	reply_to     TEXT NOT NULL DEFAULT '',
	extracted_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_profiles_user_id ON profiles(user_id);
CREATE INDEX IF NOT EXISTS idx_profiles_extracted_at ON profiles(extracted_at);
`

// Record is one archived profile row.
type Record struct {
	ID          int64          `db:"id" json:"id"`
	DisplayName string         `db:"display_name" json:"displayName"`
	Username    string         `db:"username" json:"username"`
	UserID      sql.NullString `db:"user_id" json:"-"`
	ServerID    string         `db:"server_id" json:"serverId"`
	ChannelID   string         `db:"channel_id" json:"channelId"`
	MessageID   string         `db:"message_id" json:"messageId"`
	JumpURL     string         `db:"jump_url" json:"jumpUrl"`
	Screenshot  string         `db:"screenshot" json:"screenshot,omitempty"`
	ReplyTo     string         `db:"reply_to" json:"replyTo,omitempty"`
	ExtractedAt time.Time      `db:"extracted_at" json:"extractedAt"`
}

// Archive stores every reported profile in a sqlite database.
type Archive struct {
	db *sqlx.DB
}

// OpenArchive opens (and creates if needed) the archive at path.
func OpenArchive(path string) (*Archive, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create archive dir: %w", err)
		}
	}
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(archiveSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create archive schema: %w", err)
	}
	return &Archive{db: db}, nil
}

// Report implements Reporter.
func (a *Archive) Report(ctx context.Context, e Entry) error {
	p := e.Profile
	rec := Record{
		DisplayName: p.DisplayName,
		Username:    p.Username,
		ServerID:    p.ServerID,
		ChannelID:   p.ChannelID,
		MessageID:   p.MessageID,
		JumpURL:     e.JumpURL(),
		Screenshot:  e.ScreenshotPath,
		ExtractedAt: p.ExtractedAt.UTC(),
	}
	if p.HasUserID() {
		rec.UserID = sql.NullString{String: *p.UserID, Valid: true}
	}
	if e.ReplyTo != nil {
		rec.ReplyTo = e.ReplyTo.AuthorName
	}

	_, err := a.db.NamedExecContext(ctx, `
		INSERT INTO profiles (display_name, username, user_id, server_id, channel_id, message_id, jump_url, screenshot, reply_to, extracted_at)
		VALUES (:display_name, :username, :user_id, :server_id, :channel_id, :message_id, :jump_url, :screenshot, :reply_to, :extracted_at)`, rec)
	if err != nil {
		return fmt.Errorf("archive %s: %w", describe(e), err)
	}
	logging.Get(logging.CategoryReport).Debug("archived %s", describe(e))
	return nil
}

// List returns the most recent records, newest first. A non-positive limit
// returns everything.
func (a *Archive) List(ctx context.Context, limit int) ([]Record, error) {
	query := `SELECT * FROM profiles ORDER BY extracted_at DESC, id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	var records []Record
	if err := a.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("list archive: %w", err)
	}
	return records, nil
}

// Count returns the number of archived profiles.
func (a *Archive) Count(ctx context.Context) (int, error) {
	var n int
	if err := a.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM profiles`); err != nil {
		return 0, fmt.Errorf("count archive: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}
