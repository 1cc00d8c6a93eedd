// Package report delivers extracted profiles: JSON backups on disk, a sqlite
// archive, and a chat webhook notification.
package report

import (
	"context"
	"errors"
	"fmt"

	"dcwatch/internal/discord"
	"dcwatch/internal/logging"
)

// Entry is one extracted profile with its context.
type Entry struct {
	Profile        discord.Profile   `json:"profile"`
	ScreenshotPath string            `json:"screenshot,omitempty"`
	ChannelLink    string            `json:"channelLink,omitempty"`
	ReplyTo        *discord.ReplyRef `json:"replyTo,omitempty"`
}

// JumpURL links to the message the profile was found in.
func (e Entry) JumpURL() string {
	p := e.Profile
	if p.ChannelID == "" {
		return e.ChannelLink
	}
	if p.MessageID == "" {
		return discord.ChannelURL(p.ServerID, p.ChannelID)
	}
	return discord.MessageURL(p.ServerID, p.ChannelID, p.MessageID)
}

// Reporter receives extracted profiles.
type Reporter interface {
	Report(ctx context.Context, e Entry) error
}

// Multi fans an entry out to every reporter. All reporters run even when
// one fails; the errors are joined.
type Multi []Reporter

// Report implements Reporter.
func (m Multi) Report(ctx context.Context, e Entry) error {
	var errs []error
	for _, r := range m {
		if err := r.Report(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes entries to the report log category.
type Log struct{}

// Report implements Reporter.
func (Log) Report(_ context.Context, e Entry) error {
	p := e.Profile
	logging.Get(logging.CategoryReport).
		With("author", p.DisplayName, "user_id", p.UserIDOr("unknown")).
		Info("profile %s (%s) found at %s", p.DisplayName, fallback(p.Username, "N/A"), e.JumpURL())
	return nil
}

func fallback(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func describe(e Entry) string {
	return fmt.Sprintf("%s/%s", e.Profile.DisplayName, e.Profile.UserIDOr("unknown"))
}
