// Package extract opens a message author's profile panel and reads who they
// are. The protocol is written against Driver so it can run on a real page or
// on a scripted fake.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dcwatch/internal/discord"
	"dcwatch/internal/logging"

	"github.com/jonboulle/clockwork"
)

var (
	// ErrAuthorNotFound means the author's name element is not in the message row.
	ErrAuthorNotFound = errors.New("extract: author not found in message")
	// ErrProfileTimeout means the profile panel did not open in time.
	ErrProfileTimeout = errors.New("extract: profile panel did not open")
	// ErrIdentifierUnavailable marks a profile whose numeric id could not be read.
	ErrIdentifierUnavailable = errors.New("extract: user id unavailable")
)

// Driver is the page surface the extraction protocol needs.
type Driver interface {
	CurrentURL(ctx context.Context) (string, error)
	Navigate(ctx context.Context, url string) error
	// Dismiss closes any open popout or menu.
	Dismiss(ctx context.Context) error
	// MessageReady reports whether the message row shows author and content.
	MessageReady(ctx context.Context, messageID, author string) (bool, error)
	// OpenAuthorProfile clicks the author name in the message row. It returns
	// ErrAuthorNotFound when the name is not there.
	OpenAuthorProfile(ctx context.Context, messageID, author string) error
	// WaitProfile waits for the profile panel; ErrProfileTimeout on expiry.
	WaitProfile(ctx context.Context) error
	ProfileHTML(ctx context.Context) (string, error)
	// CopyUserID runs the panel's copy-id action and returns what it yields.
	CopyUserID(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// Target identifies the message whose author is extracted.
type Target struct {
	AuthorName  string
	ChannelID   string
	MessageID   string
	ServerID    string
	ChannelLink string
}

// Options tunes an Extractor.
type Options struct {
	// CopyID uses the panel's copy-id menu before falling back to markup.
	CopyID bool
	// Screenshot captures the open profile panel.
	Screenshot bool
	Clock      clockwork.Clock
}

// Result is a successful extraction.
type Result struct {
	Profile    discord.Profile
	Screenshot []byte
	// IDErr is set when the profile was read without an identifier.
	IDErr error
}

// Extractor runs the profile extraction protocol.
type Extractor struct {
	opts Options
}

// New creates an Extractor.
func New(opts Options) *Extractor {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Extractor{opts: opts}
}

// Extract opens the profile of t's author on d and reads it. Locating the
// author or the panel failing is an error; failing to read the numeric id is
// not, the profile is returned with a nil UserID.
func (e *Extractor) Extract(ctx context.Context, d Driver, t Target) (Result, error) {
	name := strings.TrimSpace(t.AuthorName)
	if name == "" || t.MessageID == "" {
		return Result{}, errors.New("extract: author and message id required")
	}
	l := logging.Get(logging.CategoryExtract).With("author", name, "message", t.MessageID)

	serverID, channelID := e.resolveChannel(ctx, d, t)
	if channelID == "" {
		return Result{}, fmt.Errorf("extract: no channel for message %s", t.MessageID)
	}
	channelURL := discord.ChannelURL(serverID, channelID)

	if err := d.Dismiss(ctx); err != nil {
		l.Debug("dismiss before extraction: %v", err)
	}

	current, _ := d.CurrentURL(ctx)
	if !strings.Contains(current, channelID) {
		if err := d.Navigate(ctx, channelURL); err != nil {
			return Result{}, fmt.Errorf("open channel %s: %w", channelURL, err)
		}
	}

	ready, err := d.MessageReady(ctx, t.MessageID, name)
	if err != nil {
		l.Debug("readiness probe failed: %v", err)
	}
	if !ready {
		deepLink := discord.MessageURL(serverID, channelID, t.MessageID)
		l.Info("message content missing, jumping to %s", deepLink)
		if err := d.Navigate(ctx, deepLink); err != nil {
			return Result{}, fmt.Errorf("open message %s: %w", deepLink, err)
		}
	}

	if err := d.OpenAuthorProfile(ctx, t.MessageID, name); err != nil {
		return Result{}, fmt.Errorf("open profile of %q: %w", name, err)
	}
	if err := d.WaitProfile(ctx); err != nil {
		return Result{}, fmt.Errorf("profile of %q: %w", name, err)
	}

	var details discord.ProfileDetails
	if html, err := d.ProfileHTML(ctx); err != nil {
		l.Warn("read profile panel: %v", err)
	} else if details, err = discord.ParseProfile(html); err != nil {
		l.Warn("parse profile panel: %v", err)
	}

	res := Result{Profile: discord.Profile{
		DisplayName: name,
		Username:    details.Handle,
		ChannelID:   channelID,
		MessageID:   t.MessageID,
		ServerID:    serverID,
		ExtractedAt: e.opts.Clock.Now().UTC(),
	}}

	if e.opts.Screenshot {
		if png, err := d.Screenshot(ctx); err != nil {
			l.Warn("profile screenshot: %v", err)
		} else {
			res.Screenshot = png
		}
	}

	id := e.resolveID(ctx, d, details, l)
	if id != "" {
		res.Profile.UserID = &id
	} else {
		res.IDErr = ErrIdentifierUnavailable
		l.Warn("profile read without user id")
	}

	if err := d.Dismiss(ctx); err != nil {
		l.Debug("dismiss after extraction: %v", err)
	}
	l.Info("profile extracted: handle=%q id=%s", res.Profile.Username, res.Profile.UserIDOr("unknown"))
	return res, nil
}

// resolveChannel prefers the task's channel link, then the page URL.
func (e *Extractor) resolveChannel(ctx context.Context, d Driver, t Target) (serverID, channelID string) {
	serverID, channelID = t.ServerID, t.ChannelID
	if link, err := discord.ParseChannelLink(t.ChannelLink); err == nil {
		if serverID == "" {
			serverID = link.ServerID
		}
		if channelID == "" {
			channelID = link.ChannelID
		}
	}
	if serverID == "" || channelID == "" {
		if current, err := d.CurrentURL(ctx); err == nil {
			if link, err := discord.ParseChannelLink(current); err == nil {
				if serverID == "" {
					serverID = link.ServerID
				}
				if channelID == "" {
					channelID = link.ChannelID
				}
			}
		}
	}
	if serverID == "" {
		serverID = discord.DirectMessages
	}
	return serverID, channelID
}

// resolveID tries the copy-id action, then identifiers in the panel markup.
func (e *Extractor) resolveID(ctx context.Context, d Driver, details discord.ProfileDetails, l *logging.Logger) string {
	if e.opts.CopyID {
		copied, err := d.CopyUserID(ctx)
		copied = strings.TrimSpace(copied)
		switch {
		case err != nil:
			l.Debug("copy user id: %v", err)
		case discord.IsSnowflake(copied):
			return copied
		case copied != "":
			l.Debug("copy user id returned %q, ignoring", copied)
		}
	}
	if discord.IsSnowflake(details.UserID) {
		return details.UserID
	}
	return ""
}
