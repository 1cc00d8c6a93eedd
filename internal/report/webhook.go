package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dcwatch/internal/discord"
	"dcwatch/internal/logging"

	"github.com/codeGROOVE-dev/retry"
)

// maxMessageLen keeps each webhook message under the 2000 character limit.
const maxMessageLen = 1900

// WebhookOptions configures a Webhook.
type WebhookOptions struct {
	URL      string
	Username string
	Client   *http.Client
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration
}

// Webhook posts a profile notification to a chat webhook. Entries without a
// user id are skipped.
type Webhook struct {
	opts WebhookOptions
}

// NewWebhook creates a Webhook.
func NewWebhook(opts WebhookOptions) *Webhook {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Attempts == 0 {
		opts.Attempts = 5
	}
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	return &Webhook{opts: opts}
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("webhook returned HTTP %d: %s", e.code, e.body)
}

// Report implements Reporter.
func (w *Webhook) Report(ctx context.Context, e Entry) error {
	if !e.Profile.HasUserID() {
		logging.ReportWarn("skipping webhook for %s: user id not extracted", e.Profile.DisplayName)
		return nil
	}
	for i, chunk := range chunkText(FormatMessage(e), maxMessageLen) {
		if err := w.post(ctx, chunk); err != nil {
			return fmt.Errorf("webhook part %d for %s: %w", i+1, describe(e), err)
		}
	}
	logging.Report("webhook report delivered for %s", describe(e))
	return nil
}

func (w *Webhook) post(ctx context.Context, content string) error {
	payload := map[string]string{"content": content}
	if w.opts.Username != "" {
		payload["username"] = w.opts.Username
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.opts.URL, bytes.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := w.opts.Client.Do(req)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					logging.ReportWarn("close webhook response: %v", closeErr)
				}
			}()

			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			serr := &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(snippet))}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return serr
			}
			return retry.Unrecoverable(serr)
		},
		retry.Attempts(w.opts.Attempts),
		retry.Delay(w.opts.Delay),
		retry.MaxDelay(w.opts.MaxDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logging.ReportWarn("webhook attempt %d failed: %v", n+1, err)
		}),
	)
}

// FormatMessage renders the notification text for e.
func FormatMessage(e Entry) string {
	p := e.Profile
	var b strings.Builder
	b.WriteString("**NEW PROFILE DETECTED**\n")
	fmt.Fprintf(&b, "*%s*\n\n", p.ExtractedAt.UTC().Format(time.RFC1123))

	if jump := e.JumpURL(); jump != "" {
		fmt.Fprintf(&b, "**Source Location**\n[Jump to Message](%s)\n\n", jump)
	}

	if !p.HasUserID() {
		b.WriteString("**User ID not extracted**\n")
		return b.String()
	}

	fmt.Fprintf(&b, "**Display Name**\n%s\n\n", fallback(p.DisplayName, "N/A"))
	fmt.Fprintf(&b, "**User ID**\n`%s`\n\n", *p.UserID)
	if link := discord.UserURL(*p.UserID); link != "" {
		fmt.Fprintf(&b, "**Quick Actions**\n[View Profile](<%s>)\n\n", link)
	}
	fmt.Fprintf(&b, "**Username**\n%s\n", fallback(p.Username, "N/A"))
	if e.ReplyTo != nil && e.ReplyTo.AuthorName != "" {
		fmt.Fprintf(&b, "\n**Replying to** @%s\n", e.ReplyTo.AuthorName)
	}
	if e.ScreenshotPath != "" {
		fmt.Fprintf(&b, "\n**Screenshot** `%s`\n", e.ScreenshotPath)
	}
	return b.String()
}

// chunkText splits text on line boundaries into pieces of at most max
// characters. A single line longer than max is split hard.
func chunkText(text string, max int) []string {
	if len(text) <= max {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}
	for _, line := range strings.Split(text, "\n") {
		for len(line) > max {
			flush()
			chunks = append(chunks, line[:max])
			line = line[max:]
		}
		if cur.Len()+len(line)+1 > max {
			flush()
		}
		cur.WriteString(line)
		cur.WriteString("\n")
	}
	flush()
	return chunks
}
