// Package worker runs queued extraction tasks against the shared browser and
// hands the results to the reporters.
package worker

import (
	"context"
	"fmt"
	"time"

	"dcwatch/internal/browser"
	"dcwatch/internal/discord"
	"dcwatch/internal/extract"
	"dcwatch/internal/logging"
	"dcwatch/internal/queue"
	"dcwatch/internal/report"
	"dcwatch/internal/screenshot"
)

// Drivers hands out the page the worker extracts on.
type Drivers interface {
	Acquire(ctx context.Context) (extract.Driver, error)
	Release(ctx context.Context) error
}

// LeaseDrivers adapts a browser.PageLease to Drivers.
type LeaseDrivers struct {
	Lease  *browser.PageLease
	Config extract.DriverConfig
}

// Acquire implements Drivers.
func (l LeaseDrivers) Acquire(ctx context.Context) (extract.Driver, error) {
	page, err := l.Lease.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return extract.NewPageDriver(page, l.Config), nil
}

// Release implements Drivers.
func (l LeaseDrivers) Release(ctx context.Context) error {
	return l.Lease.Release(ctx)
}

// Options configures a Worker.
type Options struct {
	Drivers     Drivers
	Extractor   *extract.Extractor
	Screenshots *screenshot.Store
	Reporter    report.Reporter
	TaskTimeout time.Duration
}

// Worker implements queue.Runner and queue.Releaser.
type Worker struct {
	opts Options
}

var (
	_ queue.Runner   = (*Worker)(nil)
	_ queue.Releaser = (*Worker)(nil)
)

// New creates a Worker.
func New(opts Options) *Worker {
	if opts.Extractor == nil {
		opts.Extractor = extract.New(extract.Options{CopyID: true})
	}
	if opts.Reporter == nil {
		opts.Reporter = report.Log{}
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 2 * time.Minute
	}
	return &Worker{opts: opts}
}

// Run implements queue.Runner. Reporter failures are logged and do not fail
// the task.
func (w *Worker) Run(ctx context.Context, task queue.Task) error {
	ctx, cancel := context.WithTimeout(ctx, w.opts.TaskTimeout)
	defer cancel()

	driver, err := w.opts.Drivers.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire page: %w", err)
	}

	res, err := w.opts.Extractor.Extract(ctx, driver, extract.Target{
		AuthorName:  task.AuthorName,
		ChannelID:   task.ChannelID,
		MessageID:   task.MessageID,
		ServerID:    task.ServerID,
		ChannelLink: task.ChannelLink,
	})
	if err != nil {
		return err
	}

	entry := report.Entry{
		Profile:     res.Profile,
		ChannelLink: task.ChannelLink,
	}
	if r := task.ReplyInfo; r != nil {
		entry.ReplyTo = &discord.ReplyRef{AuthorName: r.Username, MessageID: r.MessageID, ContentPreview: r.ContentPreview}
	}
	if w.opts.Screenshots != nil && len(res.Screenshot) > 0 {
		if path, err := w.opts.Screenshots.Save(res.Profile.DisplayName, res.Screenshot); err != nil {
			logging.ExtractWarn("save screenshot for %s: %v", task.AuthorName, err)
		} else {
			entry.ScreenshotPath = path
		}
	}

	if err := w.opts.Reporter.Report(ctx, entry); err != nil {
		logging.ReportWarn("report for %s failed: %v", task.AuthorName, err)
	}
	return nil
}

// Release implements queue.Releaser.
func (w *Worker) Release(ctx context.Context) error {
	return w.opts.Drivers.Release(ctx)
}
