package monitor

import (
	"context"
	"time"

	"dcwatch/internal/browser"
	"dcwatch/internal/observer"

	"github.com/go-rod/rod"
)

// Channel is an opened channel view.
type Channel interface {
	observer.Source
	Close() error
}

// Opener opens a Channel for a channel link.
type Opener interface {
	Open(ctx context.Context, link string) (Channel, error)
}

// PageOpener opens each channel in its own tab of the persistent browser.
type PageOpener struct {
	Sessions         *browser.SessionManager
	ContainerTimeout time.Duration
}

type pageChannel struct {
	*observer.PageSource
	page *rod.Page
}

func (c pageChannel) Close() error { return c.page.Close() }

// Open implements Opener.
func (o PageOpener) Open(ctx context.Context, link string) (Channel, error) {
	page, err := o.Sessions.NewPage(ctx, link)
	if err != nil {
		return nil, err
	}
	return pageChannel{
		PageSource: observer.NewPageSource(page, o.ContainerTimeout),
		page:       page,
	}, nil
}
