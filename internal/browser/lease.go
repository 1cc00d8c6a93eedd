package browser

import (
	"context"
	"fmt"
	"sync"

	"dcwatch/internal/logging"

	"github.com/go-rod/rod"
)

// PageLease hands out one page of the persistent browser and reuses it
// across calls. A page that was closed underneath the lease is replaced on
// the next Acquire.
type PageLease struct {
	sessions *SessionManager

	mu   sync.Mutex
	page *rod.Page
}

// NewPageLease creates a lease over the persistent browser of sessions.
func NewPageLease(sessions *SessionManager) *PageLease {
	return &PageLease{sessions: sessions}
}

// Acquire returns the held page, opening a new one when none is held or the
// held one is gone.
func (l *PageLease) Acquire(ctx context.Context) (*rod.Page, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.page != nil {
		if _, err := l.page.Info(); err == nil {
			return l.page, nil
		}
		logging.BrowserDebug("leased page is gone, opening a new one")
		l.page = nil
	}

	page, err := l.sessions.NewPage(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("open worker page: %w", err)
	}
	l.page = page
	logging.BrowserDebug("worker page opened")
	return page, nil
}

// Held reports whether a page is currently held.
func (l *PageLease) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.page != nil
}

// Release closes the held page, if any.
func (l *PageLease) Release(ctx context.Context) error {
	l.mu.Lock()
	page := l.page
	l.page = nil
	l.mu.Unlock()

	if page == nil {
		return nil
	}
	if err := page.Close(); err != nil {
		return fmt.Errorf("close worker page: %w", err)
	}
	logging.BrowserDebug("worker page closed")
	return nil
}
