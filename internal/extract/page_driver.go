package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dcwatch/internal/discord"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
)

// DriverConfig holds the waits used by PageDriver.
type DriverConfig struct {
	NavigationTimeout time.Duration
	AuthorTimeout     time.Duration
	ProfileTimeout    time.Duration
	MenuTimeout       time.Duration
	ScrollSettle      time.Duration
	HoverSettle       time.Duration
	MenuSettle        time.Duration
	ClipboardWait     time.Duration
}

// DefaultDriverConfig returns the waits that work against the live client.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		NavigationTimeout: 45 * time.Second,
		AuthorTimeout:     5 * time.Second,
		ProfileTimeout:    8 * time.Second,
		MenuTimeout:       10 * time.Second,
		ScrollSettle:      time.Second,
		HoverSettle:       500 * time.Millisecond,
		MenuSettle:        800 * time.Millisecond,
		ClipboardWait:     500 * time.Millisecond,
	}
}

// PageDriver implements Driver on a rod page.
type PageDriver struct {
	page *rod.Page
	cfg  DriverConfig
}

// NewPageDriver wraps page.
func NewPageDriver(page *rod.Page, cfg DriverConfig) *PageDriver {
	return &PageDriver{page: page, cfg: cfg}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CurrentURL implements Driver.
func (d *PageDriver) CurrentURL(ctx context.Context) (string, error) {
	info, err := d.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

// Navigate implements Driver.
func (d *PageDriver) Navigate(ctx context.Context, url string) error {
	page := d.page.Context(ctx).Timeout(d.cfg.NavigationTimeout)
	defer page.CancelTimeout()
	if err := page.Navigate(url); err != nil {
		return err
	}
	return page.WaitLoad()
}

// Dismiss implements Driver.
func (d *PageDriver) Dismiss(ctx context.Context) error {
	return d.page.Keyboard.Press(input.Escape)
}

// MessageReady implements Driver.
func (d *PageDriver) MessageReady(ctx context.Context, messageID, author string) (bool, error) {
	res, err := d.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS: `
		(msgId, name) => {
			const row = document.querySelector('[data-list-item-id*="' + msgId + '"]');
			if (!row || row.innerText.includes('Loading')) return false;
			const user = Array.from(row.querySelectorAll('span[class*="username"]'))
				.find((el) => el.innerText.trim() === name);
			const content = row.querySelector('[class*="messageContent"]');
			return !!user && !!content && content.innerText.trim().length > 0;
		}
		`,
		JSArgs:  []interface{}{messageID, author},
		ByValue: true,
	})
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

// OpenAuthorProfile implements Driver.
func (d *PageDriver) OpenAuthorProfile(ctx context.Context, messageID, author string) error {
	el, err := d.page.Context(ctx).Timeout(d.cfg.AuthorTimeout).ElementByJS(rod.Eval(`
		(msgId, name) => {
			const row = document.querySelector('[data-list-item-id*="' + msgId + '"]');
			if (!row) return null;
			return Array.from(row.querySelectorAll('span[class*="username"]'))
				.find((el) => el.innerText.trim() === name) || null;
		}
	`, messageID, author))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrAuthorNotFound
		}
		return fmt.Errorf("locate author: %w", err)
	}
	el = el.CancelTimeout()

	if err := el.ScrollIntoView(); err != nil {
		return fmt.Errorf("scroll to author: %w", err)
	}
	if err := sleep(ctx, d.cfg.ScrollSettle); err != nil {
		return err
	}
	if err := el.Hover(); err != nil {
		return fmt.Errorf("hover author: %w", err)
	}
	if err := sleep(ctx, d.cfg.HoverSettle); err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click author: %w", err)
	}
	return nil
}

// WaitProfile implements Driver.
func (d *PageDriver) WaitProfile(ctx context.Context) error {
	page := d.page.Context(ctx).Timeout(d.cfg.ProfileTimeout)
	defer page.CancelTimeout()
	el, err := page.Element(discord.ProfilePanelSelector)
	if err == nil {
		err = el.WaitVisible()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrProfileTimeout
		}
		return err
	}
	return nil
}

// ProfileHTML implements Driver.
func (d *PageDriver) ProfileHTML(ctx context.Context) (string, error) {
	has, el, err := d.page.Context(ctx).Has(discord.ProfilePanelSelector)
	if err != nil {
		return "", err
	}
	if !has {
		return "", ErrProfileTimeout
	}
	return el.HTML()
}

// CopyUserID implements Driver. It opens the panel's overflow menu, runs
// the copy-id item and reads the clipboard; when the clipboard is not
// readable it returns the id embedded in the menu item.
func (d *PageDriver) CopyUserID(ctx context.Context) (string, error) {
	page := d.page.Context(ctx)

	more, err := page.Timeout(d.cfg.ProfileTimeout).Element(discord.ProfileMoreSelector)
	if err != nil {
		return "", fmt.Errorf("more button: %w", err)
	}
	if err := more.CancelTimeout().Click(proto.InputMouseButtonLeft, 1); err != nil {
		return "", fmt.Errorf("open more menu: %w", err)
	}
	defer func() { _ = d.page.Keyboard.Press(input.Escape) }()

	if _, err := page.Timeout(d.cfg.MenuTimeout).Element(discord.ProfileMenuSelector); err != nil {
		return "", fmt.Errorf("profile actions menu: %w", err)
	}
	if err := sleep(ctx, d.cfg.MenuSettle); err != nil {
		return "", err
	}

	res, err := page.Evaluate(&rod.EvalOptions{
		JS: `
		async (label, waitMs) => {
			const item = Array.from(document.querySelectorAll('div[role="menuitem"]'))
				.find((el) => (el.textContent || '').includes(label));
			if (!item) return { text: '', elementId: '', dataId: '' };
			item.click();
			await new Promise((r) => setTimeout(r, waitMs));
			const elementId = item.id || '';
			const holder = item.closest('[data-user-id]');
			const dataId = item.getAttribute('data-user-id') || (holder ? holder.getAttribute('data-user-id') : '') || '';
			let text = '';
			try { text = await navigator.clipboard.readText(); } catch (e) {}
			return { text, elementId, dataId };
		}
		`,
		JSArgs:       []interface{}{discord.CopyIDLabel, d.cfg.ClipboardWait.Milliseconds()},
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return "", fmt.Errorf("copy user id: %w", err)
	}

	text := strings.TrimSpace(res.Value.Get("text").Str())
	if discord.IsSnowflake(text) {
		return text, nil
	}
	if id, ok := discord.ParseCopyIDElement(res.Value.Get("elementId").Str()); ok {
		return id, nil
	}
	if dataID := strings.TrimSpace(res.Value.Get("dataId").Str()); discord.IsSnowflake(dataID) {
		return dataID, nil
	}
	return "", nil
}

// Screenshot implements Driver. The open profile panel is captured when
// present, otherwise the viewport.
func (d *PageDriver) Screenshot(ctx context.Context) ([]byte, error) {
	page := d.page.Context(ctx)
	if has, el, err := page.Has(discord.ProfilePanelSelector); err == nil && has {
		if png, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0); err == nil {
			return png, nil
		}
	}
	return page.Screenshot(false, nil)
}
