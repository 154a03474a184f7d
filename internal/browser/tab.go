package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// NavigateTimeout bounds navigation plus load of a watched page.
var NavigateTimeout = 30 * time.Second

// Tab is one watched page.
type Tab struct {
	Page    *rod.Page
	PageID  string
	PageURL string
	Stealth StealthLevel

	router *rod.HijackRouter
}

// OpenTab opens pageURL in a new tab of the managed browser and makes the
// whole DOM trackable so insertion events cover every depth.
func OpenTab(ctx context.Context, mgr *Manager, pageID, pageURL string, level StealthLevel) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, errors.New("browser: no active browser")
	}

	var (
		page *rod.Page
		err  error
	)
	if level >= LevelHeadless {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: new tab: %w", err)
	}

	t := &Tab{Page: page, PageID: pageID, PageURL: pageURL, Stealth: level}
	if len(mgr.cfg.ResourceBlocking) > 0 {
		if t.router, err = blockResources(page, mgr.cfg.ResourceBlocking); err != nil {
			mgr.cfg.Logger.Warn("browser: resource blocking failed", "page", pageID, "error", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, NavigateTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: load not confirmed", "url", pageURL, "error", err)
	}
	return t, nil
}

// TrackDOM requests the full document, piercing shadow roots and frames.
// CDP only emits childNodeInserted for parents it has already sent to the
// client, so this must run after every navigation or document reset.
func (t *Tab) TrackDOM(ctx context.Context) error {
	depth := -1
	_, err := proto.DOMGetDocument{Depth: &depth, Pierce: true}.Call(t.Page.Context(ctx))
	if err != nil {
		return fmt.Errorf("browser: get document: %w", err)
	}
	return nil
}

// OuterHTML serialises the current document.
func (t *Tab) OuterHTML(ctx context.Context) (string, error) {
	res, err := t.Page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: outer html: %w", err)
	}
	return res.Value.Str(), nil
}

// Close stops request interception and closes the tab.
func (t *Tab) Close() error {
	if t.router != nil {
		_ = t.router.Stop()
		t.router = nil
	}
	if t.Page == nil {
		return nil
	}
	return t.Page.Close()
}
