// Package browser owns the Chrome process the annotator drives: launch or
// attach via Rod, watch its memory, and recycle it on a schedule or when it
// grows too large. Observers are told before and after each recycle so they
// can drain their batches and re-attach.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// StealthLevel selects how a tab is opened.
type StealthLevel int

const (
	LevelPlain    StealthLevel = 0 // plain headless tab
	LevelHeadless StealthLevel = 1 // headless with go-rod/stealth evasions
	LevelHeadful  StealthLevel = 2 // headful under Xvfb, with evasions
)

// ErrClosed is returned once Close has been called.
var ErrClosed = errors.New("browser: manager is closed")

// Config configures a Manager.
type Config struct {
	// RemoteURL attaches to an existing Chrome DevTools endpoint instead of
	// launching one.
	RemoteURL string

	// MemoryLimit in bytes. Default: 1GiB.
	MemoryLimit int64

	// RecycleInterval caps the lifetime of one Chrome process. Default: 4h.
	RecycleInterval time.Duration

	// CheckInterval is the monitor tick. Default: 30s.
	CheckInterval time.Duration

	// ResourceBlocking lists request types to fail (fonts, media,
	// stylesheets). Images are never worth blocking here: the annotator
	// only reads their attributes, but some sites lazy-load on error.
	ResourceBlocking []string

	// Stealth is the level the process is launched for. Default: LevelHeadless.
	Stealth StealthLevel

	// XvfbDisplay used by LevelHeadful. Default: ":99".
	XvfbDisplay string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 30 * time.Second
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Hooks are invoked around a recycle, without the manager lock held: they
// may call back into the Manager.
type Hooks struct {
	// Before runs while the old browser is still alive.
	Before func()
	// After runs with the fresh browser.
	After func(b *rod.Browser)
}

// Manager owns one Chrome process.
type Manager struct {
	cfg     Config
	mu      sync.RWMutex
	recycle sync.Mutex // serialises Recycle, hooks included
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	startAt time.Time
	closed  bool
	hooks   Hooks
}

// NewManager creates a Manager. Nothing is launched until Start.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// SetHooks registers the recycle hooks.
func (m *Manager) SetHooks(h Hooks) {
	m.mu.Lock()
	m.hooks = h
	m.mu.Unlock()
}

// Start launches or attaches to Chrome and starts the monitor goroutine,
// which stops with ctx.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	b, err := m.launch()
	if err != nil {
		return nil, err
	}
	m.browser = b
	m.startAt = time.Now()

	go m.monitor(ctx)
	return b, nil
}

// Browser returns the live browser handle, nil before Start or after Close.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Uptime is the age of the current Chrome process.
func (m *Manager) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.browser == nil {
		return 0
	}
	return time.Since(m.startAt)
}

// Recycle replaces the Chrome process. Before runs while the old process
// is alive, After once the new one is connected.
func (m *Manager) Recycle() error {
	m.recycle.Lock()
	defer m.recycle.Unlock()

	m.mu.RLock()
	closed, hooks, startAt := m.closed, m.hooks, m.startAt
	m.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	log := m.cfg.Logger
	log.Info("browser: recycling", "uptime", time.Since(startAt))
	if hooks.Before != nil {
		hooks.Before()
	}

	b, err := m.relaunch()
	if err != nil {
		return err
	}
	if hooks.After != nil {
		hooks.After(b)
	}
	log.Info("browser: recycled")
	return nil
}

// Close stops Chrome and Xvfb. It is safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.teardown()
	return nil
}

func (m *Manager) launch() (*rod.Browser, error) {
	log := m.cfg.Logger

	if m.cfg.Stealth == LevelHeadful && m.cfg.RemoteURL == "" {
		if err := m.startXvfb(); err != nil {
			return nil, fmt.Errorf("browser: xvfb: %w", err)
		}
	}

	wsURL := m.cfg.RemoteURL
	if wsURL != "" {
		log.Info("browser: attaching to remote chrome", "url", wsURL)
	} else {
		l := launcher.New().Set("disable-blink-features", "AutomationControlled")
		if m.cfg.Stealth == LevelHeadful {
			l = l.Headless(false).Env(append(os.Environ(), "DISPLAY="+m.cfg.XvfbDisplay)...)
		} else {
			l = l.Headless(true)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: chrome launched", "url", wsURL, "pid", l.PID(), "stealth", m.cfg.Stealth)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect %s: %w", wsURL, err)
	}
	return b, nil
}

func (m *Manager) relaunch() (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	m.teardown()

	b, err := m.launch()
	if err != nil {
		return nil, fmt.Errorf("browser: relaunch: %w", err)
	}
	m.browser = b
	m.startAt = time.Now()
	return b, nil
}

func (m *Manager) teardown() {
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.cfg.Logger.Debug("browser: close", "error", err)
		}
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
}

// recycleReason reports why the current process should be replaced, or ""
// when it is healthy.
func (m *Manager) recycleReason(ctx context.Context) string {
	m.mu.RLock()
	b, startAt, pid := m.browser, m.startAt, 0
	if m.lnch != nil {
		pid = m.lnch.PID()
	}
	m.mu.RUnlock()
	if b == nil {
		return ""
	}

	if time.Since(startAt) > m.cfg.RecycleInterval {
		return "interval"
	}

	used, err := memoryUsage(ctx, b, pid)
	if err != nil {
		m.cfg.Logger.Debug("browser: memory check failed", "error", err)
		return ""
	}
	if used > m.cfg.MemoryLimit {
		m.cfg.Logger.Info("browser: memory limit exceeded", "used", used, "limit", m.cfg.MemoryLimit)
		return "memory"
	}
	return ""
}

func (m *Manager) monitor(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			done := m.closed
			m.mu.RUnlock()
			if done {
				return
			}
			reason := m.recycleReason(ctx)
			if reason == "" {
				continue
			}
			if err := m.Recycle(); err != nil {
				m.cfg.Logger.Error("browser: recycle failed", "reason", reason, "error", err)
			}
		}
	}
}
