// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dastyar-team/dastyar/internal/browser"
	"github.com/dastyar-team/dastyar/internal/logging"
	"github.com/dastyar-team/dastyar/internal/tunnel"
	"github.com/dastyar-team/dastyar/pkg/types"
)

// ErrNoProxy is returned for a slot without a bound VPN config.
var ErrNoProxy = errors.New("no vpn config bound to slot")

// Tunnels provides the local proxy for a region.
type Tunnels interface {
	Ensure(ctx context.Context, region, raw string) (tunnel.Endpoint, error)
}

// Session is a logged-in browser parked on the venue proxy tab.
type Session struct {
	Slot      int
	Proxy     string
	Browser   browser.Browser
	Page      browser.Page
	RefreshAt time.Time

	// vpn and tunnelGen identify the tunnel process the session was built
	// on.
	vpn       string
	tunnelGen uint64
}

// Sessions hands out per-slot sessions.
type Sessions interface {
	Get(ctx context.Context, acc types.AccountSlot, vpn string) (*Session, error)
	Invalidate(slot int)
}

// Manager owns one session per slot. A session is rebuilt when its refresh
// time passes, its browser stops responding, the slot's tunnel config
// changed, or the region tunnel under it was restarted. Slots share the
// region tunnel, so a slot bound to another config restarts it.
type Manager struct {
	launcher   browser.Launcher
	tunnels    Tunnels
	headless   bool
	refreshMin time.Duration
	refreshMax time.Duration
	timeouts   Timeouts
	logger     *log.Logger
	now        func() time.Time

	mu       sync.Mutex
	sessions map[int]*Session
	locks    map[int]*sync.Mutex
}

// NewManager returns a Manager launching browsers through launcher and
// routing them through tunnels.
func NewManager(cfg types.VenueConfig, launcher browser.Launcher, tunnels Tunnels, logger *log.Logger) *Manager {
	return &Manager{
		launcher:   launcher,
		tunnels:    tunnels,
		headless:   cfg.Headless,
		refreshMin: cfg.RefreshMin,
		refreshMax: cfg.RefreshMax,
		timeouts:   DefaultTimeouts,
		logger:     logging.Component(logger, "session"),
		now:        time.Now,
		sessions:   make(map[int]*Session),
		locks:      make(map[int]*sync.Mutex),
	}
}

func (m *Manager) slotLock(slot int) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[slot]
	if !ok {
		l = &sync.Mutex{}
		m.locks[slot] = l
	}
	return l
}

// Get returns the slot's session, logging in when none is usable. Calls for
// the same slot are serialized.
func (m *Manager) Get(ctx context.Context, acc types.AccountSlot, vpn string) (*Session, error) {
	lock := m.slotLock(acc.Slot)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	s := m.sessions[acc.Slot]
	m.mu.Unlock()

	if s != nil {
		switch {
		case !m.now().Before(s.RefreshAt):
			m.logger.Info("refresh_due", "slot", acc.Slot, "refresh_at", s.RefreshAt)
			m.Invalidate(acc.Slot)
		case !s.Browser.Alive():
			m.logger.Warn("browser_unresponsive", "slot", acc.Slot)
			m.Invalidate(acc.Slot)
		case s.vpn != vpn:
			m.logger.Info("vpn_changed", "slot", acc.Slot)
			m.Invalidate(acc.Slot)
		}
	}

	if !acc.HasCredentials() {
		return nil, fmt.Errorf("slot %d: missing credentials", acc.Slot)
	}
	if vpn == "" {
		return nil, fmt.Errorf("slot %d: %w", acc.Slot, ErrNoProxy)
	}
	ep, err := m.tunnels.Ensure(ctx, acc.Region, vpn)
	if err != nil {
		m.Invalidate(acc.Slot)
		return nil, fmt.Errorf("slot %d tunnel: %w", acc.Slot, err)
	}

	m.mu.Lock()
	s = m.sessions[acc.Slot]
	m.mu.Unlock()
	if s != nil {
		if s.tunnelGen == ep.Generation && s.Proxy == ep.Proxy {
			return s, nil
		}
		m.logger.Info("tunnel_restarted", "slot", acc.Slot, "proxy", ep.Proxy)
		m.Invalidate(acc.Slot)
	}
	proxy := ep.Proxy

	b, err := m.launcher.Launch(ctx, browser.Options{Proxy: proxy, Headless: m.headless})
	if err != nil {
		return nil, fmt.Errorf("slot %d: %w", acc.Slot, err)
	}
	m.logger.Info("browser_started", "slot", acc.Slot, "proxy", proxy)

	login := &Login{
		Page:     b.Page(),
		Email:    acc.Email,
		Password: acc.Password,
		Timeouts: m.timeouts,
		Logger:   m.logger.With("slot", acc.Slot),
	}
	if err := login.Run(ctx); err != nil {
		b.Close()
		return nil, fmt.Errorf("slot %d: %w", acc.Slot, err)
	}
	tab, err := OpenAffiliate(ctx, b, m.timeouts, m.logger.With("slot", acc.Slot))
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("slot %d: %w", acc.Slot, err)
	}

	s = &Session{
		Slot:      acc.Slot,
		Proxy:     proxy,
		Browser:   b,
		Page:      tab,
		RefreshAt: m.now().Add(jitter(m.refreshMin, m.refreshMax)),
		vpn:       vpn,
		tunnelGen: ep.Generation,
	}
	m.mu.Lock()
	m.sessions[acc.Slot] = s
	m.mu.Unlock()
	m.logger.Info("session_ready", "slot", acc.Slot, "refresh_at", s.RefreshAt)
	return s, nil
}

// Invalidate closes and forgets the slot's session.
func (m *Manager) Invalidate(slot int) {
	m.mu.Lock()
	s := m.sessions[slot]
	delete(m.sessions, slot)
	m.mu.Unlock()
	if s != nil {
		if err := s.Browser.Close(); err != nil {
			m.logger.Debug("browser_close_failed", "slot", slot, "err", err)
		}
	}
}

// Close tears down every session.
func (m *Manager) Close() {
	m.mu.Lock()
	slots := make([]int, 0, len(m.sessions))
	for slot := range m.sessions {
		slots = append(slots, slot)
	}
	m.mu.Unlock()
	for _, slot := range slots {
		m.Invalidate(slot)
	}
}
