// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dastyar-team/dastyar/internal/browser"
	"github.com/dastyar-team/dastyar/internal/browser/browsertest"
	"github.com/dastyar-team/dastyar/internal/tunnel"
	"github.com/dastyar-team/dastyar/pkg/types"
)

func init() {
	pause = func(context.Context, time.Duration, time.Duration) {}
	keyDelay = func() time.Duration { return 0 }
}

var fast = Timeouts{
	Challenge: 30 * time.Millisecond,
	Form:      30 * time.Millisecond,
	Confirm:   30 * time.Millisecond,
	Tile:      30 * time.Millisecond,
	Table:     30 * time.Millisecond,
	NewTab:    30 * time.Millisecond,
	Proxy:     30 * time.Millisecond,
	Search:    30 * time.Millisecond,
	PDF:       30 * time.Millisecond,
	Archive:   30 * time.Millisecond,
	Interval:  time.Millisecond,
}

// loginForm registers visible credential inputs and returns them.
func loginForm(page *browsertest.Page) (email, password *browsertest.Element) {
	email = &browsertest.Element{}
	password = &browsertest.Element{}
	page.Add(emailSelector, email)
	page.Add(passwordSelector, password)
	return email, password
}

func TestLogin_Success(t *testing.T) {
	page := browsertest.NewPage()
	email, password := loginForm(page)
	submit := &browsertest.Element{Label: "ورود", OnClick: func() { page.SetHTML("<a>پنل کاربری</a>") }}
	page.Add("button[type='submit']", submit)

	l := &Login{Page: page, Email: "a@x.org", Password: "pw", Timeouts: fast}
	require.NoError(t, l.Run(context.Background()))

	assert.Equal(t, LoggedIn, l.State())
	assert.Equal(t, []State{NavigatingLogin, AwaitingChallenge, DismissingOverlays, AwaitingForm, FillingForm, AwaitingConfirmation, LoggedIn}, l.Trace())
	assert.Equal(t, "a@x.org", email.Value())
	assert.Equal(t, "pw", password.Value())
	assert.Equal(t, 1, submit.Clicks())
	assert.Equal(t, []string{LoginURL}, page.Visits())
}

// challengePage reports a challenge for the first few HTML reads.
type challengePage struct {
	*browsertest.Page
	mu    sync.Mutex
	reads int
}

func (p *challengePage) HTML() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads++
	if p.reads <= 3 {
		return "<p>Checking your browser before accessing</p>", nil
	}
	return p.Page.HTML()
}

func TestLogin_WaitsOutChallenge(t *testing.T) {
	inner := browsertest.NewPage()
	loginForm(inner)
	inner.Add("#login-form button.primary", &browsertest.Element{OnClick: func() {
		inner.Add("a[href*='logout']", &browsertest.Element{})
	}})
	page := &challengePage{Page: inner}

	l := &Login{Page: page, Email: "a", Password: "b", Timeouts: DefaultTimeouts}
	l.Timeouts.Interval = time.Millisecond
	require.NoError(t, l.Run(context.Background()))
	assert.GreaterOrEqual(t, page.reads, 4)
}

func TestLogin_TextSubmitFallbackAndOverlay(t *testing.T) {
	page := browsertest.NewPage()
	loginForm(page)
	cookie := &browsertest.Element{Label: " قبول "}
	hidden := &browsertest.Element{Label: "ورود", Hidden: true}
	submit := &browsertest.Element{Label: "Sign in", OnClick: func() { page.SetHTML("خروج") }}
	page.Add("button", cookie, hidden, submit)

	l := &Login{Page: page, Email: "a", Password: "b", Timeouts: fast}
	require.NoError(t, l.Run(context.Background()))
	assert.Equal(t, 1, cookie.Clicks())
	assert.Zero(t, hidden.Clicks())
	assert.Equal(t, 1, submit.Clicks())
}

func TestLogin_Failures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(p *browsertest.Page)
		last  State
	}{
		{"form never visible", func(p *browsertest.Page) {
			p.Add(emailSelector, &browsertest.Element{})
			p.Add(passwordSelector, &browsertest.Element{Hidden: true})
		}, AwaitingForm},
		{"no submit control", func(p *browsertest.Page) { loginForm(p) }, FillingForm},
		{"never confirmed", func(p *browsertest.Page) {
			loginForm(p)
			p.Add("button[type='submit']", &browsertest.Element{})
		}, AwaitingConfirmation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := browsertest.NewPage()
			tt.setup(page)
			l := &Login{Page: page, Email: "a", Password: "b", Timeouts: fast}
			err := l.Run(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrLoginFailed))
			trace := l.Trace()
			require.GreaterOrEqual(t, len(trace), 2)
			assert.Equal(t, tt.last, trace[len(trace)-2])
			assert.Equal(t, Failed, trace[len(trace)-1])
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "awaiting_challenge", AwaitingChallenge.String())
	assert.Equal(t, "state(42)", State(42).String())
}

// portal scripts a browser through login and the direct-access table. The
// venue tab opens at tabURL.
func portal(tabURL string) (*browsertest.Browser, *browsertest.Element) {
	page := browsertest.NewPage()
	b := browsertest.NewBrowser(page)

	loginForm(page)
	page.Add("button[type='submit']", &browsertest.Element{OnClick: func() { page.SetHTML("دسترسی مستقیم") }})

	tab := browsertest.NewPage()
	tab.SetURL(tabURL)
	link := &browsertest.Element{Label: "لینک ۱", OnClick: func() { b.OpenTab(tab) }}

	page.Add(tileSelector, &browsertest.Element{Label: "خرید اشتراک"}, &browsertest.Element{
		Label: "دسترسی مستقیم",
		OnClick: func() {
			page.Add(rowSelector,
				&browsertest.Element{Label: "Springer"},
				&browsertest.Element{Label: "ساینس دایرکت ScienceDirect"},
				&browsertest.Element{Label: "", Children: map[string][]*browsertest.Element{"button": {link}}},
			)
		},
	})
	return b, link
}

func TestOpenAffiliate(t *testing.T) {
	b, link := portal("https://www-sciencedirect-com.daccess.iranpaper.ir/")
	tab, err := OpenAffiliate(context.Background(), b, fast, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, link.Clicks())
	assert.Contains(t, tab.URL(), ProxyMarker)
	assert.Same(t, tab, b.Page(), "the venue tab becomes current")
}

func TestOpenAffiliate_ProxyNeverReady(t *testing.T) {
	b, _ := portal("https://iranpaper.ir/error")
	_, err := OpenAffiliate(context.Background(), b, fast, nil)
	assert.ErrorIs(t, err, browser.ErrNotFound)
}

func TestOpenAffiliate_FallbackSelectors(t *testing.T) {
	page := browsertest.NewPage()
	b := browsertest.NewBrowser(page)
	tab := browsertest.NewPage()
	tab.SetURL("https://x.daccess.example/")
	btn := &browsertest.Element{OnClick: func() { b.OpenTab(tab) }}
	page.Add(tileFallback, &browsertest.Element{OnClick: func() {
		page.Add(rowSelector, &browsertest.Element{
			Label:    "Science Direct",
			Children: map[string][]*browsertest.Element{rowButtonFallback: {btn}},
		})
	}})

	_, err := OpenAffiliate(context.Background(), b, fast, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, btn.Clicks())
}

func TestIsVenueRow(t *testing.T) {
	assert.True(t, isVenueRow("SCIENCEDIRECT"))
	assert.True(t, isVenueRow("Science Direct (Elsevier)"))
	assert.True(t, isVenueRow("ساینس"))
	assert.False(t, isVenueRow("Wiley"))
}

// fakeTunnels runs one process per region and restarts it, bumping the
// generation, whenever the region is asked for another config.
type fakeTunnels struct {
	mu      sync.Mutex
	calls   []string
	err     error
	running map[string]string
	gen     map[string]uint64
}

func (f *fakeTunnels) Ensure(_ context.Context, region, raw string) (tunnel.Endpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, region+"|"+raw)
	if f.err != nil {
		return tunnel.Endpoint{}, f.err
	}
	if f.running == nil {
		f.running, f.gen = make(map[string]string), make(map[string]uint64)
	}
	if f.running[region] != raw {
		f.running[region] = raw
		f.gen[region]++
	}
	return tunnel.Endpoint{Proxy: "socks5://127.0.0.1:21870", Generation: f.gen[region]}, nil
}

// restart simulates the region process dying and coming back.
func (f *fakeTunnels) restart(region string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen[region]++
}

func testManager(launcher browser.Launcher, tunnels Tunnels) *Manager {
	m := NewManager(types.VenueConfig{RefreshMin: time.Hour, RefreshMax: 2 * time.Hour, Headless: true}, launcher, tunnels, nil)
	m.timeouts = fast
	return m
}

var account = types.AccountSlot{Slot: 1, Email: "a@x.org", Password: "pw", Active: true, Region: "iran"}

func TestManager_CachesAndRefreshes(t *testing.T) {
	var built []*browsertest.Browser
	launcher := &browsertest.Launcher{Build: func(browser.Options) (*browsertest.Browser, error) {
		b, _ := portal("https://daccess.example/")
		built = append(built, b)
		return b, nil
	}}
	tunnels := &fakeTunnels{}
	m := testManager(launcher, tunnels)
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }

	ctx := context.Background()
	s1, err := m.Get(ctx, account, "vless://cfg")
	require.NoError(t, err)
	assert.Equal(t, "socks5://127.0.0.1:21870", s1.Proxy)
	assert.Contains(t, s1.Page.URL(), ProxyMarker)
	assert.True(t, s1.RefreshAt.After(now.Add(time.Hour-time.Second)))
	assert.False(t, s1.RefreshAt.After(now.Add(2*time.Hour)))

	s2, err := m.Get(ctx, account, "vless://cfg")
	require.NoError(t, err)
	assert.Same(t, s1, s2)
	require.Len(t, launcher.Launches(), 1)
	assert.Equal(t, browser.Options{Proxy: "socks5://127.0.0.1:21870", Headless: true}, launcher.Launches()[0])

	now = s1.RefreshAt
	s3, err := m.Get(ctx, account, "vless://cfg")
	require.NoError(t, err)
	assert.NotSame(t, s1, s3)
	assert.True(t, built[0].Closed())

	built[1].Kill()
	_, err = m.Get(ctx, account, "vless://cfg")
	require.NoError(t, err)
	assert.Len(t, launcher.Launches(), 3)
	assert.Len(t, tunnels.calls, 4, "the tunnel is checked on every Get")

	m.Close()
	assert.True(t, built[2].Closed())
}

func TestManager_RebuildsOnVPNChange(t *testing.T) {
	var built []*browsertest.Browser
	launcher := &browsertest.Launcher{Build: func(browser.Options) (*browsertest.Browser, error) {
		b, _ := portal("https://daccess.example/")
		built = append(built, b)
		return b, nil
	}}
	tunnels := &fakeTunnels{}
	m := testManager(launcher, tunnels)

	ctx := context.Background()
	s1, err := m.Get(ctx, account, "vless://old")
	require.NoError(t, err)
	s2, err := m.Get(ctx, account, "vless://new")
	require.NoError(t, err)

	assert.NotSame(t, s1, s2)
	assert.True(t, built[0].Closed())
	assert.Equal(t, []string{"iran|vless://old", "iran|vless://new"}, tunnels.calls)
}

func TestManager_RebuildsWhenRegionTunnelSwitched(t *testing.T) {
	var built []*browsertest.Browser
	launcher := &browsertest.Launcher{Build: func(browser.Options) (*browsertest.Browser, error) {
		b, _ := portal("https://daccess.example/")
		built = append(built, b)
		return b, nil
	}}
	tunnels := &fakeTunnels{}
	m := testManager(launcher, tunnels)
	ctx := context.Background()

	other := account
	other.Slot = 2

	s1, err := m.Get(ctx, account, "vless://A")
	require.NoError(t, err)
	s2, err := m.Get(ctx, other, "vless://B")
	require.NoError(t, err)
	again, err := m.Get(ctx, account, "vless://A")
	require.NoError(t, err)

	assert.Equal(t, []string{"iran|vless://A", "iran|vless://B", "iran|vless://A"}, tunnels.calls)
	assert.NotSame(t, s1, again, "slot 1 must not keep a session built on the replaced tunnel")
	assert.True(t, built[0].Closed())
	assert.False(t, built[1].Closed(), "slot 2 is only rebuilt when it is next used")
	assert.Len(t, launcher.Launches(), 3)

	s2again, err := m.Get(ctx, other, "vless://B")
	require.NoError(t, err)
	assert.NotSame(t, s2, s2again)
}

func TestManager_RebuildsWhenTunnelRestarted(t *testing.T) {
	launcher := &browsertest.Launcher{Build: func(browser.Options) (*browsertest.Browser, error) {
		b, _ := portal("https://daccess.example/")
		return b, nil
	}}
	tunnels := &fakeTunnels{}
	m := testManager(launcher, tunnels)
	ctx := context.Background()

	s1, err := m.Get(ctx, account, "vless://cfg")
	require.NoError(t, err)
	tunnels.restart("iran")
	s2, err := m.Get(ctx, account, "vless://cfg")
	require.NoError(t, err)
	assert.NotSame(t, s1, s2)

	tunnels.err = errors.New("port timeout")
	_, err = m.Get(ctx, account, "vless://cfg")
	assert.ErrorIs(t, err, tunnels.err)
	assert.True(t, s2.Browser.(*browsertest.Browser).Closed(), "a session over a dead tunnel is dropped")
}

func TestManager_Failures(t *testing.T) {
	ctx := context.Background()

	m := testManager(&browsertest.Launcher{}, &fakeTunnels{})
	_, err := m.Get(ctx, account, "")
	assert.ErrorIs(t, err, ErrNoProxy)

	_, err = m.Get(ctx, types.AccountSlot{Slot: 2, Email: "x"}, "vless://cfg")
	assert.Error(t, err)

	tunnelErr := errors.New("port timeout")
	m = testManager(&browsertest.Launcher{}, &fakeTunnels{err: tunnelErr})
	_, err = m.Get(ctx, account, "vless://cfg")
	assert.ErrorIs(t, err, tunnelErr)

	var b *browsertest.Browser
	launcher := &browsertest.Launcher{Build: func(browser.Options) (*browsertest.Browser, error) {
		b = browsertest.NewBrowser(browsertest.NewPage())
		return b, nil
	}}
	m = testManager(launcher, &fakeTunnels{})
	_, err = m.Get(ctx, account, "vless://cfg")
	assert.ErrorIs(t, err, ErrLoginFailed)
	assert.True(t, b.Closed(), "a failed login closes its browser")
}

type countingSessions struct {
	mu   sync.Mutex
	gets []int
	fail map[int]error
}

func (c *countingSessions) Get(_ context.Context, acc types.AccountSlot, _ string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets = append(c.gets, acc.Slot)
	if err := c.fail[acc.Slot]; err != nil {
		return nil, err
	}
	return &Session{Slot: acc.Slot, Browser: browsertest.NewBrowser(browsertest.NewPage())}, nil
}

func (c *countingSessions) Invalidate(int) {}

func TestWarmup(t *testing.T) {
	sessions := &countingSessions{fail: map[int]error{3: errors.New("login failed")}}
	slots := []types.AccountSlot{
		{Slot: 2, Email: "b", Password: "p", Active: true, Primary: true},
		{Slot: 1, Email: "a", Password: "p"},
		{Slot: 3, Email: "c", Password: "p", Active: true},
	}
	vpn := func(context.Context, int) (string, error) { return "cfg", nil }

	ok := Warmup(context.Background(), sessions, slots, vpn, WarmupDelays{}, nil)
	assert.Equal(t, 1, ok)
	assert.Equal(t, []int{2, 3}, sessions.gets)
}
