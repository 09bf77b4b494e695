// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package tunnel runs one local proxy process per network region.
// Implements: share-line parsing into a process config, config hashing and
// restart on change, port readiness polling, and first-use installation of
// the tunnel binary.
package tunnel

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dastyar-team/dastyar/internal/logging"
	"github.com/dastyar-team/dastyar/pkg/types"
)

// ErrPortTimeout is returned when the local listener does not accept
// connections within the configured timeout.
var ErrPortTimeout = errors.New("tunnel port not ready")

const (
	dialTimeout  = 500 * time.Millisecond
	dialInterval = 200 * time.Millisecond
)

// Endpoint is the local proxy of a running region process. Generation
// changes every time the process is (re)started.
type Endpoint struct {
	Proxy      string
	Generation uint64
}

// entry is the live process of one region.
type entry struct {
	hash    string
	proxy   string
	gen     uint64
	proc    process
	logFile *os.File
}

// Manager owns the tunnel processes, keyed by region.
type Manager struct {
	root        string
	portTimeout time.Duration
	exec        executor
	install     func(ctx context.Context) (string, error)
	logger      *log.Logger

	mu    sync.Mutex
	procs map[string]*entry
	gen   uint64
}

// NewManager returns a Manager rooted at cfg.Root.
func NewManager(cfg types.TunnelConfig, logger *log.Logger) *Manager {
	m := &Manager{
		root:        cfg.Root,
		portTimeout: cfg.PortTimeout,
		exec:        defaultExec,
		logger:      logging.Component(logger, "tunnel"),
		procs:       make(map[string]*entry),
	}
	m.install = func(ctx context.Context) (string, error) {
		return EnsureBinary(ctx, http.DefaultClient, m.root)
	}
	return m
}

// Ensure makes sure the region's process runs raw and returns its local
// endpoint. The process is restarted when the config hash changed or the
// process died. A process whose port never opens is stopped again.
func (m *Manager) Ensure(ctx context.Context, region, raw string) (Endpoint, error) {
	doc, proxy, err := Resolve(raw, region)
	if err != nil {
		return Endpoint{}, fmt.Errorf("tunnel %s: %w", region, err)
	}
	sum := sha256.Sum256(doc)
	hash := hex.EncodeToString(sum[:])

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.procs[region]; ok && e.hash == hash && e.proc.Alive() {
		return Endpoint{Proxy: e.proxy, Generation: e.gen}, nil
	}

	bin, err := m.install(ctx)
	if err != nil {
		return Endpoint{}, err
	}
	confDir := filepath.Join(m.root, "configs")
	if err := os.MkdirAll(confDir, 0o755); err != nil {
		return Endpoint{}, fmt.Errorf("creating directory %s: %w", confDir, err)
	}
	confPath := filepath.Join(confDir, region+".json")
	if err := os.WriteFile(confPath, doc, 0o600); err != nil {
		return Endpoint{}, fmt.Errorf("writing config: %w", err)
	}

	m.stopLocked(region)
	logFile, err := os.OpenFile(filepath.Join(confDir, region+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return Endpoint{}, fmt.Errorf("opening process log: %w", err)
	}
	m.logger.Info("v2ray_starting", "region", region, "proxy", proxy)
	proc, err := m.exec.Start(bin, []string{"run", "-config", confPath}, logFile)
	if err != nil {
		logFile.Close()
		return Endpoint{}, fmt.Errorf("starting tunnel %s: %w", region, err)
	}
	m.gen++
	m.procs[region] = &entry{hash: hash, proxy: proxy, gen: m.gen, proc: proc, logFile: logFile}

	if err := waitForPort(ctx, proxy, m.portTimeout); err != nil {
		m.logger.Warn("v2ray_port_not_ready", "region", region, "proxy", proxy)
		m.stopLocked(region)
		return Endpoint{}, fmt.Errorf("tunnel %s: %w", region, err)
	}
	return Endpoint{Proxy: proxy, Generation: m.gen}, nil
}

// Stop terminates the region's process, if any.
func (m *Manager) Stop(region string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked(region)
}

func (m *Manager) stopLocked(region string) {
	e, ok := m.procs[region]
	if !ok {
		return
	}
	if err := e.proc.Stop(); err != nil {
		m.logger.Warn("v2ray_stop_failed", "region", region, "err", err)
	}
	e.logFile.Close()
	delete(m.procs, region)
}

// Close stops every process.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for region := range m.procs {
		m.stopLocked(region)
	}
}

// Status describes one managed process.
type Status struct {
	Region string `json:"region" yaml:"region"`
	Proxy  string `json:"proxy" yaml:"proxy"`
	Hash   string `json:"hash" yaml:"hash"`
	PID    int    `json:"pid" yaml:"pid"`
	Alive  bool   `json:"alive" yaml:"alive"`
}

// Status lists the managed processes sorted by region.
func (m *Manager) Status() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.procs))
	for region, e := range m.procs {
		out = append(out, Status{Region: region, Proxy: e.proxy, Hash: e.hash, PID: e.proc.PID(), Alive: e.proc.Alive()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Region < out[j].Region })
	return out
}

// waitForPort dials the proxy address until it accepts a connection.
func waitForPort(ctx context.Context, proxy string, timeout time.Duration) error {
	u, err := url.Parse(proxy)
	if err != nil {
		return fmt.Errorf("parsing proxy url: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d := net.Dialer{Timeout: dialTimeout}
	for {
		conn, err := d.DialContext(ctx, "tcp", u.Host)
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return ErrPortTimeout
		case <-time.After(dialInterval):
		}
	}
}
