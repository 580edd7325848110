// File: internal/driver/manager.go
package driver

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/averell-dev/deskrover/api/schemas"
	"github.com/averell-dev/deskrover/internal/config"
)

// Session is the automation server's handle for an active automation
// context. A session id is valid only between a successful Connect and the
// matching Disconnect; stale ids are never reused.
type Session struct {
	ID        string
	CreatedAt time.Time
	// OwnsProcess is true when this manager spawned the server; only then
	// may Disconnect terminate it.
	OwnsProcess bool
}

// probeDialTimeout bounds the TCP liveness probe before auto-start.
const probeDialTimeout = 500 * time.Millisecond

// Manager owns the automation server process and its single session. The
// session is a process-wide singleton resource: creation and teardown are
// serialized so two tasks can never fight over the same OS input state.
type Manager struct {
	cfg    config.DriverConfig
	client *Client
	logger *zap.Logger

	mu      sync.Mutex
	session *Session
	proc    *exec.Cmd

	// startProcess is swappable for tests.
	startProcess func() (*exec.Cmd, error)
}

// NewManager creates a session manager around the configured server address.
func NewManager(cfg config.DriverConfig, logger *zap.Logger) *Manager {
	m := &Manager{
		cfg:    cfg,
		client: NewClient(cfg, logger),
		logger: logger.Named("driver_manager"),
	}
	m.startProcess = m.spawnServer
	return m
}

// Connect ensures the automation server is reachable, starting it when
// configured to, then creates a session. Calling Connect while a session is
// live returns the existing session.
func (m *Manager) Connect(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		return m.session, nil
	}

	owns := false
	if m.cfg.AutoStart && !m.listening() {
		proc, err := m.startProcess()
		if err != nil {
			// A missing binary is not fatal when the server might already be
			// starting elsewhere; the health check below decides.
			m.logger.Warn("Failed to start automation server process", zap.Error(err))
		} else {
			m.proc = proc
			owns = true
			m.logger.Info("Automation server process started", zap.Int("pid", proc.Process.Pid))
		}
	}

	if err := m.awaitReachable(ctx); err != nil {
		m.releaseProcessLocked()
		return nil, &schemas.ConnectionError{Addr: m.cfg.Addr(), Err: err}
	}

	id, err := m.client.CreateSession(ctx)
	if err != nil {
		m.releaseProcessLocked()
		return nil, err // already a *schemas.SessionError
	}

	m.session = &Session{ID: id, CreatedAt: time.Now(), OwnsProcess: owns}
	return m.session, nil
}

// Disconnect tears down the session and, when this manager owns it, the
// server process. It is idempotent: a second call is a no-op, never an
// error. Session close is attempted even when the transport is unhealthy.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil && m.proc == nil {
		return nil
	}

	if m.session != nil {
		if err := m.client.DeleteSession(ctx, m.session.ID); err != nil {
			// The session may already be gone; teardown continues regardless.
			m.logger.Warn("Session delete failed during disconnect", zap.Error(err))
		}
		m.session = nil
	}

	m.releaseProcessLocked()
	return nil
}

// Session returns the live session, or nil when disconnected.
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Live implements schemas.ElementResolver.
func (m *Manager) Live() bool { return m.Session() != nil }

// ElementFromPoint resolves the element at a coordinate through the live
// session. Implements schemas.ElementResolver.
func (m *Manager) ElementFromPoint(ctx context.Context, x, y int) (*schemas.Element, error) {
	s := m.Session()
	if s == nil {
		return nil, &schemas.ElementResolutionError{X: x, Y: y, Err: fmt.Errorf("no active session")}
	}
	return m.client.ElementFromPoint(ctx, s.ID, x, y)
}

// ClickElement dispatches a native element click through the live session.
func (m *Manager) ClickElement(ctx context.Context, el *schemas.Element) error {
	s := m.Session()
	if s == nil {
		return &schemas.SessionError{Err: fmt.Errorf("no active session")}
	}
	return m.client.ClickElement(ctx, s.ID, el)
}

// DoubleClickElement dispatches a native double-click through the live session.
func (m *Manager) DoubleClickElement(ctx context.Context, el *schemas.Element) error {
	s := m.Session()
	if s == nil {
		return &schemas.SessionError{Err: fmt.Errorf("no active session")}
	}
	return m.client.DoubleClickElement(ctx, s.ID, el)
}

// awaitReachable polls the status endpoint with exponential backoff until
// the server answers or the connect timeout elapses.
func (m *Manager) awaitReachable(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = m.cfg.ConnectTimeout

	operation := func() error {
		probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ResolverTimeout)
		defer cancel()
		return m.client.Status(probeCtx)
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("server not reachable within %s: %w", m.cfg.ConnectTimeout, err)
	}
	return nil
}

// listening reports whether something already accepts connections on the
// configured port, so an attached pre-existing server is never respawned.
func (m *Manager) listening() bool {
	conn, err := net.DialTimeout("tcp", m.cfg.Addr(), probeDialTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// spawnServer launches the configured server binary detached from stdio.
func (m *Manager) spawnServer() (*exec.Cmd, error) {
	cmd := exec.Command(m.cfg.Path)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", m.cfg.Path, err)
	}
	return cmd, nil
}

// releaseProcessLocked terminates the owned server process. Callers hold
// m.mu. A server this manager merely attached to is never touched because
// m.proc is only set on spawn.
func (m *Manager) releaseProcessLocked() {
	if m.proc == nil {
		return
	}
	if m.proc.Process != nil {
		if err := m.proc.Process.Kill(); err != nil {
			m.logger.Warn("Failed to terminate automation server process", zap.Error(err))
		}
		// Reap the child; ignore the expected "killed" error.
		_ = m.proc.Wait()
	}
	m.proc = nil
}
