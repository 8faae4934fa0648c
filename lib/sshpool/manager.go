/*
Copyright 2023 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package sshpool implements the SSH connection manager: a process wide
// pool of live SSH shells with keepalive, reconnection and idle reaping.
package sshpool

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	webterm "github.com/zmb3/webterm"
	"github.com/zmb3/webterm/lib/defaults"
	"github.com/zmb3/webterm/lib/services"
)

// Config holds the pool tunables.
type Config struct {
	// DialTimeout bounds the SSH handshake.
	DialTimeout time.Duration
	// KeepAliveInterval is how often keepalive requests are sent.
	KeepAliveInterval time.Duration
	// ReconnectDelay is the pause before the automatic reconnect attempt.
	ReconnectDelay time.Duration
	// SweepInterval is how often the idle sweeper runs.
	SweepInterval time.Duration
	// IdleTimeout is how long a connection may stay silent before it is
	// reaped.
	IdleTimeout time.Duration
	// MaxCols and MaxRows bound resize requests.
	MaxCols int
	MaxRows int
	// Clock is used for activity accounting and timers.
	Clock clockwork.Clock
	// Log is a component logger.
	Log logrus.FieldLogger
}

// CheckAndSetDefaults validates the values of a *Config.
func (c *Config) CheckAndSetDefaults() error {
	if c.DialTimeout == 0 {
		c.DialTimeout = defaults.SSHDialTimeout
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = defaults.KeepAliveInterval
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = defaults.ReconnectDelay
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = defaults.SweepInterval
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = defaults.IdleTimeout
	}
	if c.MaxCols == 0 {
		c.MaxCols = defaults.MaxTermCols
	}
	if c.MaxRows == 0 {
		c.MaxRows = defaults.MaxTermRows
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logrus.WithField(trace.Component, webterm.ComponentSSHPool)
	}
	return nil
}

// Manager owns every live SSH connection in the process. The map is
// guarded; all other work happens outside the lock.
type Manager struct {
	Config

	mu    sync.Mutex
	conns map[string]*Connection
}

// NewManager creates a connection manager.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Manager{
		Config: cfg,
		conns:  make(map[string]*Connection),
	}, nil
}

// CreateConnection dials the target, allocates a pty shell and registers
// the connection. Dial and auth failures are reported synchronously and
// leave no record behind.
func (m *Manager) CreateConnection(ctx context.Context, target Target) (*Connection, error) {
	conn := &Connection{
		id:      uuid.NewString(),
		manager: m,
		target:  target,
		status:  services.StatusConnecting,
		cols:    defaults.TermCols,
		rows:    defaults.TermRows,
		dataC:   make(chan DataEvent, 256),
		statusC: make(chan StatusEvent, 16),
		closed:  make(chan struct{}),
	}
	conn.log = m.Log.WithField("conn", conn.id)
	conn.lastActivity = m.Clock.Now()

	m.mu.Lock()
	m.conns[conn.id] = conn
	m.mu.Unlock()

	conn.emitStatus(services.StatusConnecting, "")

	// The dial is a suspension point; no lock is held across it.
	tr, err := conn.dial()
	if err != nil {
		conn.emitStatus(services.StatusError, err.Error())
		m.mu.Lock()
		delete(m.conns, conn.id)
		m.mu.Unlock()
		conn.close()
		return nil, trace.Wrap(err)
	}

	conn.mu.Lock()
	conn.tr = tr
	conn.status = services.StatusConnected
	conn.lastActivity = m.Clock.Now()
	conn.mu.Unlock()
	conn.startLoops(tr)
	conn.emitStatus(services.StatusConnected, "")

	conn.log.WithField("addr", target.Addr()).Info("SSH connection established.")
	return conn, nil
}

// Get returns a live connection by id.
func (m *Manager) Get(id string) (*Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[id]
	if !ok {
		return nil, trace.NotFound("connection %v not found", id)
	}
	return conn, nil
}

// SendInput writes user input to the shell of the given connection.
func (m *Manager) SendInput(id string, data []byte) error {
	conn, err := m.Get(id)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(conn.Write(data))
}

// ResizeTerminal updates the stored dimensions and resizes the remote pty.
func (m *Manager) ResizeTerminal(id string, cols, rows int) error {
	conn, err := m.Get(id)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(conn.Resize(cols, rows))
}

// CloseConnection tears down a connection and removes its record. It is
// idempotent: closing an unknown id is a no-op.
func (m *Manager) CloseConnection(id string) error {
	m.mu.Lock()
	conn, ok := m.conns[id]
	delete(m.conns, id)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	conn.close()
	return nil
}

// Len returns the number of live connections.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Run operates the idle sweeper until the context is canceled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := m.Clock.NewTicker(m.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			m.Sweep()
		case <-ctx.Done():
			m.closeAll()
			return nil
		}
	}
}

// Sweep closes every connection whose last activity is older than the
// idle timeout.
func (m *Manager) Sweep() {
	cutoff := m.Clock.Now().Add(-m.IdleTimeout)

	m.mu.Lock()
	var idle []string
	for id, conn := range m.conns {
		if conn.LastActivity().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.Unlock()

	for _, id := range idle {
		m.Log.WithField("conn", id).Info("Reaping idle connection.")
		if err := m.CloseConnection(id); err != nil {
			m.Log.WithError(err).Warn("Failed to close idle connection.")
		}
	}
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.CloseConnection(id)
	}
}
