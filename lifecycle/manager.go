// Copyright 2025 The Modbus Driver Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package lifecycle supervises the Modbus engine server: starting and
// stopping it on command, restarting it after an unexpected failure, and
// reporting the state transitions a control API or CLI needs to see.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ironspan/modbus-driver/engine"
	"github.com/ironspan/modbus-driver/point"
	"github.com/ironspan/modbus-driver/registry"
)

// State is one state in the driver's Stopped -> Starting -> Running/Failed
// -> Stopping -> Stopped lifecycle.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateFailed
	StateStopping
)

// String returns the lowercase state name used by the control API.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Status is a snapshot of the manager's current state, returned by
// Status() and served by the control API's /status endpoint.
type Status struct {
	State        State
	ManualStop   bool
	DebugMode    bool
	StartCount   int64
	StopCount    int64
	RestartCount int64
	ErrorCount   int64
	LastError    string
	ActiveConns  int
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithLogger sets the structured logger the manager and the engine server
// it supervises write to.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithLevelVar lets SetDebugMode toggle the verbosity of an
// externally-constructed slog handler (see cmd/modbusdriverd).
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(m *Manager) { m.level = lv }
}

// WithStore injects a pre-built point store instead of one sized from
// Settings. Stop discards it, so a later Start builds a fresh store from
// Settings.
func WithStore(store *point.Store) Option {
	return func(m *Manager) { m.store = store }
}

// WithRegistry injects a pre-built connection registry.
func WithRegistry(reg *registry.Registry) Option {
	return func(m *Manager) { m.registry = reg }
}

// Manager is the lifecycle supervisor (the ModbusDriverManager of the
// original driver): a single mutex covers state, manualStop, and the
// counters below, since every field changes together on each transition.
type Manager struct {
	settings Settings
	logger   *slog.Logger
	level    *slog.LevelVar

	mu           sync.Mutex
	state        State
	manualStop   bool
	startCount   int64
	stopCount    int64
	restartCount int64
	errorCount   int64
	lastError    string

	store    *point.Store
	registry *registry.Registry
	server   *engine.Server
	cancel   context.CancelFunc
}

// NewManager creates a Manager governed by settings.
func NewManager(settings Settings, opts ...Option) *Manager {
	m := &Manager{
		settings: settings,
		logger:   slog.Default(),
		level:    new(slog.LevelVar),
	}
	for _, opt := range opts {
		opt(m)
	}
	if settings.DebugMode {
		m.level.Set(slog.LevelDebug)
	}
	return m
}

// Status returns a snapshot of the manager's current state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := 0
	if m.server != nil {
		active = m.server.ActiveConnections()
	}

	return Status{
		State:        m.state,
		ManualStop:   m.manualStop,
		DebugMode:    m.level.Level() == slog.LevelDebug,
		StartCount:   m.startCount,
		StopCount:    m.stopCount,
		RestartCount: m.restartCount,
		ErrorCount:   m.errorCount,
		LastError:    m.lastError,
		ActiveConns:  active,
	}
}

// Store returns the point store backing the running server, or nil if the
// driver has never been started or has been stopped since.
func (m *Manager) Store() *point.Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store
}

// SetDebugMode toggles the manager's and engine server's log verbosity
// between Info and Debug without requiring a restart.
func (m *Manager) SetDebugMode(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.DebugMode = enabled
	if enabled {
		m.level.Set(slog.LevelDebug)
	} else {
		m.level.Set(slog.LevelInfo)
	}
}

// Start brings the driver up: it builds the point store, the connection
// registry, and the engine server (unless already injected via options),
// binds the listener, and waits up to Settings.StartupTimeout for it to
// come up before giving up.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateRunning || m.state == StateStarting {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.manualStop = false
	m.state = StateStarting
	store := m.store
	reg := m.registry
	m.mu.Unlock()

	if store == nil {
		store = point.New(point.Sizes{
			HR: m.settings.HoldingRegisters,
			IR: m.settings.InputRegisters,
			CO: m.settings.Coils,
			DI: m.settings.DiscreteInputs,
		}, 0)
	}
	if reg == nil {
		reg = registry.New()
	}

	handler := engine.NewPointHandler(store, m.settings.ServerID())
	srv := engine.NewServer(handler,
		engine.WithServerLogger(m.logger),
		engine.WithMaxConnections(m.settings.MaxConnections),
		engine.WithReadTimeout(m.settings.ReadTimeout),
		engine.WithUnitID(engine.UnitID(m.settings.UnitID)),
		engine.WithOnConnect(reg.OnConnect),
		engine.WithOnDisconnect(reg.OnDisconnect),
		engine.WithOnRequest(reg.OnRequest),
	)

	addr := fmt.Sprintf("%s:%d", m.settings.Host, m.settings.Port)
	runCtx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServeContext(runCtx, addr)
	}()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.NewTimer(m.settings.StartupTimeout)
	defer deadline.Stop()

	for {
		select {
		case err := <-errCh:
			cancel()
			m.fail(err)
			return fmt.Errorf("start: %w", err)
		case <-ticker.C:
			if srv.Addr() != nil {
				m.mu.Lock()
				m.store = store
				m.registry = reg
				m.server = srv
				m.cancel = cancel
				m.state = StateRunning
				m.startCount++
				m.lastError = ""
				m.mu.Unlock()
				m.logger.Info("driver started", slog.String("addr", srv.Addr().String()))
				return nil
			}
		case <-deadline.C:
			cancel()
			m.fail(ErrStartupTimeout)
			return ErrStartupTimeout
		case <-ctx.Done():
			cancel()
			m.fail(ctx.Err())
			return ctx.Err()
		}
	}
}

func (m *Manager) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateFailed
	m.errorCount++
	if err != nil {
		m.lastError = err.Error()
	}
}

// Stop brings the driver down. manual distinguishes an operator-requested
// stop (which disarms the watchdog) from an internal one used by Restart.
func (m *Manager) Stop(manual bool) error {
	m.mu.Lock()
	if m.state != StateRunning && m.state != StateFailed {
		m.mu.Unlock()
		return ErrNotRunning
	}
	m.state = StateStopping
	m.manualStop = manual
	cancel := m.cancel
	srv := m.server
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if srv != nil {
		srv.Close()
	}

	m.mu.Lock()
	m.state = StateStopped
	m.server = nil
	m.cancel = nil
	m.store = nil
	m.registry = nil
	m.stopCount++
	m.mu.Unlock()

	m.logger.Info("driver stopped", slog.Bool("manual", manual))
	return nil
}

// Restart stops (if running) and starts the driver again, incrementing
// RestartCount. It is safe to call from the watchdog: Stop and Start each
// hold the manager's mutex only briefly and release it before returning,
// so Restart never holds the lock across the whole sequence.
func (m *Manager) Restart(ctx context.Context) error {
	m.mu.Lock()
	m.restartCount++
	m.mu.Unlock()

	_ = m.Stop(false)
	return m.Start(ctx)
}
