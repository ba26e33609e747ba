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

package lifecycle

import (
	"context"
	"log/slog"
	"time"
)

// Watchdog polls a Manager's health and restarts it after an unexpected
// failure, up to Settings.WatchdogMaxRetries consecutive attempts. A
// manual stop (Status().ManualStop) disarms it: an operator-requested stop
// is not a failure to recover from.
type Watchdog struct {
	manager *Manager
	logger  *slog.Logger

	consecutiveFailures int
}

// NewWatchdog creates a Watchdog supervising manager.
func NewWatchdog(manager *Manager, logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{manager: manager, logger: logger}
}

// Run polls the manager every Settings.WatchdogPollInterval until ctx is
// cancelled. It never holds the manager's lock while calling Restart:
// it reads a Status() snapshot (which locks only briefly), then acts on
// that snapshot outside of any lock.
func (w *Watchdog) Run(ctx context.Context) {
	interval := w.manager.settings.WatchdogPollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

func (w *Watchdog) check(ctx context.Context) {
	status := w.manager.Status()

	if status.State != StateFailed {
		w.consecutiveFailures = 0
		return
	}
	if status.ManualStop {
		return
	}

	if w.consecutiveFailures >= w.manager.settings.WatchdogMaxRetries {
		w.logger.Error("watchdog giving up after repeated restart failures",
			slog.Int("attempts", w.consecutiveFailures))
		return
	}

	w.consecutiveFailures++
	w.logger.Warn("watchdog restarting failed driver",
		slog.Int("attempt", w.consecutiveFailures),
		slog.String("last_error", status.LastError))

	if err := w.manager.Restart(ctx); err != nil {
		w.logger.Error("watchdog restart failed", slog.String("error", err.Error()))
		return
	}
	w.consecutiveFailures = 0
}
