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
	"testing"
	"time"
)

func TestWatchdogRestartsAfterFailure(t *testing.T) {
	m := NewManager(testSettings())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(true)

	m.fail(nil) // simulate the server crashing out from under the manager

	wd := NewWatchdog(m, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	wd.Run(ctx)

	if got := m.Status().State; got != StateRunning {
		t.Fatalf("State after watchdog recovery = %v, want StateRunning", got)
	}
}

func TestWatchdogRespectsManualStop(t *testing.T) {
	m := NewManager(testSettings())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Stop(true); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	m.fail(nil) // State is Failed with ManualStop still true from Stop(true)

	wd := NewWatchdog(m, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	wd.Run(ctx)

	if got := m.Status().State; got != StateFailed {
		t.Fatalf("State after watchdog with ManualStop = %v, want StateFailed (untouched)", got)
	}
}

func TestWatchdogGivesUpAfterMaxRetries(t *testing.T) {
	settings := testSettings()
	settings.Host = "999.999.999.999" // invalid address: every Start attempt fails fast
	settings.WatchdogMaxRetries = 1
	settings.StartupTimeout = 100 * time.Millisecond

	m := NewManager(settings)
	m.fail(nil)
	m.mu.Lock()
	m.manualStop = false
	m.mu.Unlock()

	wd := NewWatchdog(m, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 600*time.Millisecond)
	defer cancel()
	wd.Run(ctx)

	if wd.consecutiveFailures < settings.WatchdogMaxRetries {
		t.Fatalf("consecutiveFailures = %d, want >= %d", wd.consecutiveFailures, settings.WatchdogMaxRetries)
	}
}
