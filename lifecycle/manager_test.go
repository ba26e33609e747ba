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
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/ironspan/modbus-driver/point"
)

func testSettings() Settings {
	s := DefaultSettings()
	s.Host = "127.0.0.1"
	s.Port = 0 // let the OS pick a free port
	s.HoldingRegisters, s.InputRegisters, s.Coils, s.DiscreteInputs = 4, 4, 4, 4
	s.StartupTimeout = 2 * time.Second
	s.WatchdogPollInterval = 20 * time.Millisecond
	s.WatchdogMaxRetries = 2
	return s
}

func TestManagerStartStop(t *testing.T) {
	m := NewManager(testSettings())

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := m.Status().State; got != StateRunning {
		t.Fatalf("State after Start = %v, want StateRunning", got)
	}

	if err := m.Stop(true); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := m.Status().State; got != StateStopped {
		t.Fatalf("State after Stop = %v, want StateStopped", got)
	}
}

func TestManagerStopThenStartResetsStore(t *testing.T) {
	m := NewManager(testSettings())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := m.Store().Write(point.HR, 0, 42); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := m.Stop(true); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	defer m.Stop(true)

	p, err := m.Store().Read(point.HR, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if p.Value != 0 || p.Quality != point.QualityUnknown {
		t.Fatalf("point after restart = %+v, want default value 0 and quality UNKNOWN", p)
	}
}

func TestManagerStopIncrementsStopCount(t *testing.T) {
	m := NewManager(testSettings())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Stop(true); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := m.Status().StopCount; got != 1 {
		t.Fatalf("StopCount = %d, want 1", got)
	}
}

func TestManagerFailedStartIncrementsErrorCountNotStartCount(t *testing.T) {
	m1 := NewManager(testSettings())
	if err := m1.Start(context.Background()); err != nil {
		t.Fatalf("Start m1: %v", err)
	}
	defer m1.Stop(true)

	addr := m1.server.Addr()
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Atoi: %v", err)
	}

	s2 := testSettings()
	s2.Host = host
	s2.Port = port
	s2.StartupTimeout = 300 * time.Millisecond

	m2 := NewManager(s2)
	if err := m2.Start(context.Background()); err == nil {
		t.Fatal("Start on an in-use port: want error, got nil")
	}
	st := m2.Status()
	if st.ErrorCount != 1 {
		t.Fatalf("ErrorCount = %d, want 1", st.ErrorCount)
	}
	if st.StartCount != 0 {
		t.Fatalf("StartCount = %d, want 0 (failed start must not count as a successful start)", st.StartCount)
	}
}

func TestManagerStartTwiceFails(t *testing.T) {
	m := NewManager(testSettings())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(true)

	if err := m.Start(context.Background()); err != ErrAlreadyRunning {
		t.Fatalf("second Start: err = %v, want ErrAlreadyRunning", err)
	}
}

func TestManagerStopWhenNotRunning(t *testing.T) {
	m := NewManager(testSettings())
	if err := m.Stop(true); err != ErrNotRunning {
		t.Fatalf("Stop on stopped manager: err = %v, want ErrNotRunning", err)
	}
}

func TestManagerRestartIncrementsCount(t *testing.T) {
	m := NewManager(testSettings())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(true)

	if err := m.Restart(context.Background()); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if got := m.Status().RestartCount; got != 1 {
		t.Fatalf("RestartCount = %d, want 1", got)
	}
	if got := m.Status().State; got != StateRunning {
		t.Fatalf("State after Restart = %v, want StateRunning", got)
	}
}

func TestManagerSetDebugMode(t *testing.T) {
	m := NewManager(testSettings())
	if m.Status().DebugMode {
		t.Fatal("DebugMode true before SetDebugMode(true)")
	}
	m.SetDebugMode(true)
	if !m.Status().DebugMode {
		t.Fatal("DebugMode false after SetDebugMode(true)")
	}
	m.SetDebugMode(false)
	if m.Status().DebugMode {
		t.Fatal("DebugMode true after SetDebugMode(false)")
	}
}

func TestManagerStartPortInUseFails(t *testing.T) {
	m1 := NewManager(testSettings())
	if err := m1.Start(context.Background()); err != nil {
		t.Fatalf("Start m1: %v", err)
	}
	defer m1.Stop(true)

	addr := m1.server.Addr()
	if addr == nil {
		t.Fatal("m1 server has no address")
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Atoi: %v", err)
	}

	s2 := testSettings()
	s2.Host = host
	s2.Port = port
	s2.StartupTimeout = 300 * time.Millisecond

	m2 := NewManager(s2)
	if err := m2.Start(context.Background()); err == nil {
		t.Fatal("Start on an in-use port: want error, got nil")
	}
	if got := m2.Status().State; got != StateFailed {
		t.Fatalf("State after failed Start = %v, want StateFailed", got)
	}
}
