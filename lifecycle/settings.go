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
	"strings"
	"time"
)

// Settings is the full set of tunables loaded from settings.ini (see
// cmd/modbusdriverd/config.go) that govern how the driver listens, what
// point table it exposes, and how its watchdog behaves.
type Settings struct {
	// Host and Port are the Modbus TCP listen address.
	Host string
	Port int

	// UnitID restricts which unit ID the server answers; 0 accepts any.
	UnitID uint8

	// HoldingRegisters, InputRegisters, Coils, DiscreteInputs are the
	// configured point counts for each area.
	HoldingRegisters int
	InputRegisters   int
	Coils            int
	DiscreteInputs   int

	// MaxConnections bounds concurrent TCP clients.
	MaxConnections int
	// ReadTimeout is the idle deadline applied to each client connection.
	ReadTimeout time.Duration

	// StartupTimeout bounds how long Start waits for the listener to come
	// up before reporting failure.
	StartupTimeout time.Duration

	// WatchdogPollInterval is how often the watchdog checks driver health.
	WatchdogPollInterval time.Duration
	// WatchdogMaxRetries bounds how many consecutive automatic restarts
	// the watchdog will attempt before giving up and staying Failed.
	WatchdogMaxRetries int

	// DebugMode enables verbose (debug-level) logging at startup.
	DebugMode bool

	// VendorName, ProductCode, VendorURL, ProductName, Revision are the
	// DEVICE section identification fields composed into the FC 0x11
	// ReportServerID payload.
	VendorName  string
	ProductCode string
	VendorURL   string
	ProductName string
	Revision    string
}

// ServerID composes the DEVICE identification fields into the payload FC
// 0x11 (ReportServerID) returns on the wire.
func (s Settings) ServerID() []byte {
	return []byte(strings.Join([]string{
		s.VendorName, s.ProductCode, s.VendorURL, s.ProductName, s.Revision,
	}, "|"))
}

// DefaultSettings returns the settings the original driver shipped with.
func DefaultSettings() Settings {
	return Settings{
		Host:                 "0.0.0.0",
		Port:                 502,
		HoldingRegisters:     1000,
		InputRegisters:       1000,
		Coils:                1000,
		DiscreteInputs:       1000,
		MaxConnections:       100,
		ReadTimeout:          30 * time.Second,
		StartupTimeout:       3 * time.Second,
		WatchdogPollInterval: 5 * time.Second,
		WatchdogMaxRetries:   3,
		VendorName:           "ironspan",
		ProductCode:          "MBD",
		VendorURL:            "https://github.com/ironspan/modbus-driver",
		ProductName:          "modbus-driver",
		Revision:             "1.0",
	}
}
