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

// Package registry tracks every client currently (or recently) talking to
// the Modbus server: when it connected, when it was last heard from, and
// how many requests it has made.
package registry

import (
	"net"
	"sync"
	"time"

	"github.com/ironspan/modbus-driver/engine"
)

// Record is a point-in-time snapshot of one client, keyed by IP rather than
// by socket address: a device that reconnects on a new ephemeral port is
// still the same client and must update the same record, not create a new
// one.
type Record struct {
	IP            string
	ConnectedAt   time.Time
	LastRequestAt time.Time
	Requests      int64
	Reads         int64
	Writes        int64
	Errors        int64
	Connected     bool
}

// writeFunctionCodes are the Modbus function codes that mutate the point
// store; every other dispatched code is counted as a read.
var writeFunctionCodes = map[engine.FunctionCode]bool{
	engine.FuncWriteSingleCoil:        true,
	engine.FuncWriteSingleRegister:    true,
	engine.FuncWriteMultipleCoils:     true,
	engine.FuncWriteMultipleRegisters: true,
}

func clientIP(addr net.Addr) string {
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// Registry is a thread-safe table of client connection records, keyed by
// client IP. Unlike point.Store, entries are added and removed over the
// life of the process rather than fixed at construction.
//
// The mutex is a leaf lock: no other lock is ever held while holding it.
type Registry struct {
	mu      sync.Mutex
	records map[string]*Record
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// OnConnect records a new client connection, keyed by IP. It is meant to be
// passed directly as an engine.ServerOption callback. ConnectedAt is only
// set the first time a given IP is seen; a reconnect from the same device
// updates the existing record instead of resetting its history.
func (r *Registry) OnConnect(addr net.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := clientIP(addr)
	rec, ok := r.records[key]
	if !ok {
		rec = &Record{IP: key, ConnectedAt: time.Now().UTC()}
		r.records[key] = rec
	}
	rec.Connected = true
}

// OnDisconnect marks a client as no longer connected. The record is kept
// (not deleted) so recent history remains visible through Snapshot.
func (r *Registry) OnDisconnect(addr net.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.records[clientIP(addr)]; ok {
		rec.Connected = false
	}
}

// OnRequest tallies one request from addr, classifying it as a read or a
// write based on fc and incrementing Errors as well as Requests when ok is
// false.
func (r *Registry) OnRequest(addr net.Addr, fc engine.FunctionCode, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := clientIP(addr)
	rec, found := r.records[key]
	if !found {
		rec = &Record{IP: key, ConnectedAt: time.Now().UTC(), Connected: true}
		r.records[key] = rec
	}
	rec.LastRequestAt = time.Now().UTC()
	rec.Requests++
	if writeFunctionCodes[fc] {
		rec.Writes++
	} else {
		rec.Reads++
	}
	if !ok {
		rec.Errors++
	}
}

// Snapshot returns a copy of every tracked client record.
func (r *Registry) Snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	return out
}

// ActiveCount returns the number of clients currently marked connected.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, rec := range r.records {
		if rec.Connected {
			n++
		}
	}
	return n
}

// Forget removes every record for clients that are not connected, bounding
// the table's growth over a long-running process.
func (r *Registry) Forget() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, rec := range r.records {
		if !rec.Connected {
			delete(r.records, key)
		}
	}
}
