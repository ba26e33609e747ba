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

package point

import (
	"fmt"
	"sync"
	"time"
)

// Sizes gives the configured point count for each of the four areas.
type Sizes struct {
	HR, IR, CO, DI int
}

// Store is the authoritative, thread-safe table of every Point in every
// area. Area sizes are fixed at construction (New); the set of valid
// addresses never changes during a run.
//
// A single mutex covers all four areas: critical sections are a single
// point update or an area snapshot copy, so contention stays low, and the
// lock is a leaf — no other lock is ever acquired while holding it.
type Store struct {
	mu     sync.Mutex
	areas  map[Area]int
	points map[Area]map[int]*Point
}

// New creates a Store with the given area sizes. Every address in
// [0, count) is initialized to defaultValue with QualityUnknown.
func New(sizes Sizes, defaultValue uint16) *Store {
	s := &Store{
		areas: map[Area]int{
			HR: sizes.HR,
			IR: sizes.IR,
			CO: sizes.CO,
			DI: sizes.DI,
		},
		points: make(map[Area]map[int]*Point),
	}

	now := time.Now().UTC()
	for area, count := range s.areas {
		pts := make(map[int]*Point, count)
		for addr := 0; addr < count; addr++ {
			pts[addr] = &Point{Value: defaultValue, Quality: QualityUnknown, Timestamp: now}
		}
		s.points[area] = pts
	}

	return s
}

// Areas returns the configured size of every area.
func (s *Store) Areas() map[Area]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[Area]int, len(s.areas))
	for a, n := range s.areas {
		out[a] = n
	}
	return out
}

// Read returns a snapshot copy of the Point at (area, address).
func (s *Store) Read(area Area, address int) (Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.points[area][address]
	if !ok {
		return Point{}, fmt.Errorf("%w: %s[%d]", ErrNotFound, area, address)
	}
	return *p, nil
}

// Write stores raw at (area, address), applying the I3/I4 normalization
// rules. Writes to IR or DI fail with ErrPermissionDenied. A successful
// write atomically updates value, sets quality to QualityOK, and advances
// the timestamp.
func (s *Store) Write(area Area, address int, raw int32) error {
	if !area.Writable() {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, area)
	}

	var value uint16
	if area.Bit() {
		value = NormalizeBit(raw)
	} else {
		v, err := NormalizeRegister(raw)
		if err != nil {
			return err
		}
		value = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.points[area][address]
	if !ok {
		return fmt.Errorf("%w: %s[%d]", ErrNotFound, area, address)
	}

	p.Value = value
	p.Quality = QualityOK
	p.Timestamp = time.Now().UTC()
	return nil
}

// SetQuality updates a point's quality and timestamp without changing its
// value. It is a no-op if the address is absent.
func (s *Store) SetQuality(area Area, address int, quality Quality) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.points[area][address]
	if !ok {
		return
	}
	p.Quality = quality
	p.Timestamp = time.Now().UTC()
}

// Snapshot returns a deep copy of every point in area, keyed by address.
func (s *Store) Snapshot(area Area) map[int]Point {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int]Point, len(s.points[area]))
	for addr, p := range s.points[area] {
		out[addr] = *p
	}
	return out
}

// ChangedSince returns every point in area whose timestamp is strictly
// after instant. The strict inequality lets a polling collector advance
// its cursor to the last point it was handed without re-reading it.
func (s *Store) ChangedSince(area Area, instant time.Time) map[int]Point {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int]Point)
	for addr, p := range s.points[area] {
		if p.Timestamp.After(instant) {
			out[addr] = *p
		}
	}
	return out
}
