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
	"errors"
	"sync"
	"testing"
	"time"
)

func testStore() *Store {
	return New(Sizes{HR: 4, IR: 4, CO: 4, DI: 4}, 0)
}

func TestNewInitializesUnknown(t *testing.T) {
	s := testStore()
	p, err := s.Read(HR, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if p.Quality != QualityUnknown {
		t.Fatalf("initial quality = %s, want UNKNOWN", p.Quality)
	}
	if p.Value != 0 {
		t.Fatalf("initial value = %d, want 0", p.Value)
	}
}

func TestReadUnknownAddress(t *testing.T) {
	s := testStore()
	if _, err := s.Read(HR, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Read out-of-range address: err = %v, want ErrNotFound", err)
	}
}

func TestWriteReadOnlyAreaRejected(t *testing.T) {
	s := testStore()
	if err := s.Write(IR, 0, 5); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Write(IR): err = %v, want ErrPermissionDenied", err)
	}
	if err := s.Write(DI, 0, 1); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Write(DI): err = %v, want ErrPermissionDenied", err)
	}
}

func TestWriteRegisterNormalization(t *testing.T) {
	s := testStore()

	if err := s.Write(HR, 0, -1); err != nil {
		t.Fatalf("Write(-1): %v", err)
	}
	p, _ := s.Read(HR, 0)
	if p.Value != 65535 {
		t.Fatalf("Write(-1) -> Value = %d, want 65535", p.Value)
	}

	if err := s.Write(HR, 1, -32768); err != nil {
		t.Fatalf("Write(-32768): %v", err)
	}
	p, _ = s.Read(HR, 1)
	if p.Value != 32768 {
		t.Fatalf("Write(-32768) -> Value = %d, want 32768", p.Value)
	}

	if err := s.Write(HR, 2, 65535); err != nil {
		t.Fatalf("Write(65535): %v", err)
	}

	if err := s.Write(HR, 3, -32769); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Write(-32769): err = %v, want ErrOutOfRange", err)
	}
	if err := s.Write(HR, 3, 65536); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Write(65536): err = %v, want ErrOutOfRange", err)
	}
}

func TestWriteBitNormalization(t *testing.T) {
	s := testStore()

	if err := s.Write(CO, 0, 42); err != nil {
		t.Fatalf("Write(42): %v", err)
	}
	p, _ := s.Read(CO, 0)
	if p.Value != 1 {
		t.Fatalf("Write(42) on coil -> Value = %d, want 1", p.Value)
	}

	if err := s.Write(CO, 1, 0); err != nil {
		t.Fatalf("Write(0): %v", err)
	}
	p, _ = s.Read(CO, 1)
	if p.Value != 0 {
		t.Fatalf("Write(0) on coil -> Value = %d, want 0", p.Value)
	}
}

func TestWriteSetsQualityAndTimestamp(t *testing.T) {
	s := testStore()
	before := time.Now().UTC()

	if err := s.Write(HR, 0, 7); err != nil {
		t.Fatalf("Write: %v", err)
	}
	p, _ := s.Read(HR, 0)
	if p.Quality != QualityOK {
		t.Fatalf("quality after write = %s, want OK", p.Quality)
	}
	if !p.Timestamp.After(before) && !p.Timestamp.Equal(before) {
		t.Fatalf("timestamp %v not advanced past %v", p.Timestamp, before)
	}
}

func TestSetQualityUnknownAddressNoop(t *testing.T) {
	s := testStore()
	s.SetQuality(HR, 999, QualityBad) // must not panic
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	s := testStore()
	s.Write(HR, 0, 1)

	snap := s.Snapshot(HR)
	s.Write(HR, 0, 2)

	if snap[0].Value != 1 {
		t.Fatalf("snapshot mutated after later write: got %d, want 1", snap[0].Value)
	}
}

func TestChangedSinceStrictInequality(t *testing.T) {
	s := testStore()
	if err := s.Write(HR, 0, 1); err != nil {
		t.Fatalf("Write: %v", err)
	}
	p, _ := s.Read(HR, 0)
	cursor := p.Timestamp

	changed := s.ChangedSince(HR, cursor)
	if _, ok := changed[0]; ok {
		t.Fatalf("ChangedSince(cursor) included a point timestamped exactly at cursor")
	}

	time.Sleep(time.Millisecond)
	if err := s.Write(HR, 0, 2); err != nil {
		t.Fatalf("Write: %v", err)
	}
	changed = s.ChangedSince(HR, cursor)
	if _, ok := changed[0]; !ok {
		t.Fatalf("ChangedSince(cursor) missing point written after cursor")
	}
}

func TestAreasReportsConfiguredSizes(t *testing.T) {
	s := testStore()
	areas := s.Areas()
	for _, a := range []Area{HR, IR, CO, DI} {
		if areas[a] != 4 {
			t.Fatalf("Areas()[%s] = %d, want 4", a, areas[a])
		}
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := New(Sizes{HR: 16}, 0)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(addr int) {
			defer wg.Done()
			for n := 0; n < 100; n++ {
				if err := s.Write(HR, addr, int32(n)); err != nil {
					t.Errorf("Write: %v", err)
				}
				if _, err := s.Read(HR, addr); err != nil {
					t.Errorf("Read: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()
}
