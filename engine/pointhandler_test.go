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

package engine

import (
	"context"
	"testing"

	"github.com/ironspan/modbus-driver/point"
)

func newTestHandler() *PointHandler {
	store := point.New(point.Sizes{HR: 8, IR: 8, CO: 8, DI: 8}, 0)
	return NewPointHandler(store, []byte("test-unit"))
}

func TestPointHandlerWriteThenReadHoldingRegister(t *testing.T) {
	h := newTestHandler()
	ctx := context.Background()

	if err := h.WriteSingleRegister(ctx, 1, 3, 42); err != nil {
		t.Fatalf("WriteSingleRegister: %v", err)
	}
	vals, err := h.ReadHoldingRegisters(ctx, 1, 3, 1)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	if vals[0] != 42 {
		t.Fatalf("value = %d, want 42", vals[0])
	}
}

func TestPointHandlerWriteMultipleCoilsOutOfRange(t *testing.T) {
	h := newTestHandler()
	err := h.WriteMultipleCoils(context.Background(), 1, 6, []bool{true, true, true})
	if !IsException(err, ExceptionIllegalDataAddress) {
		t.Fatalf("err = %v, want ExceptionIllegalDataAddress", err)
	}
}

func TestPointHandlerOutOfRangeAddressIsIllegalDataAddress(t *testing.T) {
	h := newTestHandler()
	_, err := h.ReadHoldingRegisters(context.Background(), 1, 100, 1)
	if !IsException(err, ExceptionIllegalDataAddress) {
		t.Fatalf("err = %v, want ExceptionIllegalDataAddress", err)
	}
}

func TestPointHandlerCoilNormalization(t *testing.T) {
	h := newTestHandler()
	ctx := context.Background()

	if err := h.WriteSingleCoil(ctx, 1, 0, true); err != nil {
		t.Fatalf("WriteSingleCoil: %v", err)
	}
	vals, err := h.ReadCoils(ctx, 1, 0, 1)
	if err != nil {
		t.Fatalf("ReadCoils: %v", err)
	}
	if !vals[0] {
		t.Fatal("coil value = false, want true")
	}
}

func TestPointHandlerDiagnosticsEchoesQueryData(t *testing.T) {
	h := newTestHandler()
	data := []byte{0xAA, 0xBB}
	out, err := h.Diagnostics(context.Background(), 1, DiagReturnQueryData, data)
	if err != nil {
		t.Fatalf("Diagnostics: %v", err)
	}
	if string(out) != string(data) {
		t.Fatalf("Diagnostics echo = %v, want %v", out, data)
	}
}

func TestPointHandlerDiagnosticsUnknownSubFunc(t *testing.T) {
	h := newTestHandler()
	_, err := h.Diagnostics(context.Background(), 1, 0xFFFF, nil)
	if !IsException(err, ExceptionIllegalFunction) {
		t.Fatalf("err = %v, want ExceptionIllegalFunction", err)
	}
}

func TestPointHandlerReportServerID(t *testing.T) {
	h := newTestHandler()
	id, err := h.ReportServerID(context.Background(), 1)
	if err != nil {
		t.Fatalf("ReportServerID: %v", err)
	}
	if string(id) != "test-unit" {
		t.Fatalf("ReportServerID = %q, want %q", id, "test-unit")
	}
}
