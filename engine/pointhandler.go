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
	"errors"

	"github.com/ironspan/modbus-driver/point"
)

// PointHandler implements Handler against a point.Store. Reads and writes
// to IR/DI areas are traced back to the store's Read/Write semantics the
// same way the store itself enforces them; PointHandler's job is purely
// translating Modbus addresses and wire values, not re-deriving I3/I4.
type PointHandler struct {
	store    *point.Store
	serverID []byte
}

// NewPointHandler wraps store. serverID is the payload returned by
// FC 0x11 (ReportServerID).
func NewPointHandler(store *point.Store, serverID []byte) *PointHandler {
	return &PointHandler{store: store, serverID: serverID}
}

func mapStoreErr(fc FunctionCode, err error) error {
	switch {
	case errors.Is(err, point.ErrNotFound):
		return NewModbusError(fc, ExceptionIllegalDataAddress)
	case errors.Is(err, point.ErrPermissionDenied):
		return NewModbusError(fc, ExceptionIllegalFunction)
	case errors.Is(err, point.ErrOutOfRange):
		return NewModbusError(fc, ExceptionIllegalDataValue)
	default:
		return err
	}
}

func (h *PointHandler) readBits(fc FunctionCode, area point.Area, addr, qty uint16) ([]bool, error) {
	out := make([]bool, qty)
	for i := uint16(0); i < qty; i++ {
		p, err := h.store.Read(area, int(addr)+int(i))
		if err != nil {
			return nil, mapStoreErr(fc, err)
		}
		out[i] = p.Value != 0
	}
	return out, nil
}

func (h *PointHandler) readWords(fc FunctionCode, area point.Area, addr, qty uint16) ([]uint16, error) {
	out := make([]uint16, qty)
	for i := uint16(0); i < qty; i++ {
		p, err := h.store.Read(area, int(addr)+int(i))
		if err != nil {
			return nil, mapStoreErr(fc, err)
		}
		out[i] = p.Value
	}
	return out, nil
}

// ReadCoils implements Handler.
func (h *PointHandler) ReadCoils(ctx context.Context, unitID UnitID, addr, qty uint16) ([]bool, error) {
	return h.readBits(FuncReadCoils, point.CO, addr, qty)
}

// ReadDiscreteInputs implements Handler.
func (h *PointHandler) ReadDiscreteInputs(ctx context.Context, unitID UnitID, addr, qty uint16) ([]bool, error) {
	return h.readBits(FuncReadDiscreteInputs, point.DI, addr, qty)
}

// ReadHoldingRegisters implements Handler.
func (h *PointHandler) ReadHoldingRegisters(ctx context.Context, unitID UnitID, addr, qty uint16) ([]uint16, error) {
	return h.readWords(FuncReadHoldingRegisters, point.HR, addr, qty)
}

// ReadInputRegisters implements Handler.
func (h *PointHandler) ReadInputRegisters(ctx context.Context, unitID UnitID, addr, qty uint16) ([]uint16, error) {
	return h.readWords(FuncReadInputRegisters, point.IR, addr, qty)
}

// WriteSingleCoil implements Handler.
func (h *PointHandler) WriteSingleCoil(ctx context.Context, unitID UnitID, addr uint16, value bool) error {
	raw := int32(0)
	if value {
		raw = 1
	}
	if err := h.store.Write(point.CO, int(addr), raw); err != nil {
		return mapStoreErr(FuncWriteSingleCoil, err)
	}
	return nil
}

// WriteMultipleCoils implements Handler.
func (h *PointHandler) WriteMultipleCoils(ctx context.Context, unitID UnitID, addr uint16, values []bool) error {
	for i, v := range values {
		raw := int32(0)
		if v {
			raw = 1
		}
		if err := h.store.Write(point.CO, int(addr)+i, raw); err != nil {
			return mapStoreErr(FuncWriteMultipleCoils, err)
		}
	}
	return nil
}

// WriteSingleRegister implements Handler.
func (h *PointHandler) WriteSingleRegister(ctx context.Context, unitID UnitID, addr, value uint16) error {
	if err := h.store.Write(point.HR, int(addr), int32(value)); err != nil {
		return mapStoreErr(FuncWriteSingleRegister, err)
	}
	return nil
}

// WriteMultipleRegisters implements Handler.
func (h *PointHandler) WriteMultipleRegisters(ctx context.Context, unitID UnitID, addr uint16, values []uint16) error {
	for i, v := range values {
		if err := h.store.Write(point.HR, int(addr)+i, int32(v)); err != nil {
			return mapStoreErr(FuncWriteMultipleRegisters, err)
		}
	}
	return nil
}

// ReadExceptionStatus implements Handler. This server tracks no
// device-level exception flags, so it always reports a clear status.
func (h *PointHandler) ReadExceptionStatus(ctx context.Context, unitID UnitID) (uint8, error) {
	return 0, nil
}

// Diagnostics implements Handler for the single FC08 sub-function this
// server supports: echoing the query data back (DiagReturnQueryData).
func (h *PointHandler) Diagnostics(ctx context.Context, unitID UnitID, subFunc uint16, data []byte) ([]byte, error) {
	if subFunc != DiagReturnQueryData {
		return nil, NewModbusError(FuncDiagnostics, ExceptionIllegalFunction)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// GetCommEventCounter implements Handler. Status 0xFFFF signals "not
// busy"; the event count is not tracked per spec scope and is reported as
// zero.
func (h *PointHandler) GetCommEventCounter(ctx context.Context, unitID UnitID) (uint16, uint16, error) {
	return 0xFFFF, 0, nil
}

// ReportServerID implements Handler, returning the configured device
// identity string.
func (h *PointHandler) ReportServerID(ctx context.Context, unitID UnitID) ([]byte, error) {
	out := make([]byte, len(h.serverID))
	copy(out, h.serverID)
	return out, nil
}
