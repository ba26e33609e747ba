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

// Package engine implements the Modbus TCP slave protocol: MBAP framing,
// function-code dispatch, and the Handler boundary a point store sits
// behind.
package engine

import (
	"context"
	"time"
)

// UnitID is the Modbus unit identifier (slave address) carried in the MBAP
// header.
type UnitID uint8

// FunctionCode is a Modbus function code.
type FunctionCode uint8

// Function codes this server dispatches.
const (
	FuncReadCoils              FunctionCode = 0x01
	FuncReadDiscreteInputs     FunctionCode = 0x02
	FuncReadHoldingRegisters   FunctionCode = 0x03
	FuncReadInputRegisters     FunctionCode = 0x04
	FuncWriteSingleCoil        FunctionCode = 0x05
	FuncWriteSingleRegister    FunctionCode = 0x06
	FuncReadExceptionStatus    FunctionCode = 0x07
	FuncDiagnostics            FunctionCode = 0x08
	FuncGetCommEventCounter    FunctionCode = 0x0B
	FuncWriteMultipleCoils     FunctionCode = 0x0F
	FuncWriteMultipleRegisters FunctionCode = 0x10
	FuncReportServerID         FunctionCode = 0x11
)

// String returns the conventional Modbus mnemonic for fc, or a numeric
// fallback for anything this server doesn't implement.
func (fc FunctionCode) String() string {
	switch fc {
	case FuncReadCoils:
		return "ReadCoils"
	case FuncReadDiscreteInputs:
		return "ReadDiscreteInputs"
	case FuncReadHoldingRegisters:
		return "ReadHoldingRegisters"
	case FuncReadInputRegisters:
		return "ReadInputRegisters"
	case FuncWriteSingleCoil:
		return "WriteSingleCoil"
	case FuncWriteSingleRegister:
		return "WriteSingleRegister"
	case FuncReadExceptionStatus:
		return "ReadExceptionStatus"
	case FuncDiagnostics:
		return "Diagnostics"
	case FuncGetCommEventCounter:
		return "GetCommEventCounter"
	case FuncWriteMultipleCoils:
		return "WriteMultipleCoils"
	case FuncWriteMultipleRegisters:
		return "WriteMultipleRegisters"
	case FuncReportServerID:
		return "ReportServerID"
	default:
		return "Unknown"
	}
}

// Diagnostic sub-function codes for FC08.
const (
	DiagReturnQueryData        uint16 = 0x00
	DiagRestartCommunications  uint16 = 0x01
	DiagForceListenOnlyMode    uint16 = 0x04
	DiagClearCountersAndDiag   uint16 = 0x0A
	DiagReturnServerMessageCnt uint16 = 0x0E
)

// Protocol limits and well-known constants.
const (
	MaxQuantityCoils          = 2000
	MaxQuantityDiscreteInputs = 2000
	MaxQuantityRegisters      = 125
	MaxQuantityWriteRegisters = 123

	MBAPHeaderSize = 7
	ProtocolID     = 0

	DefaultReadTimeout = 30 * time.Second
	DefaultPort        = 502
)

// Coil wire values for FC05 write requests/responses.
const (
	CoilOn  uint16 = 0xFF00
	CoilOff uint16 = 0x0000
)

// Handler dispatches the data-plane operations of the Modbus function set
// this server speaks. ctx carries the originating connection's peer
// address (see ClientAddrFromContext) and is cancelled when that
// connection closes.
type Handler interface {
	ReadCoils(ctx context.Context, unitID UnitID, addr, qty uint16) ([]bool, error)
	ReadDiscreteInputs(ctx context.Context, unitID UnitID, addr, qty uint16) ([]bool, error)
	WriteSingleCoil(ctx context.Context, unitID UnitID, addr uint16, value bool) error
	WriteMultipleCoils(ctx context.Context, unitID UnitID, addr uint16, values []bool) error

	ReadHoldingRegisters(ctx context.Context, unitID UnitID, addr, qty uint16) ([]uint16, error)
	ReadInputRegisters(ctx context.Context, unitID UnitID, addr, qty uint16) ([]uint16, error)
	WriteSingleRegister(ctx context.Context, unitID UnitID, addr, value uint16) error
	WriteMultipleRegisters(ctx context.Context, unitID UnitID, addr uint16, values []uint16) error

	ReadExceptionStatus(ctx context.Context, unitID UnitID) (uint8, error)
	Diagnostics(ctx context.Context, unitID UnitID, subFunc uint16, data []byte) ([]byte, error)
	GetCommEventCounter(ctx context.Context, unitID UnitID) (status uint16, eventCount uint16, err error)
	ReportServerID(ctx context.Context, unitID UnitID) ([]byte, error)
}
