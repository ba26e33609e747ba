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
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/ironspan/modbus-driver/point"
)

func startTestServer(t *testing.T, opts ...ServerOption) (*Server, net.Addr) {
	t.Helper()
	store := point.New(point.Sizes{HR: 16, IR: 16, CO: 16, DI: 16}, 0)
	handler := NewPointHandler(store, []byte("srv"))
	srv := NewServer(handler, opts...)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	go srv.Serve(listener)
	t.Cleanup(func() { srv.Close() })
	return srv, listener.Addr()
}

func readHoldingRegistersPDU(addr, qty uint16) []byte {
	pdu := make([]byte, 5)
	pdu[0] = byte(FuncReadHoldingRegisters)
	binary.BigEndian.PutUint16(pdu[1:3], addr)
	binary.BigEndian.PutUint16(pdu[3:5], qty)
	return pdu
}

func roundTrip(t *testing.T, addr net.Addr, unitID UnitID, pdu []byte) *Frame {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	req := &Frame{Header: MBAPHeader{TransactionID: 1, UnitID: unitID}, PDU: pdu}
	if _, err := conn.Write(req.Encode()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(time.Second))

	resp, err := ReadFrame(conn)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	return resp
}

func TestServerReadHoldingRegistersEndToEnd(t *testing.T) {
	_, addr := startTestServer(t)

	resp := roundTrip(t, addr, 1, readHoldingRegistersPDU(0, 2))
	if resp.PDU[0] != byte(FuncReadHoldingRegisters) {
		t.Fatalf("response function code = %02X, want %02X", resp.PDU[0], FuncReadHoldingRegisters)
	}
	if resp.PDU[1] != 4 {
		t.Fatalf("byte count = %d, want 4", resp.PDU[1])
	}
}

func TestServerUnitIDMismatch(t *testing.T) {
	_, addr := startTestServer(t, WithUnitID(5))

	resp := roundTrip(t, addr, 9, readHoldingRegistersPDU(0, 1))
	if resp.PDU[0] != byte(FuncReadHoldingRegisters)|0x80 {
		t.Fatalf("response function code = %02X, want exception", resp.PDU[0])
	}
	if ExceptionCode(resp.PDU[1]) != ExceptionGatewayTargetDeviceFailedToRespond {
		t.Fatalf("exception code = %v, want ExceptionGatewayTargetDeviceFailedToRespond", ExceptionCode(resp.PDU[1]))
	}
}

func TestServerIllegalFunctionCode(t *testing.T) {
	_, addr := startTestServer(t)

	resp := roundTrip(t, addr, 1, []byte{0x2B})
	if resp.PDU[0] != 0x2B|0x80 {
		t.Fatalf("response function code = %02X, want exception", resp.PDU[0])
	}
	if ExceptionCode(resp.PDU[1]) != ExceptionIllegalFunction {
		t.Fatalf("exception code = %v, want ExceptionIllegalFunction", ExceptionCode(resp.PDU[1]))
	}
}

func TestServerCloseIsIdempotent(t *testing.T) {
	srv, _ := startTestServer(t)
	if err := srv.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestServerOnConnectOnDisconnectCallbacks(t *testing.T) {
	connected := make(chan net.Addr, 1)
	disconnected := make(chan net.Addr, 1)

	_, addr := startTestServer(t,
		WithOnConnect(func(a net.Addr) { connected <- a }),
		WithOnDisconnect(func(a net.Addr) { disconnected <- a }),
	)

	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("onConnect callback not invoked")
	}

	conn.Close()

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("onDisconnect callback not invoked")
	}
}
