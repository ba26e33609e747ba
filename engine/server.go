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
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Server is a Modbus TCP slave: it accepts connections, frames requests off
// the wire, dispatches them to a Handler, and writes back responses or
// exception PDUs.
type Server struct {
	handler Handler
	opts    *serverOptions

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   int32
	wg       sync.WaitGroup
	metrics  *ServerMetrics
}

// NewServer creates a Server that dispatches accepted connections to
// handler.
func NewServer(handler Handler, opts ...ServerOption) *Server {
	options := defaultServerOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &Server{
		handler: handler,
		opts:    options,
		conns:   make(map[net.Conn]struct{}),
		metrics: &ServerMetrics{},
	}
}

// Metrics returns the server's running counters.
func (s *Server) Metrics() *ServerMetrics {
	return s.metrics
}

// listenConfig enables SO_REUSEADDR so a restarted server can rebind its
// port immediately instead of waiting out TIME_WAIT on the old socket.
var listenConfig = net.ListenConfig{
	Control: func(network, address string, c syscall.RawConn) error {
		var ctrlErr error
		err := c.Control(func(fd uintptr) {
			ctrlErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
		})
		if err != nil {
			return err
		}
		return ctrlErr
	},
}

// ListenAndServeContext listens on addr and serves connections until ctx is
// cancelled or Close is called.
func (s *Server) ListenAndServeContext(ctx context.Context, addr string) error {
	listener, err := listenConfig.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	return s.Serve(listener)
}

// Serve accepts and handles connections from listener until the server is
// closed.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.opts.logger.Info("engine server started", slog.String("addr", listener.Addr().String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.closed) == 1 {
				return nil
			}
			s.opts.logger.Error("accept error", slog.String("error", err.Error()))
			continue
		}

		s.mu.Lock()
		if len(s.conns) >= s.opts.maxConns {
			s.mu.Unlock()
			s.opts.logger.Warn("max connections reached, rejecting",
				slog.String("remote", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.metrics.ActiveConns.Add(1)
		s.metrics.TotalConns.Add(1)
		s.mu.Unlock()

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetKeepAlive(true)
			tcpConn.SetKeepAlivePeriod(30 * time.Second)
			tcpConn.SetNoDelay(true)
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Close shuts down the server and every open connection. Safe to call more
// than once; only the first call has effect.
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}

	s.mu.Lock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.opts.logger.Info("engine server stopped")
	return err
}

// Addr returns the server's bound address, or nil before Serve starts.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ActiveConnections returns the number of currently open connections.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) handleConn(conn net.Conn) {
	ctx, cancel := context.WithCancel(withClientAddr(context.Background(), conn.RemoteAddr()))
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.opts.logger.Error("panic in connection handler",
				slog.String("remote", conn.RemoteAddr().String()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}

		s.wg.Done()
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.metrics.ActiveConns.Add(-1)
		s.mu.Unlock()
	}()

	s.opts.logger.Debug("connection accepted", slog.String("remote", conn.RemoteAddr().String()))
	if s.opts.onConnect != nil {
		s.opts.onConnect(conn.RemoteAddr())
	}
	if s.opts.onDisconnect != nil {
		defer s.opts.onDisconnect(conn.RemoteAddr())
	}

	for {
		if atomic.LoadInt32(&s.closed) == 1 {
			return
		}

		if s.opts.readTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.opts.readTimeout))
		}

		frame, err := ReadFrame(conn)
		if err != nil {
			if err != io.EOF && atomic.LoadInt32(&s.closed) == 0 {
				if netErr, ok := err.(net.Error); !ok || !netErr.Timeout() {
					s.opts.logger.Debug("read error",
						slog.String("remote", conn.RemoteAddr().String()),
						slog.String("error", err.Error()))
				}
			}
			return
		}

		s.metrics.RequestsTotal.Add(1)
		response := s.processRequest(ctx, frame)
		ok := len(response.PDU) == 0 || response.PDU[0]&0x80 == 0

		if s.opts.onRequest != nil && len(frame.PDU) > 0 {
			s.opts.onRequest(conn.RemoteAddr(), FunctionCode(frame.PDU[0]), ok)
		}

		if s.opts.readTimeout > 0 {
			conn.SetWriteDeadline(time.Now().Add(s.opts.readTimeout))
		}

		if _, err := conn.Write(response.Encode()); err != nil {
			s.metrics.RequestsErrors.Add(1)
			s.opts.logger.Debug("write error",
				slog.String("remote", conn.RemoteAddr().String()),
				slog.String("error", err.Error()))
			return
		}

		if ok {
			s.metrics.RequestsSuccess.Add(1)
		} else {
			s.metrics.RequestsErrors.Add(1)
		}
	}
}

func (s *Server) processRequest(ctx context.Context, req *Frame) *Frame {
	resp := &Frame{
		Header: MBAPHeader{
			TransactionID: req.Header.TransactionID,
			ProtocolID:    ProtocolID,
			UnitID:        req.Header.UnitID,
		},
	}

	if len(req.PDU) < 1 {
		resp.PDU = s.buildException(0, ExceptionIllegalFunction)
		return resp
	}

	fc := FunctionCode(req.PDU[0])
	unitID := req.Header.UnitID

	if s.opts.unitID != 0 && unitID != s.opts.unitID {
		s.opts.logger.Debug("unit ID mismatch",
			slog.Uint64("got", uint64(unitID)), slog.Uint64("want", uint64(s.opts.unitID)))
		resp.PDU = s.buildException(fc, ExceptionGatewayTargetDeviceFailedToRespond)
		return resp
	}

	s.opts.logger.Debug("processing request",
		slog.Uint64("tx_id", uint64(req.Header.TransactionID)),
		slog.Uint64("unit_id", uint64(unitID)),
		slog.String("func", fc.String()))

	var pdu []byte
	var err error

	switch fc {
	case FuncReadCoils:
		pdu, err = s.handleReadCoils(ctx, unitID, req.PDU)
	case FuncReadDiscreteInputs:
		pdu, err = s.handleReadDiscreteInputs(ctx, unitID, req.PDU)
	case FuncReadHoldingRegisters:
		pdu, err = s.handleReadHoldingRegisters(ctx, unitID, req.PDU)
	case FuncReadInputRegisters:
		pdu, err = s.handleReadInputRegisters(ctx, unitID, req.PDU)
	case FuncWriteSingleCoil:
		pdu, err = s.handleWriteSingleCoil(ctx, unitID, req.PDU)
	case FuncWriteSingleRegister:
		pdu, err = s.handleWriteSingleRegister(ctx, unitID, req.PDU)
	case FuncReadExceptionStatus:
		pdu, err = s.handleReadExceptionStatus(ctx, unitID)
	case FuncDiagnostics:
		pdu, err = s.handleDiagnostics(ctx, unitID, req.PDU)
	case FuncGetCommEventCounter:
		pdu, err = s.handleGetCommEventCounter(ctx, unitID)
	case FuncWriteMultipleCoils:
		pdu, err = s.handleWriteMultipleCoils(ctx, unitID, req.PDU)
	case FuncWriteMultipleRegisters:
		pdu, err = s.handleWriteMultipleRegisters(ctx, unitID, req.PDU)
	case FuncReportServerID:
		pdu, err = s.handleReportServerID(ctx, unitID)
	default:
		pdu = s.buildException(fc, ExceptionIllegalFunction)
	}

	if err != nil {
		pdu = s.handleError(fc, err)
	}

	resp.PDU = pdu
	return resp
}

func (s *Server) buildException(fc FunctionCode, ec ExceptionCode) []byte {
	return []byte{byte(fc) | 0x80, byte(ec)}
}

func (s *Server) handleError(fc FunctionCode, err error) []byte {
	if modbusErr, ok := err.(*ModbusError); ok {
		return s.buildException(fc, modbusErr.ExceptionCode)
	}
	s.opts.logger.Error("handler error", slog.String("func", fc.String()), slog.String("error", err.Error()))
	return s.buildException(fc, ExceptionServerDeviceFailure)
}

func (s *Server) handleReadCoils(ctx context.Context, unitID UnitID, pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return s.buildException(FuncReadCoils, ExceptionIllegalDataValue), nil
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])

	if qty < 1 || qty > MaxQuantityCoils {
		return s.buildException(FuncReadCoils, ExceptionIllegalDataValue), nil
	}
	if uint32(addr)+uint32(qty) > 65536 {
		return s.buildException(FuncReadCoils, ExceptionIllegalDataAddress), nil
	}

	values, err := s.handler.ReadCoils(ctx, unitID, addr, qty)
	if err != nil {
		return nil, err
	}
	if uint16(len(values)) != qty {
		return s.buildException(FuncReadCoils, ExceptionServerDeviceFailure), nil
	}

	byteCount := (qty + 7) / 8
	resp := make([]byte, 2+byteCount)
	resp[0] = byte(FuncReadCoils)
	resp[1] = byte(byteCount)
	for i, v := range values {
		if v {
			resp[2+i/8] |= 1 << (i % 8)
		}
	}
	return resp, nil
}

func (s *Server) handleReadDiscreteInputs(ctx context.Context, unitID UnitID, pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return s.buildException(FuncReadDiscreteInputs, ExceptionIllegalDataValue), nil
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])

	if qty < 1 || qty > MaxQuantityDiscreteInputs {
		return s.buildException(FuncReadDiscreteInputs, ExceptionIllegalDataValue), nil
	}
	if uint32(addr)+uint32(qty) > 65536 {
		return s.buildException(FuncReadDiscreteInputs, ExceptionIllegalDataAddress), nil
	}

	values, err := s.handler.ReadDiscreteInputs(ctx, unitID, addr, qty)
	if err != nil {
		return nil, err
	}
	if uint16(len(values)) != qty {
		return s.buildException(FuncReadDiscreteInputs, ExceptionServerDeviceFailure), nil
	}

	byteCount := (qty + 7) / 8
	resp := make([]byte, 2+byteCount)
	resp[0] = byte(FuncReadDiscreteInputs)
	resp[1] = byte(byteCount)
	for i, v := range values {
		if v {
			resp[2+i/8] |= 1 << (i % 8)
		}
	}
	return resp, nil
}

func (s *Server) handleReadHoldingRegisters(ctx context.Context, unitID UnitID, pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return s.buildException(FuncReadHoldingRegisters, ExceptionIllegalDataValue), nil
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])

	if qty < 1 || qty > MaxQuantityRegisters {
		return s.buildException(FuncReadHoldingRegisters, ExceptionIllegalDataValue), nil
	}
	if uint32(addr)+uint32(qty) > 65536 {
		return s.buildException(FuncReadHoldingRegisters, ExceptionIllegalDataAddress), nil
	}

	values, err := s.handler.ReadHoldingRegisters(ctx, unitID, addr, qty)
	if err != nil {
		return nil, err
	}
	if uint16(len(values)) != qty {
		return s.buildException(FuncReadHoldingRegisters, ExceptionServerDeviceFailure), nil
	}

	byteCount := qty * 2
	resp := make([]byte, 2+byteCount)
	resp[0] = byte(FuncReadHoldingRegisters)
	resp[1] = byte(byteCount)
	for i, v := range values {
		binary.BigEndian.PutUint16(resp[2+i*2:], v)
	}
	return resp, nil
}

func (s *Server) handleReadInputRegisters(ctx context.Context, unitID UnitID, pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return s.buildException(FuncReadInputRegisters, ExceptionIllegalDataValue), nil
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])

	if qty < 1 || qty > MaxQuantityRegisters {
		return s.buildException(FuncReadInputRegisters, ExceptionIllegalDataValue), nil
	}
	if uint32(addr)+uint32(qty) > 65536 {
		return s.buildException(FuncReadInputRegisters, ExceptionIllegalDataAddress), nil
	}

	values, err := s.handler.ReadInputRegisters(ctx, unitID, addr, qty)
	if err != nil {
		return nil, err
	}
	if uint16(len(values)) != qty {
		return s.buildException(FuncReadInputRegisters, ExceptionServerDeviceFailure), nil
	}

	byteCount := qty * 2
	resp := make([]byte, 2+byteCount)
	resp[0] = byte(FuncReadInputRegisters)
	resp[1] = byte(byteCount)
	for i, v := range values {
		binary.BigEndian.PutUint16(resp[2+i*2:], v)
	}
	return resp, nil
}

func (s *Server) handleWriteSingleCoil(ctx context.Context, unitID UnitID, pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return s.buildException(FuncWriteSingleCoil, ExceptionIllegalDataValue), nil
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	value := binary.BigEndian.Uint16(pdu[3:5])

	var boolValue bool
	if value == CoilOn {
		boolValue = true
	} else if value != CoilOff {
		return s.buildException(FuncWriteSingleCoil, ExceptionIllegalDataValue), nil
	}

	if err := s.handler.WriteSingleCoil(ctx, unitID, addr, boolValue); err != nil {
		return nil, err
	}

	resp := make([]byte, 5)
	copy(resp, pdu[:5])
	return resp, nil
}

func (s *Server) handleWriteSingleRegister(ctx context.Context, unitID UnitID, pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return s.buildException(FuncWriteSingleRegister, ExceptionIllegalDataValue), nil
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	value := binary.BigEndian.Uint16(pdu[3:5])

	if err := s.handler.WriteSingleRegister(ctx, unitID, addr, value); err != nil {
		return nil, err
	}

	resp := make([]byte, 5)
	copy(resp, pdu[:5])
	return resp, nil
}

func (s *Server) handleReadExceptionStatus(ctx context.Context, unitID UnitID) ([]byte, error) {
	status, err := s.handler.ReadExceptionStatus(ctx, unitID)
	if err != nil {
		return nil, err
	}
	return []byte{byte(FuncReadExceptionStatus), status}, nil
}

func (s *Server) handleDiagnostics(ctx context.Context, unitID UnitID, pdu []byte) ([]byte, error) {
	if len(pdu) < 3 {
		return s.buildException(FuncDiagnostics, ExceptionIllegalDataValue), nil
	}
	subFunc := binary.BigEndian.Uint16(pdu[1:3])
	data := pdu[3:]

	respData, err := s.handler.Diagnostics(ctx, unitID, subFunc, data)
	if err != nil {
		return nil, err
	}

	resp := make([]byte, 3+len(respData))
	resp[0] = byte(FuncDiagnostics)
	binary.BigEndian.PutUint16(resp[1:3], subFunc)
	copy(resp[3:], respData)
	return resp, nil
}

func (s *Server) handleGetCommEventCounter(ctx context.Context, unitID UnitID) ([]byte, error) {
	status, eventCount, err := s.handler.GetCommEventCounter(ctx, unitID)
	if err != nil {
		return nil, err
	}

	resp := make([]byte, 5)
	resp[0] = byte(FuncGetCommEventCounter)
	binary.BigEndian.PutUint16(resp[1:3], status)
	binary.BigEndian.PutUint16(resp[3:5], eventCount)
	return resp, nil
}

func (s *Server) handleWriteMultipleCoils(ctx context.Context, unitID UnitID, pdu []byte) ([]byte, error) {
	if len(pdu) < 6 {
		return s.buildException(FuncWriteMultipleCoils, ExceptionIllegalDataValue), nil
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])
	byteCount := int(pdu[5])

	if qty < 1 || qty > MaxQuantityCoils {
		return s.buildException(FuncWriteMultipleCoils, ExceptionIllegalDataValue), nil
	}
	if uint32(addr)+uint32(qty) > 65536 {
		return s.buildException(FuncWriteMultipleCoils, ExceptionIllegalDataAddress), nil
	}

	expectedBytes := int((qty + 7) / 8)
	if byteCount != expectedBytes || len(pdu) < 6+byteCount {
		return s.buildException(FuncWriteMultipleCoils, ExceptionIllegalDataValue), nil
	}

	values := make([]bool, qty)
	for i := uint16(0); i < qty; i++ {
		values[i] = (pdu[6+i/8] & (1 << (i % 8))) != 0
	}

	if err := s.handler.WriteMultipleCoils(ctx, unitID, addr, values); err != nil {
		return nil, err
	}

	resp := make([]byte, 5)
	resp[0] = byte(FuncWriteMultipleCoils)
	binary.BigEndian.PutUint16(resp[1:3], addr)
	binary.BigEndian.PutUint16(resp[3:5], qty)
	return resp, nil
}

func (s *Server) handleWriteMultipleRegisters(ctx context.Context, unitID UnitID, pdu []byte) ([]byte, error) {
	if len(pdu) < 6 {
		return s.buildException(FuncWriteMultipleRegisters, ExceptionIllegalDataValue), nil
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])
	byteCount := int(pdu[5])

	if qty < 1 || qty > MaxQuantityWriteRegisters {
		return s.buildException(FuncWriteMultipleRegisters, ExceptionIllegalDataValue), nil
	}
	if uint32(addr)+uint32(qty) > 65536 {
		return s.buildException(FuncWriteMultipleRegisters, ExceptionIllegalDataAddress), nil
	}

	expectedBytes := int(qty * 2)
	if byteCount != expectedBytes || len(pdu) < 6+byteCount {
		return s.buildException(FuncWriteMultipleRegisters, ExceptionIllegalDataValue), nil
	}

	values := make([]uint16, qty)
	for i := uint16(0); i < qty; i++ {
		values[i] = binary.BigEndian.Uint16(pdu[6+i*2:])
	}

	if err := s.handler.WriteMultipleRegisters(ctx, unitID, addr, values); err != nil {
		return nil, err
	}

	resp := make([]byte, 5)
	resp[0] = byte(FuncWriteMultipleRegisters)
	binary.BigEndian.PutUint16(resp[1:3], addr)
	binary.BigEndian.PutUint16(resp[3:5], qty)
	return resp, nil
}

func (s *Server) handleReportServerID(ctx context.Context, unitID UnitID) ([]byte, error) {
	data, err := s.handler.ReportServerID(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if len(data) > 251 {
		data = data[:251]
	}

	resp := make([]byte, 2+len(data))
	resp[0] = byte(FuncReportServerID)
	resp[1] = byte(len(data))
	copy(resp[2:], data)
	return resp, nil
}
