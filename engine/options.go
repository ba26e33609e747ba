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
	"log/slog"
	"net"
	"time"
)

// ServerOption configures a Server at construction time.
type ServerOption func(*serverOptions)

type serverOptions struct {
	logger      *slog.Logger
	maxConns    int
	readTimeout time.Duration
	unitID      UnitID // 0 means accept any unit ID

	onConnect    func(net.Addr)
	onDisconnect func(net.Addr)
	onRequest    func(addr net.Addr, fc FunctionCode, ok bool)
}

func defaultServerOptions() *serverOptions {
	return &serverOptions{
		logger:      slog.Default(),
		maxConns:    100,
		readTimeout: DefaultReadTimeout,
	}
}

// WithServerLogger sets the structured logger the server writes to.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// WithMaxConnections bounds the number of concurrent TCP connections the
// server accepts before rejecting new ones.
func WithMaxConnections(n int) ServerOption {
	return func(o *serverOptions) {
		o.maxConns = n
	}
}

// WithReadTimeout sets the idle read/write deadline applied to each client
// connection.
func WithReadTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.readTimeout = d
	}
}

// WithUnitID restricts the server to answering only requests addressed to
// id; requests for any other unit ID receive
// ExceptionGatewayTargetDeviceFailedToRespond. The zero value (the
// default) accepts every unit ID.
func WithUnitID(id UnitID) ServerOption {
	return func(o *serverOptions) {
		o.unitID = id
	}
}

// WithOnConnect registers a callback invoked with the peer address each
// time a connection is accepted, before its first request is read. A
// ConnectionRegistry uses this to learn about new clients without the
// engine package importing it.
func WithOnConnect(fn func(net.Addr)) ServerOption {
	return func(o *serverOptions) {
		o.onConnect = fn
	}
}

// WithOnDisconnect registers a callback invoked with the peer address when
// a connection is torn down, whether by the client, an I/O error, or
// server shutdown.
func WithOnDisconnect(fn func(net.Addr)) ServerOption {
	return func(o *serverOptions) {
		o.onDisconnect = fn
	}
}

// WithOnRequest registers a callback invoked after every dispatched
// request with the peer address, the function code, and whether the
// response was a normal PDU (true) or an exception (false). A
// ConnectionRegistry uses this to tally per-client request/error counts.
func WithOnRequest(fn func(addr net.Addr, fc FunctionCode, ok bool)) ServerOption {
	return func(o *serverOptions) {
		o.onRequest = fn
	}
}
