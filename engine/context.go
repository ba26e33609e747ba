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
	"net"
)

type clientAddrKey struct{}

// withClientAddr returns a context carrying the peer address of the TCP
// connection a request arrived on. The server attaches it once at accept
// time; every Handler call for that connection's lifetime carries it
// through, so a handler never has to walk call frames to learn who asked.
func withClientAddr(ctx context.Context, addr net.Addr) context.Context {
	return context.WithValue(ctx, clientAddrKey{}, addr)
}

// ClientAddrFromContext returns the remote address of the connection the
// in-flight request arrived on, and whether one was present.
func ClientAddrFromContext(ctx context.Context) (net.Addr, bool) {
	addr, ok := ctx.Value(clientAddrKey{}).(net.Addr)
	return addr, ok
}
