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

import "errors"

// Sentinel errors returned by Store operations. Wrapped with fmt.Errorf and
// %w so callers can match with errors.Is.
var (
	// ErrNotFound indicates the (area, address) pair is outside the
	// configured range for that area.
	ErrNotFound = errors.New("point: address not found")

	// ErrPermissionDenied indicates a write was attempted against a
	// read-only area (IR or DI).
	ErrPermissionDenied = errors.New("point: area is read-only")

	// ErrOutOfRange indicates a raw register value fell outside
	// [-32768, 65535].
	ErrOutOfRange = errors.New("point: value out of range")
)
