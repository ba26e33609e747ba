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

package lifecycle

import "errors"

var (
	// ErrAlreadyRunning is returned by Start when the driver is already
	// Running or Starting.
	ErrAlreadyRunning = errors.New("lifecycle: driver already running")

	// ErrNotRunning is returned by Stop when the driver is neither Running
	// nor Failed.
	ErrNotRunning = errors.New("lifecycle: driver not running")

	// ErrStartupTimeout is returned by Start when the listener does not
	// come up within Settings.StartupTimeout.
	ErrStartupTimeout = errors.New("lifecycle: startup timed out")
)
