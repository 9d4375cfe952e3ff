// Copyright 2026 The covehost Authors.
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

// Package sbi is the privileged call gateway to the TSM.
//
// Every domain operation is a thin named wrapper over a single generic
// Call primitive; this package is purely a marshaling boundary. It never
// retries a call: repeating a privileged call against partially-converted
// memory risks corrupting trust state, so callers decide what a failure
// means.
package sbi

import "fmt"

// Ret is the raw (error, value) register pair returned by a privileged call.
type Ret struct {
	Error int64
	Value uint64
}

// Err normalizes the status register into an error, or nil on success.
func (r Ret) Err() error {
	if r.Error == 0 {
		return nil
	}
	return Errno(r.Error)
}

// Caller issues a privileged call with the given extension ID, function ID
// and word-sized arguments. The returned error reports a transport failure
// only; SBI-level status is carried in Ret.
//
// Implementations must be usable from a single goroutine at a time per the
// one-hart-one-vCPU discipline; the proxy implementation serializes
// internally.
type Caller interface {
	Call(ext, fid uint64, args ...uint64) (Ret, error)
}

// Errno is a normalized SBI status code.
type Errno int64

// Status codes shared by the COVH and COVG extensions. Codes outside this
// set are platform specific and pass through unchanged.
const (
	ErrInvalidAddress      Errno = 1
	ErrInvalidParam        Errno = 2
	ErrFailed              Errno = 3
	ErrAlreadyStarted      Errno = 4
	ErrOutOfPageTablePages Errno = 5
)

// Error implements error.
func (e Errno) Error() string {
	switch e {
	case ErrInvalidAddress:
		return "invalid address"
	case ErrInvalidParam:
		return "invalid parameter"
	case ErrFailed:
		return "operation failed"
	case ErrAlreadyStarted:
		return "operation already in progress"
	case ErrOutOfPageTablePages:
		return "out of page table pages"
	default:
		return fmt.Sprintf("platform-specific error %d", int64(e))
	}
}
