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

package tvm

import (
	"errors"
	"fmt"
)

// SetupError wraps a failure during TVM construction. A partially built
// confidential VM must never run, so callers are expected to treat any
// SetupError as unrecoverable and tear the process down.
type SetupError struct {
	Step string
	Err  error
}

// Error implements error.
func (e *SetupError) Error() string {
	return fmt.Sprintf("tvm setup failed at %q: %v", e.Step, e.Err)
}

// Unwrap supports errors.Is/As.
func (e *SetupError) Unwrap() error {
	return e.Err
}

func setupErr(step string, err error) error {
	return &SetupError{Step: step, Err: err}
}

func setupErrf(step, format string, args ...any) error {
	return &SetupError{Step: step, Err: fmt.Errorf(format, args...)}
}

// UnhandledTrapError reports a vCPU exit the dispatcher could not service
// locally. It is the run loop's normal way of returning control: the
// caller decides whether the trap means idle (WFI), a missing host device,
// or a protocol violation.
type UnhandledTrapError struct {
	Trap Trap
}

// Error implements error.
func (e *UnhandledTrapError) Error() string {
	return fmt.Sprintf("unhandled vCPU trap: %v", e.Trap)
}

var (
	// ErrNotReady is wrapped in a SetupError when the TSM reports it is
	// not ready to accept calls.
	ErrNotReady = errors.New("TSM not ready")

	// ErrTvmFinalized rejects state-mutating calls that are only legal
	// before finalization.
	ErrTvmFinalized = errors.New("TVM already finalized")

	// ErrTvmNotFinalized rejects calls that are only legal after
	// finalization.
	ErrTvmNotFinalized = errors.New("TVM not finalized")

	// ErrNotResumable is returned when the vCPU reports it cannot be run
	// again; the run loop stops even if the last trap was serviced.
	ErrNotResumable = errors.New("vCPU not resumable")

	// ErrGuestUnshare is returned when the guest attempts to unshare
	// memory, which this host does not support.
	ErrGuestUnshare = errors.New("guest requested memory unshare")

	// ErrAlignment rejects page addresses or lengths that are not 4 KiB
	// aligned, before any privileged call is issued.
	ErrAlignment = errors.New("address not page aligned")

	// ErrRegionOverlap rejects a region declaration overlapping an
	// existing region.
	ErrRegionOverlap = errors.New("memory region overlap")

	// ErrNoRegion rejects a page insertion whose target GPA is not
	// covered by a declared region of the required kind.
	ErrNoRegion = errors.New("no declared region covers target address")

	// ErrPagesAssigned rejects reclaiming pages still assigned to a live
	// TVM.
	ErrPagesAssigned = errors.New("pages assigned to a live TVM")
)
