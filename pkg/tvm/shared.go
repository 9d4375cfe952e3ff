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
	"fmt"

	"covehost.dev/covehost/pkg/abi/cove"
	"covehost.dev/covehost/pkg/sbi"
)

// sharedState tracks the shared-memory negotiation sub-protocol.
type sharedState int

const (
	// sharedNone: the guest has not declared a shared window.
	sharedNone sharedState = iota

	// sharedDeclared: the guest declared a window; no host pages back it
	// yet.
	sharedDeclared

	// sharedBacked: host pages back the entire window.
	sharedBacked
)

// sharedBinding is the single active shared-memory binding of the TVM.
// At most one binding exists; there is no transition back to sharedNone
// (unshare is unsupported). Mutated only by the run loop under the
// one-hart-one-vCPU discipline; a multi-hart host would need a lock here.
type sharedBinding struct {
	state     sharedState
	guestBase uint64
	guestSize uint64
	hostBase  uint64
}

// declare records the guest's shared window. maxSize bounds the window;
// re-declaration while any binding exists is rejected.
func (b *sharedBinding) declare(base, size, maxSize uint64) error {
	if b.state != sharedNone {
		return fmt.Errorf("shared window %#x/%#x already declared: %w",
			b.guestBase, b.guestSize, sbi.ErrAlreadyStarted)
	}
	if size == 0 || size > maxSize {
		return fmt.Errorf("shared window size %#x out of range (max %#x): %w",
			size, maxSize, sbi.ErrInvalidParam)
	}
	// The window is backed with whole pages; an unaligned declaration
	// would leave its tail unbacked and faulting forever.
	if base%pageSize != 0 || size%pageSize != 0 {
		return fmt.Errorf("shared window %#x/%#x not page aligned: %w",
			base, size, sbi.ErrInvalidParam)
	}
	b.state = sharedDeclared
	b.guestBase = base
	b.guestSize = size
	return nil
}

// contains reports whether addr falls inside the declared window.
func (b *sharedBinding) contains(addr uint64) bool {
	return b.state != sharedNone && addr >= b.guestBase && addr < b.guestBase+b.guestSize
}

// back lazily populates the whole declared window with host pages on the
// first fault. Subsequent calls are no-ops: the pages are already mapped.
func (m *Machine) backSharedWindow() error {
	b := &m.shared
	switch b.state {
	case sharedNone:
		return fmt.Errorf("no shared window declared: %w", sbi.ErrInvalidParam)
	case sharedBacked:
		return nil
	}

	numPages := b.guestSize / pageSize
	hostBase, err := m.mem.ReservePages(numPages)
	if err != nil {
		return fmt.Errorf("allocating shared window backing: %w", err)
	}
	if err := m.insertSharedPages(hostBase, cove.Page4k, numPages, b.guestBase); err != nil {
		m.mem.Release(hostBase)
		return fmt.Errorf("inserting shared pages: %w", err)
	}
	b.hostBase = hostBase
	b.state = sharedBacked
	m.log.WithField("gpa", fmt.Sprintf("%#x", b.guestBase)).
		WithField("size", fmt.Sprintf("%#x", b.guestSize)).
		Debug("backed shared window")
	return nil
}
