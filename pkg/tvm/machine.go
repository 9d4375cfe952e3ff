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

// Package tvm builds and drives confidential VMs (TVMs) under the RISC-V
// CoVE extension: it converts host memory to confidential memory, builds a
// TVM's address space region by region in the order the TSM requires, and
// runs the TVM's vCPU, servicing the traps the TSM forwards to the host.
package tvm

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"covehost.dev/covehost/pkg/abi/cove"
	"covehost.dev/covehost/pkg/mmio"
	"covehost.dev/covehost/pkg/nacl"
	"covehost.dev/covehost/pkg/sbi"
)

// Machine is one live TVM session: guest ID, boot vCPU, scratch area and
// all host-side bookkeeping. All mutable state lives here; there are no
// package globals. A Machine is driven by a single goroutine (one hart,
// one vCPU).
type Machine struct {
	host *sbi.Host
	mem  HostMemory
	log  *logrus.Entry

	timer Timer
	bus   *mmio.Bus

	guestID uint64
	vcpuID  uint64

	shmem     *nacl.Shmem
	shmemBase uint64

	// regions holds the declared guest-physical regions: the confidential
	// region from the builder plus MMIO regions the guest declares at
	// runtime.
	regions   *regionSet
	finalized bool

	// converted tracks host ranges converted to confidential memory;
	// assigned tracks the subset donated to this TVM. Reclaim is refused
	// for assigned ranges.
	converted rangeList
	assigned  rangeList

	shared sharedBinding

	// resumable mirrors the last RunVcpu resumability flag.
	resumable bool

	windowBase uint64
	windowSize uint64
}

// GuestID returns the TSM's identifier for this TVM.
func (m *Machine) GuestID() uint64 {
	return m.guestID
}

// Bus returns the MMIO bus; the caller registers device handlers on it
// before running the vCPU.
func (m *Machine) Bus() *mmio.Bus {
	return m.bus
}

// convertToConfidential converts numPages at base and completes the
// conversion with a global fence. The alignment check runs before any
// privileged call: a misaligned conversion must never reach the TSM. A
// failure of either step leaves memory in an undefined trust state, so
// callers treat it as fatal.
func (m *Machine) convertToConfidential(base, numPages uint64) error {
	if base%pageSize != 0 {
		return fmt.Errorf("convert of %#x: %w", base, ErrAlignment)
	}
	if err := m.host.ConvertPages(base, numPages); err != nil {
		return fmt.Errorf("converting pages at %#x: %w", base, err)
	}
	if err := m.host.GlobalFence(); err != nil {
		return fmt.Errorf("fencing conversion at %#x: %w", base, err)
	}
	m.converted.add(base, numPages*pageSize)
	return nil
}

// ReclaimPages returns converted pages to non-confidential use. The pages
// must not be assigned to the TVM.
func (m *Machine) ReclaimPages(base, numPages uint64) error {
	if base%pageSize != 0 {
		return fmt.Errorf("reclaim of %#x: %w", base, ErrAlignment)
	}
	length := numPages * pageSize
	if m.assigned.intersects(base, length) {
		return fmt.Errorf("reclaim of [%#x, %#x): %w", base, base+length, ErrPagesAssigned)
	}
	if err := m.host.ReclaimPages(base, numPages); err != nil {
		return fmt.Errorf("reclaiming pages at %#x: %w", base, err)
	}
	m.converted.remove(base, length)
	return nil
}

// declareConfidentialRegion reserves [gpa, gpa+length) for confidential
// memory. Legal only before finalization.
func (m *Machine) declareConfidentialRegion(gpa, length uint64) error {
	if m.finalized {
		return ErrTvmFinalized
	}
	if gpa%pageSize != 0 || length%pageSize != 0 {
		return ErrAlignment
	}
	if err := m.regions.insert(Region{Base: gpa, Length: length, Kind: cove.RegionConfidential}); err != nil {
		return err
	}
	if err := m.host.AddMemoryRegion(m.guestID, gpa, length); err != nil {
		m.regions.remove(gpa, length, cove.RegionConfidential)
		return fmt.Errorf("declaring confidential region at %#x: %w", gpa, err)
	}
	return nil
}

// declareGuestRegion records a region the guest itself declared (MMIO or
// shared). Host-side bookkeeping only; the TSM already knows.
func (m *Machine) declareGuestRegion(gpa, length uint64, kind cove.RegionKind) error {
	if gpa%pageSize != 0 || length%pageSize != 0 || length == 0 {
		return ErrAlignment
	}
	return m.regions.insert(Region{Base: gpa, Length: length, Kind: kind})
}

// insertPageTablePages donates numPages at base to the TVM's page-table
// pool. Legal only before finalization.
func (m *Machine) insertPageTablePages(base, numPages uint64) error {
	if m.finalized {
		return ErrTvmFinalized
	}
	if !m.converted.contains(base, numPages*pageSize) {
		return fmt.Errorf("page-table pages at %#x not converted: %w", base, ErrNoRegion)
	}
	if err := m.host.AddPageTablePages(m.guestID, base, numPages); err != nil {
		return fmt.Errorf("adding page-table pages at %#x: %w", base, err)
	}
	m.assigned.add(base, numPages*pageSize)
	return nil
}

// insertMeasuredPages copies, measures and maps numPages from src into the
// TVM at gpa. Legal only before finalization.
func (m *Machine) insertMeasuredPages(src, dst uint64, pt cove.PageType, numPages, gpa uint64) error {
	if m.finalized {
		return ErrTvmFinalized
	}
	if !pt.Valid() {
		return fmt.Errorf("page type %d: %w", pt, sbi.ErrInvalidParam)
	}
	if !m.regions.covers(gpa, numPages*pt.Bytes(), cove.RegionConfidential) {
		return fmt.Errorf("measured pages at gpa %#x: %w", gpa, ErrNoRegion)
	}
	if err := m.host.AddMeasuredPages(m.guestID, src, dst, pt, numPages, gpa); err != nil {
		return fmt.Errorf("adding measured pages at gpa %#x: %w", gpa, err)
	}
	m.assigned.add(dst, numPages*pt.Bytes())
	return nil
}

// insertZeroPages maps numPages of zeroed confidential memory at base into
// the TVM at gpa. Legal both for the initial bulk fill before finalization
// and for demand faults after it.
func (m *Machine) insertZeroPages(base uint64, pt cove.PageType, numPages, gpa uint64) error {
	if !pt.Valid() {
		return fmt.Errorf("page type %d: %w", pt, sbi.ErrInvalidParam)
	}
	if !m.regions.covers(gpa, numPages*pt.Bytes(), cove.RegionConfidential) {
		return fmt.Errorf("zero pages at gpa %#x: %w", gpa, ErrNoRegion)
	}
	if err := m.host.AddZeroPages(m.guestID, base, pt, numPages, gpa); err != nil {
		return fmt.Errorf("adding zero pages at gpa %#x: %w", gpa, err)
	}
	m.assigned.add(base, numPages*pt.Bytes())
	return nil
}

// insertSharedPages maps host pages into the guest-declared shared window.
// Legal only after finalization and after the guest's declaration.
func (m *Machine) insertSharedPages(base uint64, pt cove.PageType, numPages, gpa uint64) error {
	if !m.finalized {
		return ErrTvmNotFinalized
	}
	if !pt.Valid() {
		return fmt.Errorf("page type %d: %w", pt, sbi.ErrInvalidParam)
	}
	if m.shared.state == sharedNone || !m.shared.contains(gpa) {
		return fmt.Errorf("shared pages at gpa %#x outside declared window: %w", gpa, ErrNoRegion)
	}
	if err := m.host.AddSharedPages(m.guestID, base, pt, numPages, gpa); err != nil {
		return fmt.Errorf("adding shared pages at gpa %#x: %w", gpa, err)
	}
	return nil
}

// Destroy tears the TVM down and releases the host window. The TVM's
// confidential pages become assignable to other TVMs immediately; they are
// reclaimed for non-confidential reuse before the window is unmapped.
func (m *Machine) Destroy() error {
	if err := m.host.DestroyTvm(m.guestID); err != nil {
		return fmt.Errorf("destroying TVM %d: %w", m.guestID, err)
	}
	m.assigned = rangeList{}
	for _, s := range m.converted.spans {
		if err := m.host.ReclaimPages(s.base, s.length/pageSize); err != nil {
			m.log.WithError(err).Warnf("reclaim of [%#x, %#x) failed", s.base, s.end())
		}
	}
	m.converted = rangeList{}
	if m.shared.state == sharedBacked {
		m.mem.Release(m.shared.hostBase)
	}
	m.mem.Release(m.shmemBase)
	return m.mem.Release(m.windowBase)
}
