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
	"covehost.dev/covehost/pkg/mmio"
	"covehost.dev/covehost/pkg/nacl"
)

// Trap is one vCPU exit, read from the CSR mirror after RunVcpu returns.
// The mirror is invalidated by the next run, so a Trap is a snapshot, not
// a view.
type Trap struct {
	Scause uint64
	Stval  uint64
	Htval  uint64
	Htinst uint64
}

// Interrupt reports whether the exit was caused by an interrupt.
func (t Trap) Interrupt() bool {
	return t.Scause&cove.InterruptBit != 0
}

// Exception returns the exception code, valid when Interrupt is false.
func (t Trap) Exception() uint64 {
	return t.Scause &^ cove.InterruptBit
}

// FaultAddr reconstructs the guest physical fault address: htval holds
// bits 63:2, stval the low two bits.
func (t Trap) FaultAddr() uint64 {
	return t.Htval<<2 | t.Stval&0x3
}

// String implements fmt.Stringer.
func (t Trap) String() string {
	if t.Interrupt() {
		return fmt.Sprintf("interrupt %d", t.Exception())
	}
	switch t.Exception() {
	case cove.ExcVirtualSupervisorEnvCall:
		return "guest ecall"
	case cove.ExcGuestLoadPageFault:
		return fmt.Sprintf("guest load fault at %#x", t.FaultAddr())
	case cove.ExcGuestStorePageFault:
		return fmt.Sprintf("guest store fault at %#x", t.FaultAddr())
	case cove.ExcVirtualInstruction:
		return fmt.Sprintf("virtual instruction %#x", t.Stval)
	default:
		return fmt.Sprintf("exception %d (stval %#x)", t.Exception(), t.Stval)
	}
}

// Run resumes the vCPU and services its exits until one cannot be handled
// locally. It returns *UnhandledTrapError for exits the caller must
// interpret (idle, interrupts, faults outside any known region),
// ErrNotResumable when the vCPU can no longer run, and other errors for
// protocol failures that make the TVM unusable.
//
// The host tick source is disabled for the duration of the loop and
// restored on return.
func (m *Machine) Run() error {
	if !m.finalized {
		return ErrTvmNotFinalized
	}
	period, err := m.timer.Period()
	if err != nil {
		return fmt.Errorf("reading timer period: %w", err)
	}
	if period != 0 {
		if err := m.timer.SetPeriod(0); err != nil {
			return fmt.Errorf("disabling timer: %w", err)
		}
		defer m.timer.SetPeriod(period)
	}

	for {
		if !m.resumable {
			return ErrNotResumable
		}
		resumable, err := m.host.RunVcpu(m.guestID, m.vcpuID)
		if err != nil {
			return fmt.Errorf("running vCPU: %w", err)
		}
		m.resumable = resumable

		trap := m.readTrap()
		handled, err := m.service(trap)
		if err != nil {
			return err
		}
		if !handled {
			return &UnhandledTrapError{Trap: trap}
		}
	}
}

// readTrap snapshots the trap CSRs from the scratch mirror.
func (m *Machine) readTrap() Trap {
	return Trap{
		Scause: m.shmem.CSR(cove.CSRScause),
		Stval:  m.shmem.CSR(cove.CSRStval),
		Htval:  m.shmem.CSR(cove.CSRHtval),
		Htinst: m.shmem.CSR(cove.CSRHtinst),
	}
}

// service dispatches one trap. handled=false with a nil error means the
// trap is not the host's to service; the run loop surfaces it to the
// caller.
func (m *Machine) service(trap Trap) (handled bool, err error) {
	if trap.Interrupt() {
		return false, nil
	}
	switch trap.Exception() {
	case cove.ExcVirtualSupervisorEnvCall:
		return m.serviceEcall()
	case cove.ExcGuestLoadPageFault, cove.ExcGuestStorePageFault:
		return m.serviceFault(trap)
	default:
		// Virtual instruction (the guest idling on WFI) and anything
		// unrecognized go to the caller.
		return false, nil
	}
}

// serviceEcall handles an SBI call forwarded from the TVM: a7 holds the
// extension ID, a6 the function ID. The guest resumes with its status in
// a0.
func (m *Machine) serviceEcall() (bool, error) {
	args := m.shmem.Args()
	ext, fid := args[7], args[6]
	switch ext {
	case cove.EXTCOVG:
		return m.serviceCovg(fid, args)
	case cove.EXTPutChar:
		if err := m.host.PutChar(args[0]); err != nil {
			return false, fmt.Errorf("console output: %w", err)
		}
		m.shmem.SetGPR(nacl.RegA0, cove.SbiSuccess)
		return true, nil
	default:
		m.log.WithField("ext", fmt.Sprintf("%#x", ext)).
			WithField("fid", fid).
			Warn("unsupported guest ecall")
		m.shmem.SetGPR(nacl.RegA0, cove.SbiErrNotSupported)
		return true, nil
	}
}

// serviceCovg handles the guest-facing COVG sub-protocol.
func (m *Machine) serviceCovg(fid uint64, args [8]uint64) (bool, error) {
	base, length := args[0], args[1]
	switch fid {
	case cove.COVGAddMmioRegion:
		if err := m.declareGuestRegion(base, length, cove.RegionEmulatedMmio); err != nil {
			m.log.WithError(err).
				WithField("gpa", fmt.Sprintf("%#x", base)).
				Warn("rejecting guest MMIO region")
			m.shmem.SetGPR(nacl.RegA0, cove.SbiErrInvalidParam)
			return true, nil
		}
		m.shmem.SetGPR(nacl.RegA0, cove.SbiSuccess)
		return true, nil

	case cove.COVGRemoveMmioRegion:
		// The guest owns its MMIO region boundaries; removal of an
		// unknown region is still acknowledged.
		m.regions.remove(base, length, cove.RegionEmulatedMmio)
		m.shmem.SetGPR(nacl.RegA0, cove.SbiSuccess)
		return true, nil

	case cove.COVGShareMemoryRegion:
		// A broken shared-memory negotiation leaves host and guest with
		// different ideas of what is shared; treat any irregularity as
		// fatal rather than letting the guest retry.
		// The window sits inside the confidential region, so it is
		// tracked by the shared binding, not the region set.
		if err := m.shared.declare(base, length, SharedBufSize); err != nil {
			return false, fmt.Errorf("guest shared-memory declaration: %w", err)
		}
		m.log.WithField("gpa", fmt.Sprintf("%#x", base)).
			WithField("size", fmt.Sprintf("%#x", length)).
			Debug("guest declared shared window")
		m.shmem.SetGPR(nacl.RegA0, cove.SbiSuccess)
		return true, nil

	case cove.COVGUnshareMemoryRegion:
		return false, fmt.Errorf("gpa %#x: %w", base, ErrGuestUnshare)

	default:
		m.log.WithField("fid", fid).Warn("unsupported COVG call")
		m.shmem.SetGPR(nacl.RegA0, cove.SbiErrNotSupported)
		return true, nil
	}
}

// serviceFault handles a guest page fault: lazily back the shared window,
// or emulate an MMIO access against a declared MMIO region. Faults outside
// both go to the caller.
func (m *Machine) serviceFault(trap Trap) (bool, error) {
	addr := trap.FaultAddr()
	if m.shared.contains(addr) {
		if err := m.backSharedWindow(); err != nil {
			return false, err
		}
		return true, nil
	}
	if r, ok := m.regions.find(addr); ok && r.Kind == cove.RegionEmulatedMmio {
		return m.serviceMmio(trap, addr)
	}
	return false, nil
}

// serviceMmio decodes the faulting access from the transformed instruction
// in htinst and performs it against the host bus.
func (m *Machine) serviceMmio(trap Trap, addr uint64) (bool, error) {
	acc, err := mmio.Decode(uint32(trap.Htinst))
	if err != nil {
		return false, fmt.Errorf("mmio fault at %#x (htinst %#x): %w", addr, trap.Htinst, err)
	}
	if acc.Write {
		err = m.bus.Write(addr, acc.Size, m.shmem.GPR(acc.Reg))
	} else {
		var v uint64
		v, err = m.bus.Read(addr, acc.Size)
		if err == nil {
			m.shmem.SetGPR(acc.Reg, v)
		}
	}
	if err != nil {
		// No handler (or a failing one) behind a guest-declared region:
		// let the caller decide whether the device matters.
		m.log.WithError(err).WithField("gpa", fmt.Sprintf("%#x", addr)).
			Warn("MMIO access not serviced")
		return false, nil
	}
	return true, nil
}
