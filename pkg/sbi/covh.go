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

package sbi

import "covehost.dev/covehost/pkg/abi/cove"

// Host wraps the COVH host-side extension. All methods are direct
// marshaling wrappers; argument validation belongs to the caller.
type Host struct {
	c Caller
}

// NewHost returns a Host issuing calls through c.
func NewHost(c Caller) *Host {
	return &Host{c: c}
}

func (h *Host) covh(fid uint64, args ...uint64) (uint64, error) {
	ret, err := h.c.Call(cove.EXTCOVH, fid, args...)
	if err != nil {
		return 0, err
	}
	return ret.Value, ret.Err()
}

// TsmInfo asks the TSM to write its TsmInfo structure to infoAddr and
// returns the number of bytes written.
func (h *Host) TsmInfo(infoAddr, infoLen uint64) (uint64, error) {
	return h.covh(cove.COVHTsmInfo, infoAddr, infoLen)
}

// ConvertPages begins converting numPages of non-confidential memory at
// base to confidential memory. The conversion completes only after a
// subsequent fence.
func (h *Host) ConvertPages(base, numPages uint64) error {
	_, err := h.covh(cove.COVHConvertPages, base, numPages)
	return err
}

// ReclaimPages reclaims numPages of confidential memory at base. The pages
// must not be assigned to an active TVM.
func (h *Host) ReclaimPages(base, numPages uint64) error {
	_, err := h.covh(cove.COVHReclaimPages, base, numPages)
	return err
}

// GlobalFence initiates the TLB invalidation sequence completing all
// pending page conversions.
func (h *Host) GlobalFence() error {
	_, err := h.covh(cove.COVHGlobalFence)
	return err
}

// LocalFence invalidates pending-conversion TLB entries on the local hart.
func (h *Host) LocalFence() error {
	_, err := h.covh(cove.COVHLocalFence)
	return err
}

// TvmFence initiates a TLB invalidation sequence for the given TVM.
func (h *Host) TvmFence(guestID uint64) error {
	_, err := h.covh(cove.COVHTvmFence, guestID)
	return err
}

// CreateTvm creates a TVM from the TvmCreateParams structure at paramsAddr
// and returns the new guest ID.
func (h *Host) CreateTvm(paramsAddr, paramsLen uint64) (uint64, error) {
	return h.covh(cove.COVHCreateTvm, paramsAddr, paramsLen)
}

// FinalizeTvm transitions the TVM to the runnable state, latching the boot
// vCPU's entry point and boot argument.
func (h *Host) FinalizeTvm(guestID, entrySepc, bootArg uint64) error {
	_, err := h.covh(cove.COVHFinalizeTvm, guestID, entrySepc, bootArg)
	return err
}

// DestroyTvm destroys the TVM. Its confidential memory becomes assignable
// to other TVMs; reuse as non-confidential memory requires ReclaimPages.
func (h *Host) DestroyTvm(guestID uint64) error {
	_, err := h.covh(cove.COVHDestroyTvm, guestID)
	return err
}

// AddMemoryRegion reserves [gpa, gpa+length) of TVM physical address space
// for confidential memory. Pre-finalization only.
func (h *Host) AddMemoryRegion(guestID, gpa, length uint64) error {
	_, err := h.covh(cove.COVHAddTvmMemoryRegion, guestID, gpa, length)
	return err
}

// AddPageTablePages donates numPages at base to the TVM's page-table pool.
func (h *Host) AddPageTablePages(guestID, base, numPages uint64) error {
	_, err := h.covh(cove.COVHAddTvmPageTablePages, guestID, base, numPages)
	return err
}

// AddMeasuredPages copies numPages from src to dst, extends the TVM's
// measurement with their contents and maps them at gpa. Pre-finalization
// only.
func (h *Host) AddMeasuredPages(guestID, src, dst uint64, pt cove.PageType, numPages, gpa uint64) error {
	_, err := h.covh(cove.COVHAddTvmMeasuredPages, guestID, src, dst, uint64(pt), numPages, gpa)
	return err
}

// AddZeroPages maps numPages of zero-filled confidential memory at base
// into the TVM at gpa.
func (h *Host) AddZeroPages(guestID, base uint64, pt cove.PageType, numPages, gpa uint64) error {
	_, err := h.covh(cove.COVHAddTvmZeroPages, guestID, base, uint64(pt), numPages, gpa)
	return err
}

// AddSharedPages maps numPages of non-confidential host memory at base
// into the TVM at gpa, inside a guest-declared shared region.
func (h *Host) AddSharedPages(guestID, base uint64, pt cove.PageType, numPages, gpa uint64) error {
	_, err := h.covh(cove.COVHAddTvmSharedPages, guestID, base, uint64(pt), numPages, gpa)
	return err
}

// CreateVcpu adds a vCPU backed by vCPU-state pages at stateAddr.
// Pre-finalization only.
func (h *Host) CreateVcpu(guestID, vcpuID, stateAddr uint64) error {
	_, err := h.covh(cove.COVHCreateTvmVcpu, guestID, vcpuID, stateAddr)
	return err
}

// RunVcpu runs the vCPU until it takes a trap the TSM cannot service.
// resumable reports whether the vCPU may be run again; when false, further
// RunVcpu calls for this vCPU will fail.
func (h *Host) RunVcpu(guestID, vcpuID uint64) (resumable bool, err error) {
	v, err := h.covh(cove.COVHRunTvmVcpu, guestID, vcpuID)
	if err != nil {
		return false, err
	}
	return v == 0, nil
}

// InitAia configures AIA virtualization from the AiaParams structure at
// paramsAddr. Pre-finalization only.
func (h *Host) InitAia(guestID, paramsAddr, paramsLen uint64) error {
	_, err := h.covh(cove.COVHInitTvmAia, guestID, paramsAddr, paramsLen)
	return err
}

// SetVcpuImsicAddr sets the GPA of the vCPU's virtualized IMSIC.
func (h *Host) SetVcpuImsicAddr(guestID, vcpuID, imsicGpa uint64) error {
	_, err := h.covh(cove.COVHSetTvmAiaCpuImsicAddr, guestID, vcpuID, imsicGpa)
	return err
}

// ConvertImsic begins converting the guest interrupt file at pageAddr for
// TVM use; requires the usual fence sequence to complete.
func (h *Host) ConvertImsic(pageAddr uint64) error {
	_, err := h.covh(cove.COVHConvertAiaImsic, pageAddr)
	return err
}

// ReclaimImsic reclaims the interrupt file at pageAddr.
func (h *Host) ReclaimImsic(pageAddr uint64) error {
	_, err := h.covh(cove.COVHReclaimAiaImsic, pageAddr)
	return err
}

// SetShmem registers the NACL shared scratch area at addr.
func (h *Host) SetShmem(addr uint64) error {
	ret, err := h.c.Call(cove.EXTNACL, cove.NACLSetShmem, addr)
	if err != nil {
		return err
	}
	return ret.Err()
}

// PutChar forwards one character to the host console.
func (h *Host) PutChar(ch uint64) error {
	ret, err := h.c.Call(cove.EXTPutChar, 0, ch)
	if err != nil {
		return err
	}
	return ret.Err()
}
