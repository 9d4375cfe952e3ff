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

// Package cove defines constants and structures of the RISC-V CoVE
// (Confidential VM Extension) host ABI: the COVH/COVG SBI extensions, the
// NACL shared-memory extension, and the structures exchanged with the TSM.
//
// Everything in this package is a plain value type with a fixed wire layout;
// no behavior beyond encoding and decoding lives here.
package cove

// SBI extension IDs used by the host.
const (
	// EXTCOVH is the COVE host extension ("COVH").
	EXTCOVH = 0x434F5648

	// EXTCOVG is the COVE guest extension ("COVG"). The host never issues
	// COVG calls itself; it services them when a TVM vCPU makes one.
	EXTCOVG = 0x434F5647

	// EXTNACL is the nested acceleration extension ("NACL"), used to
	// register the host<->TSM shared scratch area.
	EXTNACL = 0x4E41434C

	// EXTPutChar is the legacy console extension. TVM ecalls with this
	// extension ID are forwarded verbatim to the host console.
	EXTPutChar = 0x1
)

// COVH function IDs.
const (
	COVHTsmInfo = iota
	COVHConvertPages
	COVHReclaimPages
	COVHGlobalFence
	COVHLocalFence
	COVHCreateTvm
	COVHFinalizeTvm
	COVHDestroyTvm
	COVHAddTvmMemoryRegion
	COVHAddTvmPageTablePages
	COVHAddTvmMeasuredPages
	COVHAddTvmZeroPages
	COVHAddTvmSharedPages
	COVHCreateTvmVcpu
	COVHRunTvmVcpu
	COVHTvmFence
)

// COVH AIA function IDs. AIA virtualization is configured before
// finalization; single-vCPU hosts may never issue these.
const (
	COVHInitTvmAia = 0x30 + iota
	COVHSetTvmAiaCpuImsicAddr
	COVHConvertAiaImsic
	COVHReclaimAiaImsic
)

// COVG function IDs, as seen by the host in A6 when servicing a TVM ecall.
const (
	COVGAddMmioRegion = iota
	COVGRemoveMmioRegion
	COVGShareMemoryRegion
	COVGUnshareMemoryRegion
)

// NACL function IDs.
const (
	NACLSetShmem = 1
)

// Guest-visible SBI status values, written back to the vCPU's a0 when the
// host completes a serviced ecall. These follow the SBI calling convention
// and are distinct from the normalized COVH status codes.
const (
	SbiSuccess         uint64 = 0
	SbiErrFailed              = ^uint64(0) // -1
	SbiErrNotSupported        = ^uint64(1) // -2
	SbiErrInvalidParam        = ^uint64(2) // -3
)

// Page size classes accepted by the page-insertion calls.
type PageType uint64

const (
	Page4k PageType = iota
	Page2m
	Page1g
	Page512
)

// Valid returns true if p is a defined page size class.
func (p PageType) Valid() bool {
	return p <= Page512
}

// Bytes returns the page size in bytes.
func (p PageType) Bytes() uint64 {
	switch p {
	case Page4k:
		return 4 << 10
	case Page2m:
		return 2 << 20
	case Page1g:
		return 1 << 30
	case Page512:
		return 512 << 30
	default:
		return 0
	}
}

// PageSize is the base page size implied by all page-count arguments.
const PageSize = 4 << 10

// RegionKind tags a declared range of TVM physical address space.
type RegionKind int

const (
	// RegionConfidential is reserved for confidential pages; declared by
	// the host before finalization.
	RegionConfidential RegionKind = iota

	// RegionSharedMemory may be populated with shared host pages after
	// the guest declares it.
	RegionSharedMemory

	// RegionEmulatedMmio causes guest accesses to exit for host
	// emulation; declared by the guest at runtime.
	RegionEmulatedMmio
)

// String implements fmt.Stringer.
func (k RegionKind) String() string {
	switch k {
	case RegionConfidential:
		return "confidential"
	case RegionSharedMemory:
		return "shared"
	case RegionEmulatedMmio:
		return "mmio"
	default:
		return "unknown"
	}
}

// TSM lifecycle states reported by TsmInfo.
const (
	TsmNotLoaded = iota
	TsmLoaded
	TsmReady
)

// Exception causes written to the scause mirror by the TSM when RunTvmVcpu
// returns. The interrupt bit (bit 63) is clear for all of these.
const (
	ExcVirtualSupervisorEnvCall = 10
	ExcGuestLoadPageFault       = 21
	ExcVirtualInstruction       = 22
	ExcGuestStorePageFault      = 23
)

// InterruptBit is set in scause when the exit was caused by an interrupt
// rather than an exception.
const InterruptBit = uint64(1) << 63

// CSR numbers mirrored through the NACL shared scratch area.
const (
	CSRScause = 0x142
	CSRStval  = 0x143
	CSRHtval  = 0x643
	CSRHtinst = 0x64A
)

// VcpuBootID is the conventional ID of the boot vCPU.
const VcpuBootID = 0
