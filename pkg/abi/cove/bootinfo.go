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

package cove

import "encoding/binary"

// Boot-info header values.
const (
	BootInfoVersion = 1

	// BootInfoAttrTee marks the payload as running under TEE protection.
	BootInfoAttrTee = 1

	// CPUFlagPrimary marks the primary (boot) CPU in CPUInfo.Flags.
	CPUFlagPrimary = 0x00000001
)

// BootInfoRegions is the number of memory-layout entries the boot-info
// describes to the guest: boot info, stack, heap, shared communication
// buffer, image, and the demand-zero remainder.
const BootInfoRegions = 6

// CPUInfo describes one guest CPU in the boot-info structure.
type CPUInfo struct {
	ProcessorID uint32
	Package     uint32
	Core        uint32
	Flags       uint32
}

// BootInfo is the firmware-defined structure handed to the guest at its
// boot-argument GPA. It is measured into the TVM's attestation log, so the
// encoding must be byte-exact.
type BootInfo struct {
	// Header.
	Type    uint8
	Version uint8
	Size    uint16
	Attr    uint32

	MemBase uint64

	// MemLimit is the last valid guest physical address, inclusive.
	MemLimit uint64

	ImageBase uint64

	// StackBase is the top of the boot stack; the payload loads it as its
	// initial stack pointer.
	StackBase uint64

	HeapBase uint64
	NsCommBufBase uint64
	SharedBufBase uint64
	ImageSize     uint64
	PcpuStackSize uint64
	HeapSize      uint64
	NsCommBufSize uint64
	SharedBufSize uint64

	NumMemRegions uint32
	NumCpus       uint32

	// CPU records how the boot CPU is presented to the guest. Only one CPU
	// is described; secondary CPUs are brought up by the guest itself.
	CPU CPUInfo
}

// BootInfoSize is the wire size of BootInfo.
const BootInfoSize = 8 + 12*8 + 8 + 16

// Encode writes the boot-info structure into b, which must be at least
// BootInfoSize bytes.
func (bi *BootInfo) Encode(b []byte) {
	b[0] = bi.Type
	b[1] = bi.Version
	binary.LittleEndian.PutUint16(b[2:], bi.Size)
	binary.LittleEndian.PutUint32(b[4:], bi.Attr)

	fields := []uint64{
		bi.MemBase, bi.MemLimit, bi.ImageBase, bi.StackBase, bi.HeapBase,
		bi.NsCommBufBase, bi.SharedBufBase, bi.ImageSize, bi.PcpuStackSize,
		bi.HeapSize, bi.NsCommBufSize, bi.SharedBufSize,
	}
	off := 8
	for _, f := range fields {
		binary.LittleEndian.PutUint64(b[off:], f)
		off += 8
	}

	binary.LittleEndian.PutUint32(b[off:], bi.NumMemRegions)
	binary.LittleEndian.PutUint32(b[off+4:], bi.NumCpus)
	off += 8

	binary.LittleEndian.PutUint32(b[off:], bi.CPU.ProcessorID)
	binary.LittleEndian.PutUint32(b[off+4:], bi.CPU.Package)
	binary.LittleEndian.PutUint32(b[off+8:], bi.CPU.Core)
	binary.LittleEndian.PutUint32(b[off+12:], bi.CPU.Flags)
}
