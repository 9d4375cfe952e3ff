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

// Guest physical layout of the TVM. Offsets are relative to GuestRAMBase
// and are part of the contract with the guest payload: the boot-info
// structure describing them is measured, so the guest can verify them.
const (
	// GuestRAMBase is the base of the TVM's physical address space.
	GuestRAMBase = 0x80000000

	BootInfoOffset  = 0x00000000
	BootStackOffset = 0x00010000
	BootHeapOffset  = 0x00020000
	SharedBufOffset = 0x00100000
	ImageOffset     = 0x00200000

	BootInfoSize  = 0x00010000
	BootStackSize = 0x00010000
	BootHeapSize  = 0x00010000

	// SharedBufSize bounds the shared window the guest may declare.
	SharedBufSize = 0x00100000

	// MinWindowSize is the floor on the host memory window reserved for
	// the whole guest.
	MinWindowSize = 32 << 20

	// PcpuStackSize is the per-CPU stack size advertised in boot-info.
	PcpuStackSize = 0x1000
)

// pageDirectoryAlign is the alignment and size of the TVM page directory.
const pageDirectoryAlign = 16 << 10

// pteEntriesPerPage is the number of entries in one page-table page.
const pteEntriesPerPage = 512

// maxPtePages returns the worst-case number of page-table pages needed to
// map totalSize bytes with an SV48 four-level structure.
func maxPtePages(totalSize uint64) uint64 {
	l1 := totalSize/pageSize/pteEntriesPerPage + 1
	l2 := l1/pteEntriesPerPage + 1
	l3 := l2/pteEntriesPerPage + 1
	return l1 + l2 + l3 + 1
}
