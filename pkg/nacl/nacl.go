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

// Package nacl provides accessors for the NACL shared scratch area, the
// fixed-layout memory block through which the TSM exposes guest registers
// and CSR values to the host.
//
// The layout is bit-exact and must not change: a 2048-byte scratch block
// (whose first 32 words are the guest GPRs when servicing TvmCpuRun), 240
// reserved words, a 16-word dirty bitmap, and a 1024-entry CSR mirror. The
// block's contents are invalidated by every run of the vCPU; values must be
// read out between runs and never retained across them.
package nacl

import (
	"encoding/binary"
	"fmt"
)

const (
	// ScratchBytes is the size of the function-specific scratch block.
	ScratchBytes = 2048

	reservedWords    = 240
	dirtyBitmapWords = 16
	csrEntries       = 1024

	dirtyBitmapOffset = ScratchBytes + reservedWords*8
	csrOffset         = dirtyBitmapOffset + dirtyBitmapWords*8

	// ShmemBytes is the total size of the shared scratch area.
	ShmemBytes = csrOffset + csrEntries*8
)

// numGPRs is the number of guest general-purpose register slots at the
// start of the scratch block.
const numGPRs = 32

// A-register indices within the GPR block.
const (
	RegA0 = 10
	RegA7 = 17
)

// CSRIndex transforms a 12-bit CSR number into its mirror index by
// concatenating csr[11:10] and csr[7:0]. The dropped middle bits carry the
// privilege encoding, which is fixed for the CSRs the mirror holds.
func CSRIndex(csr uint16) int {
	return int(((uint32(csr) & 0xc00) >> 2) | (uint32(csr) & 0xff))
}

// Shmem wraps a shared scratch buffer. Accessors address the buffer by
// documented offsets; the buffer is never reinterpreted as a struct.
type Shmem struct {
	buf []byte
}

// New returns a Shmem over buf, which must hold at least ShmemBytes.
func New(buf []byte) (*Shmem, error) {
	if len(buf) < ShmemBytes {
		return nil, fmt.Errorf("scratch buffer too small: %d bytes, need %d", len(buf), ShmemBytes)
	}
	return &Shmem{buf: buf}, nil
}

// GPR returns guest register x{i}.
func (s *Shmem) GPR(i int) uint64 {
	if i < 0 || i >= numGPRs {
		panic(fmt.Sprintf("GPR index %d out of range", i))
	}
	return binary.LittleEndian.Uint64(s.buf[8*i:])
}

// SetGPR sets guest register x{i}.
func (s *Shmem) SetGPR(i int, v uint64) {
	if i < 0 || i >= numGPRs {
		panic(fmt.Sprintf("GPR index %d out of range", i))
	}
	binary.LittleEndian.PutUint64(s.buf[8*i:], v)
}

// Args returns the eight argument registers a0-a7.
func (s *Shmem) Args() [8]uint64 {
	var a [8]uint64
	for i := range a {
		a[i] = s.GPR(RegA0 + i)
	}
	return a
}

// CSR returns the mirrored value of the given CSR number.
func (s *Shmem) CSR(csr uint16) uint64 {
	return binary.LittleEndian.Uint64(s.buf[csrOffset+8*CSRIndex(csr):])
}

// SetCSR sets the mirrored value of the given CSR number.
func (s *Shmem) SetCSR(csr uint16, v uint64) {
	binary.LittleEndian.PutUint64(s.buf[csrOffset+8*CSRIndex(csr):], v)
}
