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

import (
	"encoding/binary"
	"fmt"
)

// TsmInfo describes the running TSM. The host passes a buffer of at least
// TsmInfoSize bytes to the TsmInfo call and decodes the result from it.
type TsmInfo struct {
	// State is one of TsmNotLoaded, TsmLoaded, TsmReady. The remaining
	// fields are valid only when State is TsmReady.
	State uint32

	// Version is the version number of the running TSM.
	Version uint32

	// TvmStatePages is the number of 4 KiB pages donated to the TSM for
	// per-TVM state when creating a TVM.
	TvmStatePages uint64

	// TvmMaxVcpus is the maximum number of vCPUs a TVM can support.
	TvmMaxVcpus uint64

	// TvmVcpuStatePages is the number of 4 KiB pages donated per vCPU.
	TvmVcpuStatePages uint64
}

// TsmInfoSize is the wire size of TsmInfo.
const TsmInfoSize = 32

// DecodeTsmInfo decodes a TsmInfo from its wire representation.
func DecodeTsmInfo(b []byte) (TsmInfo, error) {
	if len(b) < TsmInfoSize {
		return TsmInfo{}, fmt.Errorf("TsmInfo buffer too short: %d bytes", len(b))
	}
	return TsmInfo{
		State:             binary.LittleEndian.Uint32(b[0:]),
		Version:           binary.LittleEndian.Uint32(b[4:]),
		TvmStatePages:     binary.LittleEndian.Uint64(b[8:]),
		TvmMaxVcpus:       binary.LittleEndian.Uint64(b[16:]),
		TvmVcpuStatePages: binary.LittleEndian.Uint64(b[24:]),
	}, nil
}

// TvmCreateParams is the parameter block passed to CreateTvm.
type TvmCreateParams struct {
	// PageDirectoryAddr is the base of the 16 KiB confidential region used
	// for the TVM's page directory. Must be 16 KiB aligned.
	PageDirectoryAddr uint64

	// StateAddr is the base of the confidential region holding the TVM's
	// state; at least TsmInfo.TvmStatePages pages.
	StateAddr uint64
}

// TvmCreateParamsSize is the wire size of TvmCreateParams.
const TvmCreateParamsSize = 16

// Encode writes the parameter block into b.
func (p TvmCreateParams) Encode(b []byte) {
	binary.LittleEndian.PutUint64(b[0:], p.PageDirectoryAddr)
	binary.LittleEndian.PutUint64(b[8:], p.StateAddr)
}

// AiaParams configures AIA virtualization for a TVM. Single-vCPU hosts that
// do not virtualize the IMSIC leave this unused.
type AiaParams struct {
	// ImsicBaseAddr is the base of the virtualized IMSIC in TVM physical
	// address space.
	ImsicBaseAddr uint64

	// GroupIndexBits is the number of group index bits in an IMSIC address.
	GroupIndexBits uint32

	// GroupIndexShift is the location of the group index. Must be >= 24.
	GroupIndexShift uint32

	// HartIndexBits is the number of hart index bits.
	HartIndexBits uint32

	// GuestIndexBits is the number of guest index bits.
	GuestIndexBits uint32

	// GuestsPerHart is the number of guest interrupt files per vCPU.
	GuestsPerHart uint32
}

// AiaParamsSize is the wire size of AiaParams, including trailing padding.
const AiaParamsSize = 32

// Encode writes the parameter block into b.
func (p AiaParams) Encode(b []byte) {
	binary.LittleEndian.PutUint64(b[0:], p.ImsicBaseAddr)
	binary.LittleEndian.PutUint32(b[8:], p.GroupIndexBits)
	binary.LittleEndian.PutUint32(b[12:], p.GroupIndexShift)
	binary.LittleEndian.PutUint32(b[16:], p.HartIndexBits)
	binary.LittleEndian.PutUint32(b[20:], p.GuestIndexBits)
	binary.LittleEndian.PutUint32(b[24:], p.GuestsPerHart)
}
