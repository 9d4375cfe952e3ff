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

// Package mmio classifies the faulting instruction of an emulated MMIO
// access and routes the access to a host-side device handler.
package mmio

import (
	"errors"
	"fmt"
)

// ErrBadInstruction is returned when the faulting instruction is not an
// uncompressed load or store the host can emulate.
var ErrBadInstruction = errors.New("not an emulatable load/store instruction")

// Access is the classified shape of an MMIO access.
type Access struct {
	// Size is the access width in bytes: 1, 2, 4 or 8.
	Size uint8

	// Write is true for stores.
	Write bool

	// Reg is the GPR index completing the access: rd for loads, rs2 for
	// stores.
	Reg int
}

const (
	opcodeLoad  = 0b00000
	opcodeStore = 0b01000
)

// accessTable maps (opcode class, funct3) to access shape. funct3 values
// 0b100 and 0b101 are the unsigned load variants; 0b110 is lwu.
var accessTable = map[[2]uint32]Access{
	{opcodeLoad, 0b000}:  {Size: 1},              // lb
	{opcodeLoad, 0b100}:  {Size: 1},              // lbu
	{opcodeLoad, 0b001}:  {Size: 2},              // lh
	{opcodeLoad, 0b101}:  {Size: 2},              // lhu
	{opcodeLoad, 0b010}:  {Size: 4},              // lw
	{opcodeLoad, 0b110}:  {Size: 4},              // lwu
	{opcodeLoad, 0b011}:  {Size: 8},              // ld
	{opcodeStore, 0b000}: {Size: 1, Write: true}, // sb
	{opcodeStore, 0b001}: {Size: 2, Write: true}, // sh
	{opcodeStore, 0b010}: {Size: 4, Write: true}, // sw
	{opcodeStore, 0b011}: {Size: 8, Write: true}, // sd
}

// Decode classifies a 32-bit instruction encoding into an Access.
func Decode(inst uint32) (Access, error) {
	if inst&0b11 != 0b11 {
		// Compressed encoding; the TSM only exposes transformed
		// uncompressed instructions here.
		return Access{}, ErrBadInstruction
	}
	opcode := (inst >> 2) & 0b11111
	funct3 := (inst >> 12) & 0b111
	acc, ok := accessTable[[2]uint32{opcode, funct3}]
	if !ok {
		return Access{}, ErrBadInstruction
	}
	if acc.Write {
		acc.Reg = int((inst >> 20) & 0b11111) // rs2
	} else {
		acc.Reg = int((inst >> 7) & 0b11111) // rd
	}
	return acc, nil
}

// Handler performs MMIO accesses for one device region on the host's
// behalf.
type Handler interface {
	// Read returns the value at addr for a load of the given width.
	Read(addr uint64, size uint8) (uint64, error)

	// Write stores v at addr with the given width.
	Write(addr uint64, size uint8, v uint64) error
}

type busRegion struct {
	base, length uint64
	h            Handler
}

// Bus routes MMIO accesses by guest physical address to registered
// handlers. A Bus is not safe for concurrent mutation; the run loop owns
// it.
type Bus struct {
	regions []busRegion
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Register binds [base, base+length) to h.
func (b *Bus) Register(base, length uint64, h Handler) error {
	if length == 0 {
		return fmt.Errorf("zero-length MMIO region at %#x", base)
	}
	for _, r := range b.regions {
		if base < r.base+r.length && r.base < base+length {
			return fmt.Errorf("MMIO region [%#x, %#x) overlaps [%#x, %#x)",
				base, base+length, r.base, r.base+r.length)
		}
	}
	b.regions = append(b.regions, busRegion{base: base, length: length, h: h})
	return nil
}

func (b *Bus) lookup(addr uint64, size uint8) (Handler, bool) {
	for _, r := range b.regions {
		if addr >= r.base && addr+uint64(size) <= r.base+r.length {
			return r.h, true
		}
	}
	return nil, false
}

// Read performs a load at addr.
func (b *Bus) Read(addr uint64, size uint8) (uint64, error) {
	h, ok := b.lookup(addr, size)
	if !ok {
		return 0, fmt.Errorf("no device at %#x", addr)
	}
	return h.Read(addr, size)
}

// Write performs a store at addr.
func (b *Bus) Write(addr uint64, size uint8, v uint64) error {
	h, ok := b.lookup(addr, size)
	if !ok {
		return fmt.Errorf("no device at %#x", addr)
	}
	return h.Write(addr, size, v)
}
