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

package mmio

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// loadInst encodes an uncompressed load with the given funct3 and rd.
func loadInst(funct3, rd uint32) uint32 {
	return 0x03 | rd<<7 | funct3<<12
}

// storeInst encodes an uncompressed store with the given funct3 and rs2.
func storeInst(funct3, rs2 uint32) uint32 {
	return 0x23 | funct3<<12 | rs2<<20
}

func TestDecode(t *testing.T) {
	for _, tc := range []struct {
		name string
		inst uint32
		want Access
	}{
		{"lb", loadInst(0b000, 14), Access{Size: 1, Reg: 14}},
		{"lbu", loadInst(0b100, 10), Access{Size: 1, Reg: 10}},
		{"lh", loadInst(0b001, 5), Access{Size: 2, Reg: 5}},
		{"lhu", loadInst(0b101, 6), Access{Size: 2, Reg: 6}},
		{"lw", loadInst(0b010, 7), Access{Size: 4, Reg: 7}},
		{"lwu", loadInst(0b110, 8), Access{Size: 4, Reg: 8}},
		{"ld", loadInst(0b011, 9), Access{Size: 8, Reg: 9}},
		{"sb", storeInst(0b000, 15), Access{Size: 1, Write: true, Reg: 15}},
		{"sh", storeInst(0b001, 16), Access{Size: 2, Write: true, Reg: 16}},
		{"sw", storeInst(0b010, 17), Access{Size: 4, Write: true, Reg: 17}},
		{"sd", storeInst(0b011, 18), Access{Size: 8, Write: true, Reg: 18}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode(tc.inst)
			if err != nil {
				t.Fatalf("Decode(%#x) failed: %v", tc.inst, err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Decode(%#x) mismatch (-want +got):\n%s", tc.inst, diff)
			}
		})
	}
}

func TestDecodeInvalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		inst uint32
	}{
		{"compressed", 0x4501},           // c.li
		{"not a load/store", 0x00000013}, // addi
		{"bad load funct3", loadInst(0b111, 1)},
		{"bad store funct3", storeInst(0b100, 1)},
		{"zero", 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(tc.inst); !errors.Is(err, ErrBadInstruction) {
				t.Errorf("Decode(%#x) = %v, want ErrBadInstruction", tc.inst, err)
			}
		})
	}
}

func TestBusRouting(t *testing.T) {
	b := NewBus()
	buf := make([]byte, 0x100)
	if err := b.Register(0x1000, 0x100, NewMem(0x1000, buf)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := b.Write(0x1010, 4, 0xdeadbeef); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	v, err := b.Read(0x1010, 4)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if v != 0xdeadbeef {
		t.Errorf("Read = %#x, want 0xdeadbeef", v)
	}

	// Narrower read of the same bytes.
	v, err = b.Read(0x1012, 1)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if v != 0xad {
		t.Errorf("Read = %#x, want 0xad", v)
	}

	if _, err := b.Read(0x2000, 4); err == nil {
		t.Error("Read outside any region succeeded")
	}
	// Access straddling the region end must not hit the handler.
	if _, err := b.Read(0x10fc+1, 8); err == nil {
		t.Error("straddling read succeeded")
	}
}

func TestBusRegisterOverlap(t *testing.T) {
	b := NewBus()
	if err := b.Register(0x1000, 0x100, NewMem(0x1000, make([]byte, 0x100))); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := b.Register(0x10f0, 0x100, NewMem(0x10f0, make([]byte, 0x100))); err == nil {
		t.Error("overlapping Register succeeded")
	}
	if err := b.Register(0x1100, 0, nil); err == nil {
		t.Error("zero-length Register succeeded")
	}
}
