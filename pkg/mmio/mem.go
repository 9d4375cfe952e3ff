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
	"encoding/binary"
	"fmt"
)

// Mem is a memory-backed Handler: reads and writes land in a plain buffer.
// It backs simple register windows and test devices.
type Mem struct {
	base uint64
	buf  []byte
}

// NewMem returns a Mem serving [base, base+len(buf)).
func NewMem(base uint64, buf []byte) *Mem {
	return &Mem{base: base, buf: buf}
}

func (m *Mem) slice(addr uint64, size uint8) ([]byte, error) {
	if addr < m.base || addr+uint64(size) > m.base+uint64(len(m.buf)) {
		return nil, fmt.Errorf("access at %#x/%d outside device", addr, size)
	}
	off := addr - m.base
	return m.buf[off : off+uint64(size)], nil
}

// Read implements Handler.
func (m *Mem) Read(addr uint64, size uint8) (uint64, error) {
	b, err := m.slice(addr, size)
	if err != nil {
		return 0, err
	}
	switch size {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	case 8:
		return binary.LittleEndian.Uint64(b), nil
	default:
		return 0, fmt.Errorf("bad access size %d", size)
	}
}

// Write implements Handler.
func (m *Mem) Write(addr uint64, size uint8, v uint64) error {
	b, err := m.slice(addr, size)
	if err != nil {
		return err
	}
	switch size {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(b, v)
	default:
		return fmt.Errorf("bad access size %d", size)
	}
	return nil
}
