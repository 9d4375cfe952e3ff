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
	"sync"

	"covehost.dev/covehost/pkg/memutil"
)

// mmapMemory is the production HostMemory: anonymous page-aligned
// mappings whose host virtual addresses stand in for host physical
// addresses under the platform's identity mapping.
type mmapMemory struct {
	mu   sync.Mutex
	maps map[uint64][]byte
}

// NewHostMemory returns a HostMemory backed by anonymous mappings.
func NewHostMemory() HostMemory {
	return &mmapMemory{maps: make(map[uint64][]byte)}
}

// ReservePages implements HostMemory.ReservePages.
func (m *mmapMemory) ReservePages(numPages uint64) (uint64, error) {
	addr, buf, err := memutil.AllocPages(numPages)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maps[uint64(addr)] = buf
	return uint64(addr), nil
}

// Release implements HostMemory.Release.
func (m *mmapMemory) Release(base uint64) error {
	m.mu.Lock()
	buf, ok := m.maps[base]
	delete(m.maps, base)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no reservation at %#x", base)
	}
	return memutil.FreePages(buf)
}

// Slice implements HostMemory.Slice.
func (m *mmapMemory) Slice(base, length uint64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for b, buf := range m.maps {
		if base >= b && base+length <= b+uint64(len(buf)) {
			off := base - b
			return buf[off : off+length], nil
		}
	}
	return nil, fmt.Errorf("no reservation covers [%#x, %#x)", base, base+length)
}
