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
	"sort"

	"covehost.dev/covehost/pkg/abi/cove"
)

const pageSize = cove.PageSize

// HostMemory reserves host-physical page runs for donation to the TSM and
// gives the host byte access to its own reservations. Implementations back
// this with anonymous mappings in production and with plain slices in
// tests.
type HostMemory interface {
	// ReservePages reserves numPages of zero-filled page-aligned memory
	// and returns its base address.
	ReservePages(numPages uint64) (uint64, error)

	// Release returns a reservation made by ReservePages. base must be
	// the exact address returned.
	Release(base uint64) error

	// Slice returns host byte access to [base, base+length) of a
	// reservation.
	Slice(base, length uint64) ([]byte, error)
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

// window carves page runs out of the single reserved host window holding
// the guest's entire physical memory.
type window struct {
	base uint64
	size uint64
	next uint64
}

func (w *window) align(align uint64) {
	w.next = alignUp(w.next, align)
}

// take returns the next run of numPages, advancing the carve pointer.
func (w *window) take(numPages uint64) (uint64, error) {
	length := numPages * pageSize
	if w.next+length > w.base+w.size {
		return 0, fmt.Errorf("window exhausted: need %#x bytes at %#x, window ends at %#x",
			length, w.next, w.base+w.size)
	}
	addr := w.next
	w.next += length
	return addr, nil
}

// remaining returns the bytes left in the window.
func (w *window) remaining() uint64 {
	return w.base + w.size - w.next
}

// rangeList tracks host physical ranges, kept sorted and disjoint. It
// backs the converted/assigned bookkeeping that guards reclaim.
type rangeList struct {
	spans []span
}

type span struct {
	base, length uint64
}

func (s span) end() uint64 {
	return s.base + s.length
}

// add records [base, base+length), merging with neighbors.
func (l *rangeList) add(base, length uint64) {
	l.spans = append(l.spans, span{base, length})
	sort.Slice(l.spans, func(i, j int) bool { return l.spans[i].base < l.spans[j].base })
	merged := l.spans[:1]
	for _, s := range l.spans[1:] {
		last := &merged[len(merged)-1]
		if s.base <= last.end() {
			if s.end() > last.end() {
				last.length = s.end() - last.base
			}
			continue
		}
		merged = append(merged, s)
	}
	l.spans = merged
}

// intersects reports whether [base, base+length) overlaps any recorded
// range.
func (l *rangeList) intersects(base, length uint64) bool {
	for _, s := range l.spans {
		if base < s.end() && s.base < base+length {
			return true
		}
	}
	return false
}

// contains reports whether [base, base+length) lies entirely within the
// recorded ranges.
func (l *rangeList) contains(base, length uint64) bool {
	for _, s := range l.spans {
		if base >= s.base && base+length <= s.end() {
			return true
		}
	}
	return false
}

// remove drops [base, base+length) from the recorded ranges, splitting
// spans as needed.
func (l *rangeList) remove(base, length uint64) {
	var out []span
	end := base + length
	for _, s := range l.spans {
		if end <= s.base || s.end() <= base {
			out = append(out, s)
			continue
		}
		if s.base < base {
			out = append(out, span{s.base, base - s.base})
		}
		if s.end() > end {
			out = append(out, span{end, s.end() - end})
		}
	}
	l.spans = out
}
