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

import "testing"

func TestAlignUp(t *testing.T) {
	for _, tc := range []struct {
		v, align, want uint64
	}{
		{0, 0x1000, 0},
		{1, 0x1000, 0x1000},
		{0x1000, 0x1000, 0x1000},
		{0x1001, 0x1000, 0x2000},
		{0x3fff, 0x4000, 0x4000},
	} {
		if got := alignUp(tc.v, tc.align); got != tc.want {
			t.Errorf("alignUp(%#x, %#x) = %#x, want %#x", tc.v, tc.align, got, tc.want)
		}
	}
}

func TestWindow(t *testing.T) {
	w := &window{base: 0x10000, size: 0x10000, next: 0x10000}

	a, err := w.take(2)
	if err != nil || a != 0x10000 {
		t.Fatalf("take(2) = %#x, %v", a, err)
	}
	w.align(0x4000)
	a, err = w.take(1)
	if err != nil || a != 0x14000 {
		t.Fatalf("aligned take(1) = %#x, %v", a, err)
	}
	if got := w.remaining(); got != 0xb000 {
		t.Errorf("remaining = %#x, want 0xb000", got)
	}
	if _, err := w.take(12); err == nil {
		t.Error("take past the window end succeeded")
	}
}

func TestRangeList(t *testing.T) {
	var l rangeList
	l.add(0x1000, 0x1000)
	l.add(0x3000, 0x1000)
	l.add(0x2000, 0x1000) // bridges the two

	if len(l.spans) != 1 {
		t.Fatalf("%d spans after merge, want 1", len(l.spans))
	}
	if !l.contains(0x1000, 0x3000) {
		t.Error("merged range not contained")
	}
	if l.contains(0x1000, 0x4000) {
		t.Error("contains accepted a range past the end")
	}
	if !l.intersects(0x3fff, 2) {
		t.Error("intersects missed the tail")
	}
	if l.intersects(0x4000, 0x1000) {
		t.Error("intersects matched past the end")
	}

	l.remove(0x2000, 0x1000)
	if len(l.spans) != 2 {
		t.Fatalf("%d spans after split, want 2", len(l.spans))
	}
	if l.contains(0x2000, 0x1000) {
		t.Error("removed range still contained")
	}
	if !l.contains(0x1000, 0x1000) || !l.contains(0x3000, 0x1000) {
		t.Error("split lost the surviving halves")
	}
}

func TestMaxPtePages(t *testing.T) {
	// 32 MiB of 4 KiB pages: 8192 leaf PTEs = 16 full L1 pages plus a
	// spare, one page per upper level, and the root.
	if got := maxPtePages(32 << 20); got != 17+1+1+1 {
		t.Errorf("maxPtePages(32MiB) = %d, want 20", got)
	}
	// Sizing must never round to zero.
	if got := maxPtePages(pageSize); got < 4 {
		t.Errorf("maxPtePages(one page) = %d", got)
	}
}
