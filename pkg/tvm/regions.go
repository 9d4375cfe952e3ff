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
	"github.com/google/btree"

	"covehost.dev/covehost/pkg/abi/cove"
)

// Region is a declared range of TVM physical address space.
type Region struct {
	Base   uint64
	Length uint64
	Kind   cove.RegionKind
}

// End returns the first address past the region.
func (r Region) End() uint64 {
	return r.Base + r.Length
}

// regionSet tracks declared guest-physical regions, ordered by base.
// Members never overlap.
type regionSet struct {
	t *btree.BTreeG[Region]
}

func newRegionSet() *regionSet {
	return &regionSet{
		t: btree.NewG(8, func(a, b Region) bool { return a.Base < b.Base }),
	}
}

// overlapping returns a declared region overlapping [base, base+length),
// if any. Since members never overlap each other, checking the rightmost
// region starting at or below the probe's last address suffices.
func (s *regionSet) overlapping(base, length uint64) (Region, bool) {
	var hit Region
	var ok bool
	s.t.DescendLessOrEqual(Region{Base: base + length - 1}, func(r Region) bool {
		if r.End() > base {
			hit, ok = r, true
		}
		return false
	})
	return hit, ok
}

// insert adds a region. Redeclaring an identical region is a no-op; any
// other overlap is rejected.
func (s *regionSet) insert(r Region) error {
	if prev, ok := s.overlapping(r.Base, r.Length); ok {
		if prev == r {
			return nil
		}
		return ErrRegionOverlap
	}
	s.t.ReplaceOrInsert(r)
	return nil
}

// remove deletes a region covering exactly [base, base+length) of the
// given kind, reporting whether one existed.
func (s *regionSet) remove(base, length uint64, kind cove.RegionKind) bool {
	r, ok := s.t.Get(Region{Base: base})
	if !ok || r.Length != length || r.Kind != kind {
		return false
	}
	s.t.Delete(r)
	return true
}

// find returns the declared region containing addr.
func (s *regionSet) find(addr uint64) (Region, bool) {
	return s.overlapping(addr, 1)
}

// covers reports whether [base, base+length) lies entirely within one
// declared region of the given kind.
func (s *regionSet) covers(base, length uint64, kind cove.RegionKind) bool {
	r, ok := s.find(base)
	return ok && r.Kind == kind && base >= r.Base && base+length <= r.End()
}
