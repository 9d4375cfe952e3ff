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

package sbi

import "covehost.dev/covehost/pkg/abi/cove"

// Guest wraps the COVG guest-side extension: the calls a TVM issues about
// its own address space. The host-side dispatcher services these same
// ecalls; this wrapper exists for guest payloads built against this module.
type Guest struct {
	c Caller
}

// NewGuest returns a Guest issuing calls through c.
func NewGuest(c Caller) *Guest {
	return &Guest{c: c}
}

func (g *Guest) covg(fid uint64, args ...uint64) error {
	ret, err := g.c.Call(cove.EXTCOVG, fid, args...)
	if err != nil {
		return err
	}
	return ret.Err()
}

// AddMmioRegion marks [gpa, gpa+length) as an emulated MMIO region. Both
// values must be 4 KiB aligned.
func (g *Guest) AddMmioRegion(gpa, length uint64) error {
	return g.covg(cove.COVGAddMmioRegion, gpa, length)
}

// RemoveMmioRegion removes a previously added MMIO region.
func (g *Guest) RemoveMmioRegion(gpa, length uint64) error {
	return g.covg(cove.COVGRemoveMmioRegion, gpa, length)
}

// ShareMemoryRegion begins the confidential-to-shared assignment change of
// [gpa, gpa+length). The calling vCPU blocks until the host completes the
// change.
func (g *Guest) ShareMemoryRegion(gpa, length uint64) error {
	return g.covg(cove.COVGShareMemoryRegion, gpa, length)
}

// UnshareMemoryRegion begins the shared-to-confidential assignment change
// of [gpa, gpa+length).
func (g *Guest) UnshareMemoryRegion(gpa, length uint64) error {
	return g.covg(cove.COVGUnshareMemoryRegion, gpa, length)
}
