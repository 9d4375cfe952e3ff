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

// Package memutil provides page-aligned anonymous memory mappings used as
// host-physical backing for TVM donation.
package memutil

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PageSize is the host page size assumed by this package.
const PageSize = 4096

// AllocPages maps numPages of zero-filled anonymous memory and returns the
// mapping's base address along with a slice over it. The mapping is
// page-aligned by construction.
func AllocPages(numPages uint64) (uintptr, []byte, error) {
	size := uintptr(numPages * PageSize)
	addr, _, errno := unix.RawSyscall6(
		unix.SYS_MMAP,
		0, // Suggested address.
		size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANONYMOUS|unix.MAP_PRIVATE,
		^uintptr(0), 0)
	if errno != 0 {
		return 0, nil, fmt.Errorf("mmap of %d pages failed: %v", numPages, errno)
	}
	return addr, unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size)), nil
}

// FreePages unmaps a mapping returned by AllocPages.
func FreePages(b []byte) error {
	ptr := unsafe.SliceData(b)
	_, _, errno := unix.RawSyscall6(unix.SYS_MUNMAP, uintptr(unsafe.Pointer(ptr)), uintptr(cap(b)), 0, 0, 0, 0)
	if errno != 0 {
		return fmt.Errorf("munmap failed: %v", errno)
	}
	return nil
}
