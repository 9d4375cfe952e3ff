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
	"encoding/binary"
	"fmt"
	"testing"

	"covehost.dev/covehost/pkg/abi/cove"
	"covehost.dev/covehost/pkg/nacl"
	"covehost.dev/covehost/pkg/sbi"
)

// testGuestID is the guest ID minted by the fake TSM.
const testGuestID = 7

// fakeMem is a HostMemory handing out fake physical addresses backed by
// plain slices.
type fakeMem struct {
	next uint64
	bufs map[uint64][]byte
}

func newFakeMem() *fakeMem {
	// 16 KiB aligned so page-directory alignment in the window holds.
	return &fakeMem{next: 0x10000000, bufs: make(map[uint64][]byte)}
}

// ReservePages implements HostMemory.ReservePages.
func (m *fakeMem) ReservePages(numPages uint64) (uint64, error) {
	base := m.next
	length := numPages * pageSize
	m.bufs[base] = make([]byte, length)
	m.next = alignUp(base+length, pageDirectoryAlign)
	return base, nil
}

// Release implements HostMemory.Release.
func (m *fakeMem) Release(base uint64) error {
	if _, ok := m.bufs[base]; !ok {
		return fmt.Errorf("no reservation at %#x", base)
	}
	delete(m.bufs, base)
	return nil
}

// Slice implements HostMemory.Slice.
func (m *fakeMem) Slice(base, length uint64) ([]byte, error) {
	for b, buf := range m.bufs {
		if base >= b && base+length <= b+uint64(len(buf)) {
			off := base - b
			return buf[off : off+length], nil
		}
	}
	return nil, fmt.Errorf("no reservation covers [%#x, %#x)", base, base+length)
}

// call is one recorded privileged call.
type call struct {
	Ext  uint64
	Fid  uint64
	Args []uint64
}

// measured is one AddMeasuredPages payload snapshot.
type measured struct {
	gpa  uint64
	data []byte
}

// exit scripts one RunVcpu return: apply mutates the scratch area the way
// the TSM would, resumable becomes the call's return value.
type exit struct {
	apply     func(f *fakeTsm)
	resumable bool
}

// fakeTsm is a scripted TSM behind the Caller interface. It services the
// calls the builder and run loop issue, records everything, and plays back
// scripted vCPU exits.
type fakeTsm struct {
	t    *testing.T
	mem  *fakeMem
	info cove.TsmInfo

	calls    []call
	measured []measured
	shmem    *nacl.Shmem
	exits    []exit

	// fail forces the given COVH function to return an error.
	fail map[uint64]sbi.Errno
}

func newFakeTsm(t *testing.T, mem *fakeMem) *fakeTsm {
	return &fakeTsm{
		t:   t,
		mem: mem,
		info: cove.TsmInfo{
			State:             cove.TsmReady,
			Version:           1,
			TvmStatePages:     2,
			TvmMaxVcpus:       1,
			TvmVcpuStatePages: 1,
		},
		fail: make(map[uint64]sbi.Errno),
	}
}

// fids returns the recorded COVH function IDs plus the NACL registration,
// in call order.
func (f *fakeTsm) fids() []uint64 {
	var out []uint64
	for _, c := range f.calls {
		if c.Ext == cove.EXTCOVH || c.Ext == cove.EXTNACL {
			out = append(out, c.Fid)
		}
	}
	return out
}

// count returns the number of recorded calls of the given COVH function.
func (f *fakeTsm) count(fid uint64) int {
	n := 0
	for _, c := range f.calls {
		if c.Ext == cove.EXTCOVH && c.Fid == fid {
			n++
		}
	}
	return n
}

// last returns the most recent call of the given COVH function.
func (f *fakeTsm) last(fid uint64) (call, bool) {
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Ext == cove.EXTCOVH && f.calls[i].Fid == fid {
			return f.calls[i], true
		}
	}
	return call{}, false
}

// Call implements sbi.Caller.
func (f *fakeTsm) Call(ext, fid uint64, args ...uint64) (sbi.Ret, error) {
	f.calls = append(f.calls, call{Ext: ext, Fid: fid, Args: append([]uint64(nil), args...)})

	if ext == cove.EXTNACL && fid == cove.NACLSetShmem {
		buf, err := f.mem.Slice(args[0], uint64(nacl.ShmemBytes))
		if err != nil {
			f.t.Fatalf("SetShmem at %#x: %v", args[0], err)
		}
		s, err := nacl.New(buf)
		if err != nil {
			f.t.Fatalf("SetShmem: %v", err)
		}
		f.shmem = s
		return sbi.Ret{}, nil
	}
	if ext != cove.EXTCOVH {
		return sbi.Ret{}, nil
	}
	if e, ok := f.fail[fid]; ok {
		return sbi.Ret{Error: int64(e)}, nil
	}

	switch fid {
	case cove.COVHTsmInfo:
		buf, err := f.mem.Slice(args[0], cove.TsmInfoSize)
		if err != nil {
			f.t.Fatalf("TsmInfo at %#x: %v", args[0], err)
		}
		binary.LittleEndian.PutUint32(buf[0:], f.info.State)
		binary.LittleEndian.PutUint32(buf[4:], f.info.Version)
		binary.LittleEndian.PutUint64(buf[8:], f.info.TvmStatePages)
		binary.LittleEndian.PutUint64(buf[16:], f.info.TvmMaxVcpus)
		binary.LittleEndian.PutUint64(buf[24:], f.info.TvmVcpuStatePages)
		return sbi.Ret{Value: cove.TsmInfoSize}, nil

	case cove.COVHCreateTvm:
		return sbi.Ret{Value: testGuestID}, nil

	case cove.COVHAddTvmMeasuredPages:
		src, numPages, gpa := args[1], args[4], args[5]
		buf, err := f.mem.Slice(src, numPages*pageSize)
		if err != nil {
			f.t.Fatalf("AddMeasuredPages src %#x: %v", src, err)
		}
		f.measured = append(f.measured, measured{gpa: gpa, data: append([]byte(nil), buf...)})
		return sbi.Ret{}, nil

	case cove.COVHRunTvmVcpu:
		if len(f.exits) == 0 {
			f.t.Fatal("RunVcpu called with no scripted exits left")
		}
		e := f.exits[0]
		f.exits = f.exits[1:]
		e.apply(f)
		if e.resumable {
			return sbi.Ret{Value: 0}, nil
		}
		return sbi.Ret{Value: 1}, nil

	default:
		return sbi.Ret{}, nil
	}
}

// ecallExit scripts a VS-mode ecall exit with the given a-registers;
// regs[7] is the extension ID, regs[6] the function ID.
func ecallExit(regs map[int]uint64) exit {
	return exit{
		apply: func(f *fakeTsm) {
			f.shmem.SetCSR(cove.CSRScause, cove.ExcVirtualSupervisorEnvCall)
			for i, v := range regs {
				f.shmem.SetGPR(nacl.RegA0+i, v)
			}
		},
		resumable: true,
	}
}

// faultExit scripts a guest page fault at gpa. htinst carries the
// transformed faulting instruction for MMIO faults; 0 otherwise.
func faultExit(write bool, gpa, htinst uint64) exit {
	cause := uint64(cove.ExcGuestLoadPageFault)
	if write {
		cause = cove.ExcGuestStorePageFault
	}
	return exit{
		apply: func(f *fakeTsm) {
			f.shmem.SetCSR(cove.CSRScause, cause)
			f.shmem.SetCSR(cove.CSRStval, gpa&0x3)
			f.shmem.SetCSR(cove.CSRHtval, gpa>>2)
			f.shmem.SetCSR(cove.CSRHtinst, htinst)
		},
		resumable: true,
	}
}

// idleExit scripts a virtual-instruction exit (the guest hit WFI).
func idleExit() exit {
	return exit{
		apply: func(f *fakeTsm) {
			f.shmem.SetCSR(cove.CSRScause, cove.ExcVirtualInstruction)
			f.shmem.SetCSR(cove.CSRStval, 0x10500073) // wfi
			f.shmem.SetCSR(cove.CSRHtval, 0)
			f.shmem.SetCSR(cove.CSRHtinst, 0)
		},
		resumable: true,
	}
}

// testImage is the guest payload used by the fixtures: 64 KiB with a
// recognizable first word.
func testImage() []byte {
	img := make([]byte, 0x10000)
	binary.LittleEndian.PutUint32(img, 0x6f) // j 0
	return img
}

// buildTestMachine runs the full builder against the fake TSM.
func buildTestMachine(t *testing.T, f *fakeTsm, mem *fakeMem) *Machine {
	t.Helper()
	m, err := Build(sbi.NewHost(f), mem, Config{
		WindowSize: MinWindowSize,
		Image:      testImage(),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return m
}
