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
	"github.com/sirupsen/logrus"

	"covehost.dev/covehost/pkg/abi/cove"
	"covehost.dev/covehost/pkg/mmio"
	"covehost.dev/covehost/pkg/nacl"
	"covehost.dev/covehost/pkg/sbi"
)

// Config parameterizes TVM construction.
type Config struct {
	// WindowSize is the size of the host memory window backing the guest.
	// Rounded up to MinWindowSize.
	WindowSize uint64

	// Image is the guest payload, measured into the TVM at ImageOffset and
	// used as the boot vCPU's entry point.
	Image []byte

	// Timer is the host tick source; nil means no tick source.
	Timer Timer

	// Bus carries the host MMIO device handlers; nil means an empty bus.
	Bus *mmio.Bus

	// Log is the destination for protocol events; nil means the standard
	// logger.
	Log *logrus.Entry
}

// Build runs the whole TVM construction sequence against the TSM and
// returns a finalized, runnable Machine. Any error means the TVM is in an
// undefined state; the caller must not attempt to run or rebuild it in
// this process.
func Build(host *sbi.Host, mem HostMemory, cfg Config) (*Machine, error) {
	if len(cfg.Image) == 0 {
		return nil, setupErrf("image", "no guest image provided")
	}
	windowSize := alignUp(cfg.WindowSize, pageSize)
	if windowSize < MinWindowSize {
		windowSize = MinWindowSize
	}
	if cfg.Timer == nil {
		cfg.Timer = nopTimer{}
	}
	if cfg.Bus == nil {
		cfg.Bus = mmio.NewBus()
	}
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}

	info, err := ProbeTsm(host, mem)
	if err != nil {
		return nil, setupErr("tsm info", err)
	}
	if info.State != cove.TsmReady {
		return nil, setupErrf("tsm info", "TSM state %d: %w", info.State, ErrNotReady)
	}

	windowBase, err := mem.ReservePages(windowSize / pageSize)
	if err != nil {
		return nil, setupErr("window", err)
	}
	m := &Machine{
		host:       host,
		mem:        mem,
		log:        cfg.Log,
		timer:      cfg.Timer,
		bus:        cfg.Bus,
		vcpuID:     cove.VcpuBootID,
		regions:    newRegionSet(),
		windowBase: windowBase,
		windowSize: windowSize,
	}
	w := &window{base: windowBase, size: windowSize, next: windowBase}

	if err := m.createTvm(w, info); err != nil {
		return nil, err
	}
	if err := m.createBootVcpu(w, info); err != nil {
		return nil, err
	}
	if err := m.donatePageTablePool(w); err != nil {
		return nil, err
	}

	// Everything still in the window becomes guest RAM.
	ramSize := w.remaining()
	if ImageOffset+alignUp(uint64(len(cfg.Image)), pageSize) > ramSize {
		return nil, setupErrf("layout", "image of %#x bytes does not fit in %#x of guest RAM",
			len(cfg.Image), ramSize)
	}
	if err := m.declareConfidentialRegion(GuestRAMBase, ramSize); err != nil {
		return nil, setupErr("memory region", err)
	}

	if err := m.measureBootInfo(w, ramSize, uint64(len(cfg.Image))); err != nil {
		return nil, err
	}
	if err := m.measureImage(w, cfg.Image); err != nil {
		return nil, err
	}
	if err := m.zeroFill(w, ramSize, uint64(len(cfg.Image))); err != nil {
		return nil, err
	}

	if err := host.FinalizeTvm(m.guestID, GuestRAMBase+ImageOffset, GuestRAMBase+BootInfoOffset); err != nil {
		return nil, setupErr("finalize", err)
	}
	m.finalized = true
	m.resumable = true

	if err := m.registerScratch(); err != nil {
		return nil, err
	}

	m.log.WithField("guest", m.guestID).
		WithField("ram", logrus.Fields{"base": GuestRAMBase, "size": ramSize}).
		Info("TVM finalized")
	return m, nil
}

// ProbeTsm queries the TSM's info structure through a borrowed page.
func ProbeTsm(host *sbi.Host, mem HostMemory) (cove.TsmInfo, error) {
	base, err := mem.ReservePages(1)
	if err != nil {
		return cove.TsmInfo{}, err
	}
	defer mem.Release(base)
	if _, err := host.TsmInfo(base, cove.TsmInfoSize); err != nil {
		return cove.TsmInfo{}, err
	}
	buf, err := mem.Slice(base, cove.TsmInfoSize)
	if err != nil {
		return cove.TsmInfo{}, err
	}
	return cove.DecodeTsmInfo(buf)
}

// createTvm converts the page-directory and TVM-state pages and creates
// the TVM.
func (m *Machine) createTvm(w *window, info cove.TsmInfo) error {
	w.align(pageDirectoryAlign)
	pdPages := uint64(pageDirectoryAlign / pageSize)
	pdBase, err := w.take(pdPages + info.TvmStatePages)
	if err != nil {
		return setupErr("tvm state", err)
	}
	stateBase := pdBase + pdPages*pageSize
	if err := m.convertToConfidential(pdBase, pdPages+info.TvmStatePages); err != nil {
		return setupErr("tvm state", err)
	}

	// The parameter block stays non-confidential; the TSM reads it out
	// during the call.
	paramsBase, err := m.mem.ReservePages(1)
	if err != nil {
		return setupErr("create", err)
	}
	defer m.mem.Release(paramsBase)
	buf, err := m.mem.Slice(paramsBase, cove.TvmCreateParamsSize)
	if err != nil {
		return setupErr("create", err)
	}
	cove.TvmCreateParams{PageDirectoryAddr: pdBase, StateAddr: stateBase}.Encode(buf)
	guestID, err := m.host.CreateTvm(paramsBase, cove.TvmCreateParamsSize)
	if err != nil {
		return setupErr("create", err)
	}
	m.guestID = guestID
	return nil
}

// createBootVcpu converts the vCPU-state pages and adds the boot vCPU.
func (m *Machine) createBootVcpu(w *window, info cove.TsmInfo) error {
	base, err := w.take(info.TvmVcpuStatePages)
	if err != nil {
		return setupErr("vcpu", err)
	}
	if err := m.convertToConfidential(base, info.TvmVcpuStatePages); err != nil {
		return setupErr("vcpu", err)
	}
	if err := m.host.CreateVcpu(m.guestID, m.vcpuID, base); err != nil {
		return setupErr("vcpu", err)
	}
	return nil
}

// donatePageTablePool sizes the page-table pool for the worst case of
// mapping the rest of the window with 4 KiB pages and donates it.
func (m *Machine) donatePageTablePool(w *window) error {
	numPages := maxPtePages(w.remaining())
	base, err := w.take(numPages)
	if err != nil {
		return setupErr("page tables", err)
	}
	if err := m.convertToConfidential(base, numPages); err != nil {
		return setupErr("page tables", err)
	}
	if err := m.insertPageTablePages(base, numPages); err != nil {
		return setupErr("page tables", err)
	}
	return nil
}

// measureBootInfo encodes the boot-info structure describing the guest
// layout and adds the boot-info range as measured pages at the
// boot-argument GPA.
func (m *Machine) measureBootInfo(w *window, ramSize, imageSize uint64) error {
	bi := cove.BootInfo{
		Version: cove.BootInfoVersion,
		Size:    cove.BootInfoSize,
		Attr:    cove.BootInfoAttrTee,

		MemBase:       GuestRAMBase,
		MemLimit:      GuestRAMBase + ramSize - 1,
		ImageBase:     GuestRAMBase + ImageOffset,
		StackBase:     GuestRAMBase + BootStackOffset + BootStackSize,
		HeapBase:      GuestRAMBase + BootHeapOffset,
		NsCommBufBase: GuestRAMBase + SharedBufOffset,
		SharedBufBase: GuestRAMBase + SharedBufOffset,
		ImageSize:     alignUp(imageSize, pageSize),
		PcpuStackSize: PcpuStackSize,
		HeapSize:      BootHeapSize,
		NsCommBufSize: SharedBufSize,
		SharedBufSize: SharedBufSize,

		NumMemRegions: cove.BootInfoRegions,
		NumCpus:       1,
		CPU:           cove.CPUInfo{Flags: cove.CPUFlagPrimary},
	}

	// The entire fixed boot-info range is measured, not just the page
	// holding the structure; the zero tail is part of the attestation
	// digest.
	numPages := uint64(BootInfoSize / pageSize)
	srcBase, err := m.mem.ReservePages(numPages)
	if err != nil {
		return setupErr("boot info", err)
	}
	defer m.mem.Release(srcBase)
	buf, err := m.mem.Slice(srcBase, BootInfoSize)
	if err != nil {
		return setupErr("boot info", err)
	}
	bi.Encode(buf)

	dst, err := w.take(numPages)
	if err != nil {
		return setupErr("boot info", err)
	}
	if err := m.convertToConfidential(dst, numPages); err != nil {
		return setupErr("boot info", err)
	}
	if err := m.insertMeasuredPages(srcBase, dst, cove.Page4k, numPages, GuestRAMBase+BootInfoOffset); err != nil {
		return setupErr("boot info", err)
	}
	return nil
}

// measureImage stages the guest image in non-confidential memory and adds
// it as measured pages at ImageOffset.
func (m *Machine) measureImage(w *window, image []byte) error {
	numPages := alignUp(uint64(len(image)), pageSize) / pageSize
	srcBase, err := m.mem.ReservePages(numPages)
	if err != nil {
		return setupErr("image", err)
	}
	defer m.mem.Release(srcBase)
	buf, err := m.mem.Slice(srcBase, numPages*pageSize)
	if err != nil {
		return setupErr("image", err)
	}
	copy(buf, image)

	dst, err := w.take(numPages)
	if err != nil {
		return setupErr("image", err)
	}
	if err := m.convertToConfidential(dst, numPages); err != nil {
		return setupErr("image", err)
	}
	if err := m.insertMeasuredPages(srcBase, dst, cove.Page4k, numPages, GuestRAMBase+ImageOffset); err != nil {
		return setupErr("image", err)
	}
	return nil
}

// zeroFill maps zero pages over the unmeasured parts of guest RAM: the
// boot stack, the boot heap, the gap up to the shared buffer, and
// everything past the image. The shared-buffer window is left unmapped; it
// is populated on demand after the guest declares it shared.
func (m *Machine) zeroFill(w *window, ramSize, imageSize uint64) error {
	spans := []struct {
		step   string
		offset uint64
		length uint64
	}{
		{"stack", BootStackOffset, BootStackSize},
		{"heap", BootHeapOffset, BootHeapSize},
		{"low fill", BootHeapOffset + BootHeapSize, SharedBufOffset - (BootHeapOffset + BootHeapSize)},
		{"remainder", ImageOffset + alignUp(imageSize, pageSize), 0},
	}
	spans[len(spans)-1].length = ramSize - spans[len(spans)-1].offset

	for _, s := range spans {
		if s.length == 0 {
			continue
		}
		numPages := s.length / pageSize
		base, err := w.take(numPages)
		if err != nil {
			return setupErr(s.step, err)
		}
		if err := m.convertToConfidential(base, numPages); err != nil {
			return setupErr(s.step, err)
		}
		if err := m.insertZeroPages(base, cove.Page4k, numPages, GuestRAMBase+s.offset); err != nil {
			return setupErr(s.step, err)
		}
	}
	return nil
}

// registerScratch allocates the NACL shared scratch area and registers it
// with the TSM.
func (m *Machine) registerScratch() error {
	numPages := alignUp(nacl.ShmemBytes, pageSize) / pageSize
	base, err := m.mem.ReservePages(numPages)
	if err != nil {
		return setupErr("scratch", err)
	}
	buf, err := m.mem.Slice(base, nacl.ShmemBytes)
	if err != nil {
		m.mem.Release(base)
		return setupErr("scratch", err)
	}
	shmem, err := nacl.New(buf)
	if err != nil {
		m.mem.Release(base)
		return setupErr("scratch", err)
	}
	if err := m.host.SetShmem(base); err != nil {
		m.mem.Release(base)
		return setupErr("scratch", err)
	}
	m.shmem = shmem
	m.shmemBase = base
	return nil
}
