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
	"bytes"
	"encoding/binary"
	"testing"

	"covehost.dev/covehost/pkg/abi/cove"
)

func TestCommunicate(t *testing.T) {
	mem := newFakeMem()
	f := newFakeTsm(t, mem)
	m := buildTestMachine(t, f, mem)

	// The guest declares the shared window and idles.
	f.exits = []exit{shareExit(), idleExit()}
	if err := m.Run(); err == nil {
		t.Fatal("Run = nil")
	}

	// On the next resume the guest consumes the request and leaves its
	// response in the buffer before idling.
	req := []byte("attestation report please")
	resp := []byte("attestation report")
	f.exits = []exit{{
		apply: func(f *fakeTsm) {
			c, ok := f.last(cove.COVHAddTvmSharedPages)
			if !ok {
				f.t.Fatal("shared window not backed before guest resume")
			}
			buf, err := f.mem.Slice(c.Args[1], SharedBufSize)
			if err != nil {
				f.t.Fatalf("shared buffer: %v", err)
			}
			if got := buf[commHeaderBytes : commHeaderBytes+len(req)]; !bytes.Equal(got, req) {
				f.t.Errorf("guest saw request %q", got)
			}
			binary.LittleEndian.PutUint64(buf, uint64(len(resp)))
			copy(buf[commHeaderBytes:], resp)
			idleExit().apply(f)
		},
		resumable: true,
	}}

	got, err := m.Communicate(req)
	if err != nil {
		t.Fatalf("Communicate failed: %v", err)
	}
	if !bytes.Equal(got, resp) {
		t.Errorf("Communicate = %q, want %q", got, resp)
	}
	// Communicate itself backed the window.
	if n := f.count(cove.COVHAddTvmSharedPages); n != 1 {
		t.Errorf("%d AddSharedPages calls, want 1", n)
	}
}

func TestCommunicateWithoutWindow(t *testing.T) {
	mem := newFakeMem()
	f := newFakeTsm(t, mem)
	m := buildTestMachine(t, f, mem)

	if _, err := m.Communicate([]byte("hello")); err == nil {
		t.Fatal("Communicate without a declared window succeeded")
	}
	if f.count(cove.COVHRunTvmVcpu) != 0 {
		t.Error("vCPU was run without a shared window")
	}
}

func TestCommunicateOversizedRequest(t *testing.T) {
	mem := newFakeMem()
	f := newFakeTsm(t, mem)
	m := buildTestMachine(t, f, mem)

	f.exits = []exit{shareExit(), idleExit()}
	if err := m.Run(); err == nil {
		t.Fatal("Run = nil")
	}

	runs := f.count(cove.COVHRunTvmVcpu)
	if _, err := m.Communicate(make([]byte, SharedBufSize)); err == nil {
		t.Fatal("oversized request accepted")
	}
	if f.count(cove.COVHRunTvmVcpu) != runs {
		t.Error("vCPU was run for a rejected request")
	}
}

// recordTimer records period changes.
type recordTimer struct {
	period uint64
	sets   []uint64
}

func (rt *recordTimer) Period() (uint64, error) { return rt.period, nil }
func (rt *recordTimer) SetPeriod(p uint64) error {
	rt.period = p
	rt.sets = append(rt.sets, p)
	return nil
}

func TestRunTimerBracket(t *testing.T) {
	mem := newFakeMem()
	f := newFakeTsm(t, mem)
	m := buildTestMachine(t, f, mem)

	rt := &recordTimer{period: 100}
	m.timer = rt
	f.exits = []exit{idleExit()}
	if err := m.Run(); err == nil {
		t.Fatal("Run = nil")
	}

	// Ticks off while the vCPU runs, restored afterwards.
	want := []uint64{0, 100}
	if len(rt.sets) != 2 || rt.sets[0] != want[0] || rt.sets[1] != want[1] {
		t.Errorf("SetPeriod calls = %v, want %v", rt.sets, want)
	}
	if rt.period != 100 {
		t.Errorf("period = %d after run", rt.period)
	}
}
