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

import (
	"errors"
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"

	"covehost.dev/covehost/pkg/abi/cove"
)

// call is one recorded privileged call.
type call struct {
	Ext  uint64
	Fid  uint64
	Args []uint64
}

// recorder is a Caller that records calls and replays canned returns.
type recorder struct {
	calls []call
	ret   Ret
}

func (r *recorder) Call(ext, fid uint64, args ...uint64) (Ret, error) {
	r.calls = append(r.calls, call{Ext: ext, Fid: fid, Args: args})
	return r.ret, nil
}

func TestHostMarshaling(t *testing.T) {
	for _, tc := range []struct {
		name string
		do   func(h *Host) error
		want call
	}{
		{
			"ConvertPages",
			func(h *Host) error { return h.ConvertPages(0x1000, 4) },
			call{cove.EXTCOVH, cove.COVHConvertPages, []uint64{0x1000, 4}},
		},
		{
			"GlobalFence",
			func(h *Host) error { return h.GlobalFence() },
			call{cove.EXTCOVH, cove.COVHGlobalFence, nil},
		},
		{
			"FinalizeTvm",
			func(h *Host) error { return h.FinalizeTvm(7, 0x80200000, 0x80000000) },
			call{cove.EXTCOVH, cove.COVHFinalizeTvm, []uint64{7, 0x80200000, 0x80000000}},
		},
		{
			"AddMeasuredPages",
			func(h *Host) error { return h.AddMeasuredPages(7, 0x1000, 0x2000, cove.Page4k, 3, 0x80000000) },
			call{cove.EXTCOVH, cove.COVHAddTvmMeasuredPages, []uint64{7, 0x1000, 0x2000, 0, 3, 0x80000000}},
		},
		{
			"AddZeroPages",
			func(h *Host) error { return h.AddZeroPages(7, 0x3000, cove.Page4k, 2, 0x80010000) },
			call{cove.EXTCOVH, cove.COVHAddTvmZeroPages, []uint64{7, 0x3000, 0, 2, 0x80010000}},
		},
		{
			"SetShmem",
			func(h *Host) error { return h.SetShmem(0x5000) },
			call{cove.EXTNACL, cove.NACLSetShmem, []uint64{0x5000}},
		},
		{
			"PutChar",
			func(h *Host) error { return h.PutChar('x') },
			call{cove.EXTPutChar, 0, []uint64{'x'}},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := &recorder{}
			if err := tc.do(NewHost(r)); err != nil {
				t.Fatalf("%s failed: %v", tc.name, err)
			}
			if len(r.calls) != 1 {
				t.Fatalf("%d calls recorded, want 1", len(r.calls))
			}
			if diff := cmp.Diff(tc.want, r.calls[0]); diff != "" {
				t.Errorf("call mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHostValues(t *testing.T) {
	r := &recorder{ret: Ret{Value: 42}}
	h := NewHost(r)

	id, err := h.CreateTvm(0x1000, cove.TvmCreateParamsSize)
	if err != nil {
		t.Fatalf("CreateTvm failed: %v", err)
	}
	if id != 42 {
		t.Errorf("CreateTvm = %d, want 42", id)
	}

	// RunVcpu: value 0 means resumable.
	r.ret = Ret{Value: 0}
	resumable, err := h.RunVcpu(42, 0)
	if err != nil {
		t.Fatalf("RunVcpu failed: %v", err)
	}
	if !resumable {
		t.Error("RunVcpu(value=0) not resumable")
	}
	r.ret = Ret{Value: 1}
	if resumable, _ := h.RunVcpu(42, 0); resumable {
		t.Error("RunVcpu(value=1) resumable")
	}
}

func TestErrno(t *testing.T) {
	if err := (Ret{}).Err(); err != nil {
		t.Errorf("success normalized to %v", err)
	}
	err := (Ret{Error: int64(ErrAlreadyStarted)}).Err()
	if !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("error 4 normalized to %v", err)
	}
	// Unknown codes pass through with their value intact.
	err = (Ret{Error: 77}).Err()
	var e Errno
	if !errors.As(err, &e) || e != 77 {
		t.Errorf("error 77 normalized to %v", err)
	}
}

func TestProxyRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan error, 1)
	go func() {
		done <- Serve(server, func(ext, fid uint64, args []uint64) Ret {
			if ext != cove.EXTCOVH || fid != cove.COVHConvertPages {
				return Ret{Error: int64(ErrInvalidParam)}
			}
			if len(args) != 2 || args[0] != 0x1000 || args[1] != 16 {
				return Ret{Error: int64(ErrInvalidAddress)}
			}
			return Ret{Value: 99}
		})
	}()

	p := NewProxy(client)
	ret, err := p.Call(cove.EXTCOVH, cove.COVHConvertPages, 0x1000, 16)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if ret.Error != 0 || ret.Value != 99 {
		t.Errorf("Call = %+v, want value 99", ret)
	}

	// Closing the client ends the serve loop cleanly.
	client.Close()
	if err := <-done; err != nil {
		t.Errorf("Serve failed: %v", err)
	}
}

func TestProxyTooManyArgs(t *testing.T) {
	client, _ := net.Pipe()
	defer client.Close()
	p := NewProxy(client)
	if _, err := p.Call(cove.EXTCOVH, 0, 1, 2, 3, 4, 5, 6, 7); err == nil {
		t.Error("Call with 7 arguments succeeded")
	}
}
