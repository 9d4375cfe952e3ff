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
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// maxCallArgs is the register-passing limit of the call convention (a0-a5).
const maxCallArgs = 6

// Proxy is a Caller that forwards privileged calls over a stream transport
// to an out-of-process monitor endpoint. Frames are little-endian 64-bit
// words: ext, fid, argc, args[argc]; the response is (error, value).
//
// The transport stands in for the platform's message-passing channel; the
// call semantics are identical to issuing the ecall directly.
type Proxy struct {
	mu sync.Mutex
	rw io.ReadWriter
}

// NewProxy returns a Proxy speaking the call framing over rw.
func NewProxy(rw io.ReadWriter) *Proxy {
	return &Proxy{rw: rw}
}

// Call implements Caller.
func (p *Proxy) Call(ext, fid uint64, args ...uint64) (Ret, error) {
	if len(args) > maxCallArgs {
		return Ret{}, fmt.Errorf("too many call arguments: %d", len(args))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	frame := make([]byte, 8*(3+len(args)))
	binary.LittleEndian.PutUint64(frame[0:], ext)
	binary.LittleEndian.PutUint64(frame[8:], fid)
	binary.LittleEndian.PutUint64(frame[16:], uint64(len(args)))
	for i, a := range args {
		binary.LittleEndian.PutUint64(frame[24+8*i:], a)
	}
	if _, err := p.rw.Write(frame); err != nil {
		return Ret{}, fmt.Errorf("writing call frame: %w", err)
	}

	var resp [16]byte
	if _, err := io.ReadFull(p.rw, resp[:]); err != nil {
		return Ret{}, fmt.Errorf("reading call response: %w", err)
	}
	return Ret{
		Error: int64(binary.LittleEndian.Uint64(resp[0:])),
		Value: binary.LittleEndian.Uint64(resp[8:]),
	}, nil
}

// Serve reads call frames from rw and dispatches them to fn until the
// stream ends. It is the server half of Proxy, used by tests and by
// monitor shims.
func Serve(rw io.ReadWriter, fn func(ext, fid uint64, args []uint64) Ret) error {
	var hdr [24]byte
	for {
		if _, err := io.ReadFull(rw, hdr[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading call frame: %w", err)
		}
		ext := binary.LittleEndian.Uint64(hdr[0:])
		fid := binary.LittleEndian.Uint64(hdr[8:])
		argc := binary.LittleEndian.Uint64(hdr[16:])
		if argc > maxCallArgs {
			return fmt.Errorf("bad call frame: %d arguments", argc)
		}
		buf := make([]byte, 8*argc)
		if _, err := io.ReadFull(rw, buf); err != nil {
			return fmt.Errorf("reading call arguments: %w", err)
		}
		args := make([]uint64, argc)
		for i := range args {
			args[i] = binary.LittleEndian.Uint64(buf[8*i:])
		}

		ret := fn(ext, fid, args)

		var resp [16]byte
		binary.LittleEndian.PutUint64(resp[0:], uint64(ret.Error))
		binary.LittleEndian.PutUint64(resp[8:], ret.Value)
		if _, err := rw.Write(resp[:]); err != nil {
			return fmt.Errorf("writing call response: %w", err)
		}
	}
}
