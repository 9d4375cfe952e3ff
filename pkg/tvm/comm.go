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
	"errors"
	"fmt"

	"covehost.dev/covehost/pkg/abi/cove"
)

// commHeaderBytes is the length-prefix header of a message in the shared
// buffer.
const commHeaderBytes = 8

// Communicate sends one request message through the guest-declared shared
// buffer and returns the guest's response. The message is length-prefixed
// in the buffer; the guest signals completion by idling, which surfaces
// here as a virtual-instruction exit.
//
// The shared window must have been declared by the guest. The first
// Communicate backs it with host pages if a fault has not already done so.
func (m *Machine) Communicate(req []byte) ([]byte, error) {
	if err := m.backSharedWindow(); err != nil {
		return nil, fmt.Errorf("shared buffer unavailable: %w", err)
	}
	b := &m.shared
	if commHeaderBytes+uint64(len(req)) > b.guestSize {
		return nil, fmt.Errorf("request of %d bytes exceeds shared buffer of %#x bytes",
			len(req), b.guestSize)
	}
	buf, err := m.mem.Slice(b.hostBase, b.guestSize)
	if err != nil {
		return nil, fmt.Errorf("mapping shared buffer: %w", err)
	}

	binary.LittleEndian.PutUint64(buf, uint64(len(req)))
	copy(buf[commHeaderBytes:], req)

	if err := m.runUntilIdle(); err != nil {
		return nil, err
	}

	respLen := binary.LittleEndian.Uint64(buf)
	if commHeaderBytes+respLen > b.guestSize {
		return nil, fmt.Errorf("guest response length %#x exceeds shared buffer", respLen)
	}
	resp := make([]byte, respLen)
	copy(resp, buf[commHeaderBytes:])
	return resp, nil
}

// runUntilIdle resumes the vCPU and expects it to go idle after consuming
// the message. Any other exit means the exchange failed.
func (m *Machine) runUntilIdle() error {
	err := m.Run()
	var ut *UnhandledTrapError
	if errors.As(err, &ut) && !ut.Trap.Interrupt() &&
		ut.Trap.Exception() == cove.ExcVirtualInstruction {
		return nil
	}
	if err == nil {
		// Run only returns nil if it never looped; it cannot here.
		return fmt.Errorf("vCPU stopped without going idle")
	}
	return fmt.Errorf("waiting for guest idle: %w", err)
}
