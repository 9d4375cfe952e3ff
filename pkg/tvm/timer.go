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

// Timer abstracts the host's periodic tick source. The run loop disables
// it while a vCPU runs: a tick arriving behind the blocking run call would
// preempt the host mid-handshake, violating the assumption that control
// returns only via the designated trap path.
type Timer interface {
	// Period returns the current tick period, 0 if the timer is off.
	Period() (uint64, error)

	// SetPeriod sets the tick period; 0 disables the timer.
	SetPeriod(period uint64) error
}

// nopTimer is the default Timer for hosts without a periodic tick.
type nopTimer struct{}

func (nopTimer) Period() (uint64, error) { return 0, nil }
func (nopTimer) SetPeriod(uint64) error { return nil }
