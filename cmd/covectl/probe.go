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

package main

import (
	"context"
	"flag"
	"fmt"
	"net"

	"github.com/google/subcommands"

	"covehost.dev/covehost/pkg/abi/cove"
	"covehost.dev/covehost/pkg/sbi"
	"covehost.dev/covehost/pkg/tvm"
)

// Probe implements subcommands.Command for the "probe" command.
type Probe struct {
	socket string
}

// Name implements subcommands.Command.Name.
func (*Probe) Name() string {
	return "probe"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Probe) Synopsis() string {
	return "query the TSM's state and TVM resource requirements"
}

// Usage implements subcommands.Command.Usage.
func (*Probe) Usage() string {
	return `probe [flags]

Queries the TSM and prints its lifecycle state, version and per-TVM page
requirements.

OPTIONS:
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *Probe) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.socket, "socket", "", "privileged-call socket (overrides the config file)")
}

// Execute implements subcommands.Command.Execute.
func (p *Probe) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*Config)
	if p.socket == "" {
		p.socket = conf.Socket
	}

	conn, err := net.Dial("unix", p.socket)
	if err != nil {
		fatalf("dialing %q: %v", p.socket, err)
	}
	defer conn.Close()

	host := sbi.NewHost(sbi.NewProxy(conn))
	info, err := tvm.ProbeTsm(host, tvm.NewHostMemory())
	if err != nil {
		fatalf("querying TSM: %v", err)
	}

	fmt.Printf("state:            %s\n", tsmStateName(info.State))
	fmt.Printf("version:          %d\n", info.Version)
	fmt.Printf("tvm state pages:  %d\n", info.TvmStatePages)
	fmt.Printf("max vcpus:        %d\n", info.TvmMaxVcpus)
	fmt.Printf("vcpu state pages: %d\n", info.TvmVcpuStatePages)
	return subcommands.ExitSuccess
}

func tsmStateName(s uint32) string {
	switch s {
	case cove.TsmNotLoaded:
		return "not loaded"
	case cove.TsmLoaded:
		return "loaded"
	case cove.TsmReady:
		return "ready"
	default:
		return fmt.Sprintf("unknown (%d)", s)
	}
}
