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
	"errors"
	"flag"
	"net"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"covehost.dev/covehost/pkg/abi/cove"
	"covehost.dev/covehost/pkg/sbi"
	"covehost.dev/covehost/pkg/tvm"
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct {
	image  string
	socket string
	window uint64
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "build, measure and run a confidential VM from a guest image"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [flags]

Builds a TVM from the configured guest image, finalizes its measurement and
runs its boot vCPU until the guest goes idle or stops. The TVM is destroyed
on exit.

OPTIONS:
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.image, "image", "", "guest image path (overrides the config file)")
	f.StringVar(&b.socket, "socket", "", "privileged-call socket (overrides the config file)")
	f.Uint64Var(&b.window, "window-size", 0, "guest memory window in bytes (overrides the config file)")
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*Config)
	if b.image == "" {
		b.image = conf.Image
	}
	if b.socket == "" {
		b.socket = conf.Socket
	}
	if b.window == 0 {
		b.window = conf.WindowSize
	}
	if b.image == "" {
		fatalf("no guest image configured")
	}

	image, err := os.ReadFile(b.image)
	if err != nil {
		fatalf("reading guest image: %v", err)
	}
	conn, err := net.Dial("unix", b.socket)
	if err != nil {
		fatalf("dialing %q: %v", b.socket, err)
	}
	defer conn.Close()

	log := logrus.WithField("image", b.image)
	host := sbi.NewHost(sbi.NewProxy(conn))
	m, err := tvm.Build(host, tvm.NewHostMemory(), tvm.Config{
		WindowSize: b.window,
		Image:      image,
		Log:        log,
	})
	if err != nil {
		fatalf("building TVM: %v", err)
	}

	status := subcommands.ExitSuccess
	err = m.Run()
	var ut *tvm.UnhandledTrapError
	switch {
	case errors.As(err, &ut):
		if !ut.Trap.Interrupt() && ut.Trap.Exception() == cove.ExcVirtualInstruction {
			log.Info("guest went idle")
		} else {
			log.Warnf("guest stopped: %v", ut.Trap)
			status = subcommands.ExitFailure
		}
	case errors.Is(err, tvm.ErrNotResumable):
		log.Info("guest finished")
	default:
		log.WithError(err).Error("running TVM")
		status = subcommands.ExitFailure
	}

	if err := m.Destroy(); err != nil {
		log.WithError(err).Error("destroying TVM")
		return subcommands.ExitFailure
	}
	return status
}
