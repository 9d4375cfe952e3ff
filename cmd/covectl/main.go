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

// Binary covectl controls confidential VMs on a CoVE-enabled host: it
// probes the TSM, builds and finalizes a TVM from a guest image, and runs
// it until the guest goes idle or fails.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

var (
	configPath = flag.String("config", "", "path to the covehost TOML configuration file")
	debug      = flag.Bool("debug", false, "enable debug logging")
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(Boot), "")
	subcommands.Register(new(Probe), "")
	subcommands.Register(new(Version), "")

	flag.Parse()

	conf, err := loadConfig(*configPath)
	if err != nil {
		fatalf("loading configuration: %v", err)
	}
	if *debug || conf.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	os.Exit(int(subcommands.Execute(context.Background(), conf)))
}

// fatalf writes a message to stderr and exits. Only the top level exits;
// the libraries return errors.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "covectl: "+format+"\n", args...)
	os.Exit(128)
}
