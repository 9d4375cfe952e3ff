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

import "github.com/BurntSushi/toml"

// Config is the covectl host configuration.
type Config struct {
	// WindowSize is the size in bytes of the host memory window backing
	// the guest. Values below the platform minimum are rounded up.
	WindowSize uint64 `toml:"window_size"`

	// Image is the path of the guest payload to measure and boot.
	Image string `toml:"image"`

	// Socket is the unix socket of the privileged-call endpoint.
	Socket string `toml:"socket"`

	// Debug enables debug logging.
	Debug bool `toml:"debug"`
}

// loadConfig loads the configuration from path, or returns defaults when
// path is empty.
func loadConfig(path string) (*Config, error) {
	c := Config{
		Socket: "/run/covehost/tsm.sock",
	}
	if path == "" {
		return &c, nil
	}
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
