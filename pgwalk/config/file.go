// Copyright 2026 The gVisor Authors.
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

package config

import (
	"flag"
	"fmt"

	"github.com/BurntSushi/toml"
	"gvisor.dev/pgwalk/pkg/pagetables"
	"gvisor.dev/pgwalk/pkg/regions"
)

// file is the layout of a pgwalk configuration file:
//
//	[flags]
//	memory-type = "monitor"
//	memory = "/tmp/qemu-monitor.sock"
//	cr3 = "0x1aa2000"
//
//	[[region]]
//	name = "direct_map_hole"
//	low = "0xffffc88000000000"
//	high = "0xffffc8ffffffffff"
type file struct {
	// Flags are converted to --key=value directly.
	Flags map[string]string `toml:"flags"`

	// Region lists extra named regions.
	Region []fileRegion `toml:"region"`
}

type fileRegion struct {
	Name string `toml:"name"`
	Low  string `toml:"low"`
	High string `toml:"high"`
}

// loadFile applies the flags from the configuration file at path to every
// flag of flagSet that was not set explicitly, and returns the extra regions.
func loadFile(path string, flagSet *flag.FlagSet) ([]regions.Region, error) {
	var f file
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("decode config file %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %q: unknown keys %v", path, undecoded)
	}

	explicit := make(map[string]bool)
	flagSet.Visit(func(fl *flag.Flag) {
		explicit[fl.Name] = true
	})
	for name, value := range f.Flags {
		if name == "config" {
			return nil, fmt.Errorf("config file %q: flag %q cannot be set from a file", path, name)
		}
		if flagSet.Lookup(name) == nil {
			return nil, fmt.Errorf("config file %q: flag %q not found", path, name)
		}
		if explicit[name] {
			continue
		}
		if err := flagSet.Set(name, value); err != nil {
			return nil, fmt.Errorf("config file %q: error setting flag %s=%q: %w", path, name, value, err)
		}
	}

	var extra []regions.Region
	for _, r := range f.Region {
		low, err := pagetables.ParseAddr(r.Low)
		if err != nil {
			return nil, fmt.Errorf("config file %q: region %q: %w", path, r.Name, err)
		}
		high, err := pagetables.ParseAddr(r.High)
		if err != nil {
			return nil, fmt.Errorf("config file %q: region %q: %w", path, r.Name, err)
		}
		extra = append(extra, regions.Region{Name: r.Name, Low: low, High: high})
	}
	return extra, nil
}
