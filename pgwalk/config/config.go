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

// Package config provides basic infrastructure to set configuration settings
// for pgwalk. Each setting that can be changed from the command line must
// have a corresponding flag name.
package config

import (
	"fmt"
	"strconv"
	"time"

	"gvisor.dev/pgwalk/pkg/log"
	"gvisor.dev/pgwalk/pkg/pagetables"
	"gvisor.dev/pgwalk/pkg/regions"
	"gvisor.dev/pgwalk/pkg/scan"
)

// Config holds configuration that is not part of a single command invocation.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag to specify the flag name.
//  3. Register a new flag in flags.go, with name and description.
//  4. Add any necessary validation into validate().
type Config struct {
	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// DebugLog is the path to log debug information to, if not empty. It may
	// contain %TIMESTAMP% and %COMMAND%.
	DebugLog string `flag:"debug-log"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// MemoryType selects how physical memory is accessed.
	MemoryType MemoryType `flag:"memory-type"`

	// Memory is the memory image path (file) or the monitor socket address
	// (monitor).
	Memory string `flag:"memory"`

	// MemoryOffset is the file offset of physical address zero in a memory
	// image.
	MemoryOffset uint64 `flag:"memory-offset"`

	// CR3 is the page table root register value.
	CR3 Hex `flag:"cr3"`

	// DesertThreshold is the number of consecutive unreadable scan steps
	// after which a desert is reported.
	DesertThreshold int `flag:"desert-threshold"`

	// MonitorTimeout bounds each monitor request.
	MonitorTimeout time.Duration `flag:"monitor-timeout"`

	// MonitorRetries is the number of extra connection attempts made when
	// dialing the monitor.
	MonitorRetries uint64 `flag:"monitor-retries"`

	// Color controls highlighting of set bits in flag tables.
	Color ColorMode `flag:"color"`

	// ConfigFile is an optional TOML file supplying defaults for flags that
	// are not set on the command line.
	ConfigFile string `flag:"config"`

	// Regions are extra named regions loaded from ConfigFile. They are added
	// to the default catalog.
	Regions []regions.Region
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	if c.DesertThreshold <= 0 {
		return fmt.Errorf("desert-threshold must be positive: %d", c.DesertThreshold)
	}
	if c.MonitorTimeout < 0 {
		return fmt.Errorf("monitor-timeout must not be negative: %v", c.MonitorTimeout)
	}
	if c.MemoryOffset > 1<<63-1 {
		return fmt.Errorf("memory-offset too large: %#x", c.MemoryOffset)
	}
	if err := c.Catalog().Validate(); err != nil {
		return fmt.Errorf("invalid region catalog: %w", err)
	}
	return nil
}

// Root returns the page table root taken from CR3.
func (c *Config) Root() pagetables.Root {
	return pagetables.Root(c.CR3)
}

// Catalog returns the default region catalog extended with the regions from
// the configuration file.
func (c *Config) Catalog() regions.Catalog {
	cat := regions.Default()
	return append(cat, c.Regions...)
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	for _, f := range c.ToFlags() {
		log.Infof("\t%s", f)
	}
	for _, r := range c.Regions {
		log.Infof("\tregion %s", r)
	}
}

// MemoryType tells how physical memory is accessed.
type MemoryType int

const (
	// MemoryFile reads a raw physical memory image from a file.
	MemoryFile MemoryType = iota

	// MemoryMonitor queries a running QEMU through its human monitor.
	MemoryMonitor
)

func memoryTypePtr(v MemoryType) *MemoryType {
	return &v
}

// Set implements flag.Value.
func (m *MemoryType) Set(v string) error {
	switch v {
	case "file":
		*m = MemoryFile
	case "monitor":
		*m = MemoryMonitor
	default:
		return fmt.Errorf("invalid memory type %q", v)
	}
	return nil
}

// Get implements flag.Getter.
func (m *MemoryType) Get() any {
	return *m
}

// String implements flag.Value.
func (m MemoryType) String() string {
	switch m {
	case MemoryFile:
		return "file"
	case MemoryMonitor:
		return "monitor"
	}
	panic(fmt.Sprintf("Invalid memory type %d", m))
}

// ColorMode controls terminal highlighting.
type ColorMode int

const (
	// ColorAuto highlights only when stdout is a terminal.
	ColorAuto ColorMode = iota

	// ColorAlways always highlights.
	ColorAlways

	// ColorNever never highlights.
	ColorNever
)

func colorModePtr(v ColorMode) *ColorMode {
	return &v
}

// Set implements flag.Value.
func (c *ColorMode) Set(v string) error {
	switch v {
	case "auto":
		*c = ColorAuto
	case "always":
		*c = ColorAlways
	case "never":
		*c = ColorNever
	default:
		return fmt.Errorf("invalid color mode %q", v)
	}
	return nil
}

// Get implements flag.Getter.
func (c *ColorMode) Get() any {
	return *c
}

// String implements flag.Value.
func (c ColorMode) String() string {
	switch c {
	case ColorAuto:
		return "auto"
	case ColorAlways:
		return "always"
	case ColorNever:
		return "never"
	}
	panic(fmt.Sprintf("Invalid color mode %d", c))
}

// Hex is a uint64 flag that accepts hexadecimal input with or without the
// 0x prefix.
type Hex uint64

func hexPtr(v Hex) *Hex {
	return &v
}

// Set implements flag.Value.
func (h *Hex) Set(v string) error {
	x, err := pagetables.ParseAddr(v)
	if err != nil {
		return err
	}
	*h = Hex(x)
	return nil
}

// Get implements flag.Getter.
func (h *Hex) Get() any {
	return *h
}

// String implements flag.Value.
func (h Hex) String() string {
	return "0x" + strconv.FormatUint(uint64(h), 16)
}

// defaultDesertThreshold mirrors the scanner default.
const defaultDesertThreshold = scan.DefaultThreshold
