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

// Package cmd holds implementations of the pgwalk commands.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/term"
	"gvisor.dev/pgwalk/pgwalk/cmd/util"
	"gvisor.dev/pgwalk/pgwalk/config"
	"gvisor.dev/pgwalk/pkg/log"
	"gvisor.dev/pgwalk/pkg/pagetables"
	"gvisor.dev/pgwalk/pkg/physmem"
	"gvisor.dev/pgwalk/pkg/scan"
)

// defaultStep is the stride used by range commands when none is given.
const defaultStep = 0x1000

// dialInterval is the delay between monitor connection attempts.
const dialInterval = 200 * time.Millisecond

// openReader opens the physical memory described by conf. The returned
// function releases it.
func openReader(ctx context.Context, conf *config.Config) (pagetables.Reader, func(), error) {
	if conf.Memory == "" {
		return nil, nil, fmt.Errorf("--memory is required")
	}
	if conf.CR3 == 0 {
		return nil, nil, fmt.Errorf("--cr3 is required")
	}

	switch conf.MemoryType {
	case config.MemoryFile:
		f, err := physmem.OpenFile(conf.Memory, int64(conf.MemoryOffset))
		if err != nil {
			return nil, nil, err
		}
		log.Infof("Reading physical memory from %q at offset %#x", conf.Memory, conf.MemoryOffset)
		return f, func() { f.Close() }, nil

	case config.MemoryMonitor:
		unlock, err := util.LockMonitor(ctx, conf.Memory)
		if err != nil {
			return nil, nil, err
		}
		m, err := physmem.DialMonitor(ctx, conf.Memory, physmem.MonitorOpts{
			Timeout:      conf.MonitorTimeout,
			DialAttempts: conf.MonitorRetries,
			DialInterval: dialInterval,
		})
		if err != nil {
			unlock()
			return nil, nil, err
		}
		return m, func() {
			m.Close()
			unlock()
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown memory type %v", conf.MemoryType)
	}
}

// parseAddrs parses every argument as a hexadecimal address.
func parseAddrs(args []string) ([]uint64, error) {
	addrs := make([]uint64, 0, len(args))
	for _, arg := range args {
		a, err := pagetables.ParseAddr(arg)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}

// parseRange parses "<begin> <end> [step]" and validates the result.
func parseRange(args []string) (begin, end, step uint64, err error) {
	if len(args) != 2 && len(args) != 3 {
		return 0, 0, 0, fmt.Errorf("expected <begin> <end> [step], got %d arguments", len(args))
	}
	if len(args) == 2 {
		args = append(args, fmt.Sprintf("%#x", defaultStep))
	}
	v, err := parseAddrs(args)
	if err != nil {
		return 0, 0, 0, err
	}
	if err := scan.Validate(v[0], v[1], v[2]); err != nil {
		return 0, 0, 0, err
	}
	return v[0], v[1], v[2], nil
}

// useColor tells whether output to out is highlighted.
func useColor(mode config.ColorMode, out io.Writer) bool {
	switch mode {
	case config.ColorAlways:
		return true
	case config.ColorNever:
		return false
	}
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// printEvents returns a scan event callback that reports deserts to out.
func printEvents(out io.Writer) func(scan.Event) {
	return func(e scan.Event) {
		switch e.Kind {
		case scan.EventDesertEntered:
			fmt.Fprintf(out, "%v at 0x%016x (%d unreadable steps)\n", e.Kind, e.Virtual, e.Count)
		case scan.EventDesertLeft:
			fmt.Fprintf(out, "%v at 0x%016x after %d unreadable steps\n", e.Kind, e.Virtual, e.Count)
		}
	}
}

// writeStats writes a one line summary of a scan.
func writeStats(out io.Writer, s scan.Stats) {
	fmt.Fprintf(out, "%d steps: %d mapped, %d not mapped, %d unreadable, %d deserts\n",
		s.Steps, s.Mapped, s.NotMapped, s.Unreadable, s.Deserts)
}
