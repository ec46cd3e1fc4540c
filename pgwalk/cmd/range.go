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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/pgwalk/pgwalk/cmd/util"
	"gvisor.dev/pgwalk/pgwalk/config"
	"gvisor.dev/pgwalk/pkg/pagetables"
	"gvisor.dev/pgwalk/pkg/report"
	"gvisor.dev/pgwalk/pkg/scan"
)

// Range implements subcommands.Command for the "range" command.
type Range struct {
	format string
	mapped bool
}

// Name implements subcommands.Command.Name.
func (*Range) Name() string {
	return "range"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Range) Synopsis() string {
	return "walk every step of a range of virtual addresses"
}

// Usage implements subcommands.Command.Usage.
func (*Range) Usage() string {
	return `range [flags] <begin> <end> [step] - walk addresses begin, begin+step, ... below end.

Step defaults to 0x1000 and must be between 0x1000 and 0x40000000.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (rg *Range) SetFlags(f *flag.FlagSet) {
	f.StringVar(&rg.format, "format", "text", "output format: text, json or yaml.")
	f.BoolVar(&rg.mapped, "mapped", false, "only report addresses that translate.")
}

// Execute implements subcommands.Command.Execute.
func (rg *Range) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	begin, end, step, err := parseRange(f.Args())
	if err != nil {
		f.Usage()
		return util.Errorf("%v", err)
	}
	format, err := report.ParseFormat(rg.format)
	if err != nil {
		return util.Errorf("%v", err)
	}
	r, release, err := openReader(ctx, conf)
	if err != nil {
		return util.Errorf("opening memory: %v", err)
	}
	defer release()

	s := &scan.Scanner{
		Reader:    r,
		Root:      conf.Root(),
		Threshold: conf.DesertThreshold,
		OnEvent:   printEvents(os.Stderr),
	}
	if err := rg.run(ctx, os.Stdout, s, begin, end, step, format); err != nil {
		return util.Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}

// run scans the range. Text walks are written as they are produced, other
// formats once the scan is done.
func (rg *Range) run(ctx context.Context, out io.Writer, s *scan.Scanner, begin, end, step uint64, format report.Format) error {
	var (
		walks []report.Walk
		werr  error
	)
	stats, err := s.Scan(ctx, begin, end, step, func(virt uint64, t pagetables.Translation, err error) {
		if werr != nil || (rg.mapped && err != nil) {
			return
		}
		w, err := report.NewWalk(virt, t, err)
		if err != nil {
			werr = err
			return
		}
		if format == report.FormatText {
			werr = w.WriteText(out)
			return
		}
		walks = append(walks, w)
	})
	if werr != nil {
		return werr
	}
	if format != report.FormatText {
		if werr := report.WriteWalks(out, format, walks); werr != nil {
			return werr
		}
		return err
	}
	writeStats(out, stats)
	if err != nil {
		return fmt.Errorf("scan stopped after %d steps: %w", stats.Steps, err)
	}
	return nil
}
