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
	"gvisor.dev/pgwalk/pkg/scan"
)

// Search implements subcommands.Command for the "search" command.
type Search struct {
	level string
}

// Name implements subcommands.Command.Name.
func (*Search) Name() string {
	return "search"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Search) Synopsis() string {
	return "find virtual addresses whose walk goes through a physical address"
}

// Usage implements subcommands.Command.Usage.
func (*Search) Usage() string {
	return `search [flags] <begin> <end> <step> <physical address> - list the addresses of a range whose walk uses the page of the physical address.

With -level=phys (default), the physical page the address translates to is
compared. With -level=pgd, pud, pmd or pt, the page of the table slot used at
that level is compared. -level=any compares all of them.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Search) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.level, "level", scan.LevelFrame.String(), "level compared with the physical address: pgd, pud, pmd, pt, phys or any.")
}

// Execute implements subcommands.Command.Execute.
func (s *Search) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 4 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	begin, end, step, err := parseRange(f.Args()[:3])
	if err != nil {
		return util.Errorf("%v", err)
	}
	target, err := pagetables.ParseAddr(f.Arg(3))
	if err != nil {
		return util.Errorf("%v", err)
	}
	level, err := scan.ParseLevel(s.level)
	if err != nil {
		return util.Errorf("%v", err)
	}
	r, release, err := openReader(ctx, conf)
	if err != nil {
		return util.Errorf("opening memory: %v", err)
	}
	defer release()

	sc := &scan.Scanner{
		Reader:    r,
		Root:      conf.Root(),
		Threshold: conf.DesertThreshold,
		OnEvent:   printEvents(os.Stderr),
	}
	if err := search(ctx, os.Stdout, sc, begin, end, step, target, level); err != nil {
		return util.Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}

// search writes one line per match followed by the scan summary.
func search(ctx context.Context, out io.Writer, sc *scan.Scanner, begin, end, step, target uint64, level scan.Level) error {
	stats, err := sc.Search(ctx, begin, end, step, target, level, func(m scan.Match) {
		fmt.Fprintf(out, "0x%016x %v\n", m.Virtual, m.Level)
	})
	writeStats(out, stats)
	fmt.Fprintf(out, "%d matches for %#x\n", stats.Matches, target)
	if err != nil {
		return fmt.Errorf("search stopped after %d steps: %w", stats.Steps, err)
	}
	return nil
}
