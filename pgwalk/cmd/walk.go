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
	"io"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/pgwalk/pgwalk/cmd/util"
	"gvisor.dev/pgwalk/pgwalk/config"
	"gvisor.dev/pgwalk/pkg/log"
	"gvisor.dev/pgwalk/pkg/pagetables"
	"gvisor.dev/pgwalk/pkg/regions"
	"gvisor.dev/pgwalk/pkg/report"
)

// Walk implements subcommands.Command for the "walk" command.
type Walk struct {
	format string
}

// Name implements subcommands.Command.Name.
func (*Walk) Name() string {
	return "walk"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Walk) Synopsis() string {
	return "translate virtual addresses through the page tables"
}

// Usage implements subcommands.Command.Usage.
func (*Walk) Usage() string {
	return `walk [flags] <address>... - print the tables, entries and physical address used by each address.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (w *Walk) SetFlags(f *flag.FlagSet) {
	f.StringVar(&w.format, "format", "text", "output format: text, json or yaml.")
}

// Execute implements subcommands.Command.Execute.
func (w *Walk) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	format, err := report.ParseFormat(w.format)
	if err != nil {
		return util.Errorf("%v", err)
	}
	addrs, err := parseAddrs(f.Args())
	if err != nil {
		return util.Errorf("%v", err)
	}
	r, release, err := openReader(ctx, conf)
	if err != nil {
		return util.Errorf("opening memory: %v", err)
	}
	defer release()

	if err := walkAddrs(os.Stdout, r, conf.Root(), conf.Catalog(), addrs, format); err != nil {
		return util.Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}

// walkAddrs translates each address and writes the walks in the given
// format. Faults are part of the report.
func walkAddrs(out io.Writer, r pagetables.Reader, root pagetables.Root, cat regions.Catalog, addrs []uint64, format report.Format) error {
	walks := make([]report.Walk, 0, len(addrs))
	for _, virt := range addrs {
		t, err := pagetables.Translate(r, root, virt)
		if err != nil {
			log.Debugf("Translate %#x: %v", virt, err)
		}
		w, err := report.NewWalk(virt, t, err)
		if err != nil {
			return err
		}
		if reg, ok := cat.Of(virt); ok {
			w.Region = reg.Name
		}
		walks = append(walks, w)
	}
	return report.WriteWalks(out, format, walks)
}
