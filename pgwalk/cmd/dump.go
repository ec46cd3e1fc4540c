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
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/subcommands"
	"gvisor.dev/pgwalk/pgwalk/cmd/util"
	"gvisor.dev/pgwalk/pgwalk/config"
	"gvisor.dev/pgwalk/pkg/log"
	"gvisor.dev/pgwalk/pkg/pagetables"
	"gvisor.dev/pgwalk/pkg/regions"
	"gvisor.dev/pgwalk/pkg/report"
)

// Dump implements subcommands.Command for the "dump" command.
type Dump struct {
	verbose bool
	include string
	exclude string
}

// Name implements subcommands.Command.Name.
func (*Dump) Name() string {
	return "dump"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Dump) Synopsis() string {
	return "list every page mapped by the page tables"
}

// Usage implements subcommands.Command.Usage.
func (*Dump) Usage() string {
	return `dump [flags] - read all page tables and list the mapped pages.

Pages are grouped into runs of physically contiguous pages unless -verbose is
set. Use the "regions" command to list the region names accepted by -include
and -exclude.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Dump) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&d.verbose, "verbose", false, "list every page on its own line.")
	f.StringVar(&d.include, "include", "", "comma-separated regions to list. Empty lists all pages.")
	f.StringVar(&d.exclude, "exclude", "", "comma-separated regions to skip.")
}

// splitNames splits a comma-separated list, dropping empty names.
func splitNames(s string) []string {
	var names []string
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// Execute implements subcommands.Command.Execute.
func (d *Dump) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	dump := &report.Dump{
		Catalog: conf.Catalog(),
		Filter:  regions.Filter{Include: splitNames(d.include), Exclude: splitNames(d.exclude)},
		Verbose: d.verbose,
	}
	if err := dump.Filter.Check(dump.Catalog); err != nil {
		return util.Errorf("%v", err)
	}
	r, release, err := openReader(ctx, conf)
	if err != nil {
		return util.Errorf("opening memory: %v", err)
	}
	defer release()

	var tree *pagetables.Tree
	err = util.Progress(ctx, os.Stderr, func(ctx context.Context) error {
		var err error
		tree, err = pagetables.Build(ctx, r, conf.Root())
		return err
	})
	if err != nil {
		return util.Errorf("reading page tables: %v", err)
	}
	logTree(tree)
	if err := dump.Write(os.Stdout, tree); err != nil {
		return util.Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}

func logTree(t *pagetables.Tree) {
	var counts []string
	for l := pagetables.PGD; l <= pagetables.PT; l++ {
		counts = append(counts, fmt.Sprintf("%v %d", l, len(t.Tables(l))))
	}
	log.Infof("Read %d tables (%s), %d pages", t.NumTables(), strings.Join(counts, ", "), t.NumPages())
}

// Regions implements subcommands.Command for the "regions" command.
type Regions struct{}

// Name implements subcommands.Command.Name.
func (*Regions) Name() string {
	return "regions"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Regions) Synopsis() string {
	return "list the named regions of the virtual address space"
}

// Usage implements subcommands.Command.Usage.
func (*Regions) Usage() string {
	return `regions - list the region catalog, including regions from --config.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Regions) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Regions) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := writeCatalog(os.Stdout, conf.Catalog()); err != nil {
		return util.Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}

func writeCatalog(out io.Writer, c regions.Catalog) error {
	var sb strings.Builder
	for _, r := range c {
		fmt.Fprintf(&sb, "%-18s 0x%016x-0x%016x %8s\n", r.Name, r.Low, r.High, humanize.IBytes(r.Size()))
	}
	_, err := io.WriteString(out, sb.String())
	return err
}
