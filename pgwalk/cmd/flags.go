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
)

// Flags implements subcommands.Command for the "flagscan" command.
type Flags struct{}

// Name implements subcommands.Command.Name.
func (*Flags) Name() string {
	return "flagscan"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Flags) Synopsis() string {
	return "decode the entry flags used to translate an address"
}

// Usage implements subcommands.Command.Usage.
func (*Flags) Usage() string {
	return `flagscan [flags] <address> - print the attributes of the PGD, PUD, PMD and PT entries of an address.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Flags) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Flags) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	virt, err := pagetables.ParseAddr(f.Arg(0))
	if err != nil {
		return util.Errorf("%v", err)
	}
	r, release, err := openReader(ctx, conf)
	if err != nil {
		return util.Errorf("opening memory: %v", err)
	}
	defer release()

	if err := flagScan(os.Stdout, r, conf.Root(), virt, useColor(conf.Color, os.Stdout)); err != nil {
		return util.Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}

// flagScan writes the flag table of virt. A non-present entry is reported
// after the table and is not an error.
func flagScan(out io.Writer, r pagetables.Reader, root pagetables.Root, virt uint64, color bool) error {
	flags, err := pagetables.FlagScan(r, root, virt)
	if err != nil && !pagetables.IsNotMapped(err) && !pagetables.IsUnreadable(err) {
		return err
	}
	t := report.FlagTable{Virtual: virt, Flags: flags, Color: color}
	if _, werr := t.WriteTo(out); werr != nil {
		return werr
	}
	if pagetables.IsNotMapped(err) {
		fmt.Fprintln(out, "address does not exist")
		return nil
	}
	return err
}
