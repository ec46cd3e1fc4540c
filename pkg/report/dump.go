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

package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"gvisor.dev/pgwalk/pkg/pagetables"
	"gvisor.dev/pgwalk/pkg/regions"
)

// Dump lists the pages of a tree.
type Dump struct {
	// Catalog classifies pages into regions.
	Catalog regions.Catalog

	// Filter selects the pages to list.
	Filter regions.Filter

	// Verbose lists every page on its own line instead of grouping them
	// into runs.
	Verbose bool
}

// Select returns the pages of t selected by the filter, in virtual address
// order.
func (d *Dump) Select(t *pagetables.Tree) []pagetables.Page {
	var pages []pagetables.Page
	t.Pages(func(p pagetables.Page) bool {
		if d.Filter.Match(d.Catalog, p.Virtual()) {
			pages = append(pages, p)
		}
		return true
	})
	return pages
}

func (d *Dump) regionOf(virt uint64) string {
	if r, ok := d.Catalog.Of(virt); ok {
		return r.Name
	}
	return "-"
}

// Write writes the selected pages of t to out, followed by a summary line.
func (d *Dump) Write(out io.Writer, t *pagetables.Tree) error {
	pages := d.Select(t)
	var (
		sb    strings.Builder
		bytes uint64
	)
	if d.Verbose {
		for _, p := range pages {
			fmt.Fprintf(&sb, "0x%016x %s %#x %8s %s\n", p.Virtual(), p.Path, p.Base, humanize.IBytes(uint64(p.Size)), d.regionOf(p.Virtual()))
			bytes += uint64(p.Size)
		}
		fmt.Fprintf(&sb, "%d pages, %s mapped\n", len(pages), humanize.IBytes(bytes))
	} else {
		runs := Group(pages)
		for _, r := range runs {
			fmt.Fprintf(&sb, "%s (%s) %s\n", r, pageCount(r), d.regionOf(r.First().Virtual()))
			bytes += r.Bytes()
		}
		fmt.Fprintf(&sb, "%d pages in %d runs, %s mapped\n", len(pages), len(runs), humanize.IBytes(bytes))
	}
	if n := len(t.Unreadable); n > 0 {
		fmt.Fprintf(&sb, "%d tables unreadable\n", n)
	}
	if n := len(t.Malformed); n > 0 {
		fmt.Fprintf(&sb, "%d malformed entries skipped\n", n)
	}
	_, err := io.WriteString(out, sb.String())
	return err
}

func pageCount(r Run) string {
	if r.Len() == 1 {
		return humanize.IBytes(r.Bytes())
	}
	return fmt.Sprintf("%d pages, %s", r.Len(), humanize.IBytes(r.Bytes()))
}
