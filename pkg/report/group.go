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

// Package report renders page table walks, dumps and flag tables.
package report

import (
	"fmt"
	"strings"

	"gvisor.dev/pgwalk/pkg/pagetables"
)

// Run is a maximal sequence of pages, in virtual address order, where each
// page is physically adjacent to the previous one. The physical addresses
// of a run are monotonic: aliases may repeat a frame but the direction never
// changes.
type Run struct {
	// Pages are the pages of the run. It is never empty.
	Pages []pagetables.Page
}

// First returns the first page of the run.
func (r Run) First() pagetables.Page {
	return r.Pages[0]
}

// Last returns the last page of the run.
func (r Run) Last() pagetables.Page {
	return r.Pages[len(r.Pages)-1]
}

// Len returns the number of pages in the run.
func (r Run) Len() int {
	return len(r.Pages)
}

// Bytes returns the number of bytes mapped by the run.
func (r Run) Bytes() uint64 {
	var n uint64
	for _, p := range r.Pages {
		n += uint64(p.Size)
	}
	return n
}

// Descending returns true iff the physical addresses decrease across the
// run.
func (r Run) Descending() bool {
	return r.Last().Base < r.First().Base
}

// pathSize is the size of the page mapped by a leaf at path p.
func pathSize(p pagetables.Path) uint64 {
	return uint64(pagetables.LeafSize(p.Level()))
}

// nearby returns the direction from a to b, which is -1, 0 for an alias, or
// 1. ok is false if b is not physically adjacent to a.
//
// Only physical addresses are considered. Virtual stride is not a reliable
// indicator of contiguity across levels.
func nearby(a, b pagetables.Page) (dir int, ok bool) {
	size := pathSize(b.Path)
	switch {
	case a.Base == b.Base:
		return 0, true
	case a.Base < b.Base:
		return 1, b.Base-a.Base == size
	default:
		return -1, a.Base-b.Base == size
	}
}

// Group splits pages, which must be sorted by virtual address, into runs.
//
// A page extends the current run if it is nearby the last page and keeps the
// direction of the run. A run of aliases takes the direction of the first
// page that is not one.
func Group(pages []pagetables.Page) []Run {
	var runs []Run
	start, runDir := 0, 0
	for i := 1; i <= len(pages); i++ {
		if i < len(pages) {
			dir, ok := nearby(pages[i-1], pages[i])
			if ok && (dir == 0 || runDir == 0 || dir == runDir) {
				if dir != 0 {
					runDir = dir
				}
				continue
			}
		}
		runs = append(runs, Run{Pages: pages[start:i:i]})
		start, runDir = i, 0
	}
	return runs
}

// indexRange formats the indices of a and b at every level.
func indexRange(a, b pagetables.Path) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for l := pagetables.PGD; l <= pagetables.PT; l++ {
		if l != pagetables.PGD {
			sb.WriteByte('|')
		}
		i, ok := a.Index(l)
		j, ok2 := b.Index(l)
		switch {
		case !ok || !ok2:
			sb.WriteString("---")
		case i == j:
			fmt.Fprintf(&sb, "%03d", i)
		default:
			fmt.Fprintf(&sb, "%03d-%03d", i, j)
		}
	}
	sb.WriteByte(']')
	return sb.String()
}

// String formats the run as one line.
//
// A single page is formatted as its virtual address, path and physical
// address. Longer runs give virtual, index and physical ranges. The
// physical range is always written low to high with an arrow pointing
// toward the end of the run.
func (r Run) String() string {
	first, last := r.First(), r.Last()
	if r.Len() == 1 {
		return fmt.Sprintf("0x%016x %s %#x", first.Virtual(), first.Path, first.Base)
	}
	phys := fmt.Sprintf("%#x -> %#x", first.Base, last.Base)
	if r.Descending() {
		phys = fmt.Sprintf("%#x <- %#x", last.Base, first.Base)
	}
	return fmt.Sprintf("0x%016x-0x%016x %s %s", first.Virtual(), last.Virtual(), indexRange(first.Path, last.Path), phys)
}
