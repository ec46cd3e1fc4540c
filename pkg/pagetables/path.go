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

package pagetables

import (
	"fmt"
	"strings"
)

// Path names a slot by its table coordinates, from the PGD index down. A
// Path of depth d names a slot in a table at level d-1.
//
// Path is comparable and small enough to be used as a key.
type Path struct {
	idx   [numLevels]uint16
	depth uint8
}

// NewPath returns the path made of the given indices.
func NewPath(indices ...uint16) (Path, error) {
	var p Path
	if len(indices) > numLevels {
		return p, invalidInput("path", fmt.Sprint(indices), "too deep")
	}
	for _, i := range indices {
		if i >= EntriesPerTable {
			return p, invalidInput("path", fmt.Sprint(indices), fmt.Sprintf("index %d out of range", i))
		}
		p = p.Child(i)
	}
	return p, nil
}

// PathOf returns the path of depth d followed by virt.
func PathOf(virt uint64, depth int) Path {
	ind := IndicesOf(virt)
	p := Path{depth: uint8(depth)}
	for l := PGD; int(l) < depth; l++ {
		p.idx[l] = ind.At(l)
	}
	return p
}

// Depth returns the number of indices in the path.
func (p Path) Depth() int {
	return int(p.depth)
}

// Level returns the level of the table holding the named slot.
//
// Precondition: p.Depth() > 0.
func (p Path) Level() Level {
	return Level(p.depth - 1)
}

// Index returns the index at level l, if the path has one.
func (p Path) Index(l Level) (uint16, bool) {
	if !l.Valid() || int(l) >= int(p.depth) {
		return 0, false
	}
	return p.idx[l], true
}

// Child returns the path extended by index i.
//
// Precondition: p.Depth() < 4 and i < EntriesPerTable.
func (p Path) Child(i uint16) Path {
	if int(p.depth) >= numLevels {
		panic(fmt.Sprintf("path %v has no children", p))
	}
	c := p
	c.idx[c.depth] = i & indexMask
	c.depth++
	return c
}

// Virtual returns the canonical virtual address of the first byte mapped
// through the slot. Absent indices are zero.
func (p Path) Virtual() uint64 {
	var v uint64
	for l := PGD; int(l) < int(p.depth); l++ {
		v |= uint64(p.idx[l]) << levelShifts[l]
	}
	return Canonical(v)
}

// Less orders paths by their indices, shorter paths first on a tie. For
// paths that are not prefixes of one another this is the order of their
// virtual addresses.
func (p Path) Less(o Path) bool {
	for l := 0; l < numLevels; l++ {
		if l >= int(p.depth) || l >= int(o.depth) {
			return p.depth < o.depth
		}
		if p.idx[l] != o.idx[l] {
			return p.idx[l] < o.idx[l]
		}
	}
	return false
}

// String formats the path as [pgd|pud|pmd|pt], with --- for absent
// indices.
func (p Path) String() string {
	var parts [numLevels]string
	for l := 0; l < numLevels; l++ {
		if l < int(p.depth) {
			parts[l] = fmt.Sprintf("%03d", p.idx[l])
		} else {
			parts[l] = "---"
		}
	}
	return "[" + strings.Join(parts[:], "|") + "]"
}
