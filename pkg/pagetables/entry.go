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
)

// Level is a paging level, from the top (PGD) to the bottom (PT).
type Level int

// Paging levels.
const (
	PGD Level = iota
	PUD
	PMD
	PT

	numLevels = 4
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case PGD:
		return "PGD"
	case PUD:
		return "PUD"
	case PMD:
		return "PMD"
	case PT:
		return "PT"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// Valid returns true iff l is one of the four paging levels.
func (l Level) Valid() bool {
	return l >= PGD && l <= PT
}

// MayBeHuge returns true iff an entry at this level may map a huge page.
func (l Level) MayBeHuge() bool {
	return l == PUD || l == PMD
}

// PageSize is the size of a mapped page.
type PageSize uint64

// Page sizes.
const (
	Size4K PageSize = pteSize
	Size2M PageSize = pmdSize
	Size1G PageSize = pudSize
)

// String implements fmt.Stringer.
func (s PageSize) String() string {
	switch s {
	case Size4K:
		return "4K"
	case Size2M:
		return "2M"
	case Size1G:
		return "1G"
	default:
		return fmt.Sprintf("PageSize(%#x)", uint64(s))
	}
}

// Mask returns the offset mask of the page size.
func (s PageSize) Mask() uint64 {
	return uint64(s) - 1
}

// LeafSize returns the size of a page mapped by a leaf entry at level l.
func LeafSize(l Level) PageSize {
	switch l {
	case PUD:
		return Size1G
	case PMD:
		return Size2M
	case PT:
		return Size4K
	default:
		panic(fmt.Sprintf("no pages are mapped at level %v", l))
	}
}

// Bits in page table entries.
const (
	present        = 1 << 0
	writable       = 1 << 1
	user           = 1 << 2
	writeThrough   = 1 << 3
	cacheDisable   = 1 << 4
	accessed       = 1 << 5
	dirty          = 1 << 6
	super          = 1 << 7
	global         = 1 << 8
	patHuge        = 1 << 13
	executeDisable = 1 << 63
)

// PhysMask masks the 52 significant bits of a physical address.
const PhysMask = 1<<52 - 1

// Entry is a raw 64-bit page table entry as read from memory.
type Entry uint64

// Valid returns true iff the present bit is set.
func (e Entry) Valid() bool {
	return e&present != 0
}

// IsSuper returns true iff the page size bit is set.
//
// The bit only means "huge page" at the PUD and PMD levels; callers must
// check the level.
func (e Entry) IsSuper() bool {
	return e&super != 0
}

// Address returns the physical address of the next table, or of the 4K
// frame for a PT entry.
func (e Entry) Address() uint64 {
	return uint64(e) &^ (pteSize - 1) & PhysMask
}

// Frame returns the physical base of the page of the given size mapped by a
// huge or PT entry.
//
// The mask depends on the size: the low bits of a huge entry hold flags
// (including PAT) that are not part of its frame.
func (e Entry) Frame(size PageSize) uint64 {
	return uint64(e) &^ size.Mask() & PhysMask
}

// Writable returns true iff the read/write bit is set.
func (e Entry) Writable() bool {
	return e&writable != 0
}

// User returns true iff the user/supervisor bit is set.
func (e Entry) User() bool {
	return e&user != 0
}

// Executable returns true iff the no-execute bit is clear.
func (e Entry) Executable() bool {
	return e&executeDisable == 0
}

// Root is a CR3-equivalent value.
type Root uint64

// Table returns the physical base of the PGD table.
//
// The low 12 bits hold the PCID or PWT/PCD control bits and bit 63 is the
// no-flush hint; none of them are part of the address.
func (r Root) Table() uint64 {
	return uint64(r) &^ (pteSize - 1) & PhysMask
}

// String implements fmt.Stringer.
func (r Root) String() string {
	return fmt.Sprintf("%#x", uint64(r))
}
