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
	"errors"
)

// Translation is the state of one virtual address walked through the four
// levels.
type Translation struct {
	// Virtual is the translated address.
	Virtual uint64

	// Indices are the table coordinates of Virtual.
	Indices Indices

	// Depth is the number of entries that were read. Slots and Entries
	// beyond Depth are placeholders.
	Depth int

	// Slots holds the physical address of the slot used at each level.
	Slots [numLevels]uint64

	// Entries holds the raw entry read from each slot.
	Entries [numLevels]Entry

	// Physical is the translated physical address.
	Physical uint64

	// Size is the size of the page that maps Virtual.
	Size PageSize
}

// Slot returns the slot address used at level l, if the walk got that far.
func (t *Translation) Slot(l Level) (uint64, bool) {
	if !l.Valid() || int(l) >= t.Depth {
		return 0, false
	}
	return t.Slots[l], true
}

// Leaf returns the level of the entry that mapped the page.
func (t *Translation) Leaf() Level {
	return Level(t.Depth - 1)
}

// Huge returns true iff the address is mapped by a 2M or 1G page.
func (t *Translation) Huge() bool {
	return t.Size == Size2M || t.Size == Size1G
}

// Frame returns the base of the 4K frame containing Physical.
func (t *Translation) Frame() uint64 {
	return t.Physical &^ Size4K.Mask()
}

// Translate walks virt through the tables rooted at root.
//
// The first fault stops the walk and is returned as a *Fault. Huge entries
// at the PUD and PMD levels terminate the walk early; no reads are issued
// below them. A call issues at most four reads and always completes.
func Translate(r Reader, root Root, virt uint64) (Translation, error) {
	t := Translation{
		Virtual: virt,
		Indices: IndicesOf(virt),
	}
	table := root.Table()
	for level := PGD; level <= PT; level++ {
		slot := table + uint64(t.Indices.At(level))*EntrySize
		t.Slots[level] = slot

		v, err := r.ReadEntry(slot)
		if err != nil {
			return Translation{}, &Fault{Kind: Unreadable, Level: level, Addr: slot, Partial: t, Err: err}
		}
		entry := Entry(v)
		t.Entries[level] = entry
		t.Depth = int(level) + 1

		if !entry.Valid() {
			return Translation{}, &Fault{Kind: NotMapped, Level: level, Addr: slot, Partial: t}
		}

		// Huge bit at level PGD is reserved; it is treated as a
		// table pointer like the rest of the entry.
		if level == PT || (level.MayBeHuge() && entry.IsSuper()) {
			t.Size = LeafSize(level)
			t.Physical = entry.Frame(t.Size) + virt&t.Size.Mask()
			return t, nil
		}
		table = entry.Address()
	}
	panic("unreachable")
}

// FlagScan decodes every entry on the path of virt.
//
// If the walk faults, the flags of the entries read so far are returned
// along with the fault. For a NotMapped fault this includes the non-present
// entry itself.
func FlagScan(r Reader, root Root, virt uint64) ([]Flags, error) {
	t, err := Translate(r, root, virt)
	if err != nil {
		var f *Fault
		if !errors.As(err, &f) {
			return nil, err
		}
		t = f.Partial
	}
	flags := make([]Flags, 0, t.Depth)
	for l := PGD; int(l) < t.Depth; l++ {
		flags = append(flags, Decode(l, t.Entries[l]))
	}
	return flags, err
}
