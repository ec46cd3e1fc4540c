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

// Package ptetest builds page tables in an in-memory image for tests.
package ptetest

import (
	"fmt"

	"gvisor.dev/pgwalk/pkg/pagetables"
	"gvisor.dev/pgwalk/pkg/physmem"
)

// Entry bits used by the builder.
const (
	Present  = 1 << 0
	Writable = 1 << 1
	User     = 1 << 2
	Accessed = 1 << 5
	Dirty    = 1 << 6
	Huge     = 1 << 7
	Global   = 1 << 8
	NX       = 1 << 63

	// tableFlags are set on every entry pointing to a table.
	tableFlags = Present | Writable | User | Accessed
)

const (
	// RootBase is where the PGD is allocated.
	RootBase = 0x1000

	// tableArena is where other tables are allocated.
	tableArena = 0x10_0000_0000
)

// Builder lays out tables in an image.
type Builder struct {
	// Mem holds the tables.
	Mem *physmem.Image

	// Root is the root of the tables.
	Root pagetables.Root

	next uint64
}

// New returns a builder with an empty PGD at RootBase.
func New() *Builder {
	return &Builder{
		Mem:  physmem.NewImage(),
		Root: pagetables.Root(RootBase),
		next: tableArena,
	}
}

func (b *Builder) alloc() uint64 {
	base := b.next
	b.next += pagetables.EntriesPerTable * pagetables.EntrySize
	return base
}

// Slot returns the address of the slot used by virt at level l, allocating
// any missing table above it.
func (b *Builder) Slot(virt uint64, l pagetables.Level) uint64 {
	ind := pagetables.IndicesOf(virt)
	table := b.Root.Table()
	for level := pagetables.PGD; ; level++ {
		slot := table + uint64(ind.At(level))*pagetables.EntrySize
		if level == l {
			return slot
		}
		e := pagetables.Entry(b.Mem.Get(slot))
		switch {
		case !e.Valid():
			next := b.alloc()
			b.Mem.Set(slot, next|tableFlags)
			table = next
		case level != pagetables.PGD && e.IsSuper():
			panic(fmt.Sprintf("%#x is already mapped by a huge %v entry", virt, level))
		default:
			table = e.Address()
		}
	}
}

// Table returns the base of the table at level l used by virt, allocating
// it if needed.
func (b *Builder) Table(virt uint64, l pagetables.Level) uint64 {
	ind := pagetables.IndicesOf(virt)
	return b.Slot(virt, l) - uint64(ind.At(l))*pagetables.EntrySize
}

// Map maps virt to phys with a page of the given size. Present, and Huge
// for large pages, are added to flags.
func (b *Builder) Map(virt, phys uint64, size pagetables.PageSize, flags uint64) {
	var l pagetables.Level
	switch size {
	case pagetables.Size4K:
		l = pagetables.PT
	case pagetables.Size2M:
		l = pagetables.PMD
		flags |= Huge
	case pagetables.Size1G:
		l = pagetables.PUD
		flags |= Huge
	default:
		panic(fmt.Sprintf("bad page size %v", size))
	}
	if virt&size.Mask() != 0 || phys&size.Mask() != 0 {
		panic(fmt.Sprintf("unaligned %v mapping %#x -> %#x", size, virt, phys))
	}
	b.Mem.Set(b.Slot(virt, l), phys|flags|Present)
}

// SetEntry stores a raw entry in the slot used by virt at level l.
func (b *Builder) SetEntry(virt uint64, l pagetables.Level, e uint64) {
	b.Mem.Set(b.Slot(virt, l), e)
}
