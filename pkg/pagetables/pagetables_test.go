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

package pagetables_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/pgwalk/pkg/pagetables"
	"gvisor.dev/pgwalk/pkg/pagetables/ptetest"
	"gvisor.dev/pgwalk/pkg/physmem"
)

// fixture maps user 4K and 2M pages and kernel 2M and 1G pages.
func fixture() *ptetest.Builder {
	b := ptetest.New()
	b.Map(0x400000, 0x7000, pagetables.Size4K, ptetest.Writable|ptetest.User)
	b.Map(0x401000, 0x8000, pagetables.Size4K, ptetest.Writable|ptetest.User)
	b.Map(0x600000, 0x20000000, pagetables.Size2M, ptetest.Writable|ptetest.User)
	b.Map(0xffff888000000000, 0x0, pagetables.Size1G, ptetest.Writable|ptetest.Global)
	b.Map(0xffffffff81000000, 0x1000000, pagetables.Size2M, ptetest.Global)
	return b
}

func faultOf(t *testing.T, err error) *pagetables.Fault {
	t.Helper()
	var f *pagetables.Fault
	if !errors.As(err, &f) {
		t.Fatalf("got error %v, want a *Fault", err)
	}
	return f
}

func TestTranslate4K(t *testing.T) {
	b := fixture()
	const virt = 0x401abc
	tr, err := pagetables.Translate(b.Mem, b.Root, virt)
	if err != nil {
		t.Fatalf("Translate(%#x): %v", virt, err)
	}
	if tr.Physical != 0x8abc || tr.Size != pagetables.Size4K || tr.Depth != 4 || tr.Huge() {
		t.Errorf("Translate(%#x) = %+v", virt, tr)
	}
	for l := pagetables.PGD; l <= pagetables.PT; l++ {
		want := b.Slot(virt, l)
		if got, ok := tr.Slot(l); !ok || got != want {
			t.Errorf("Slot(%v) = %#x, %t, want %#x", l, got, ok, want)
		}
	}
	if got := tr.Frame(); got != 0x8000 {
		t.Errorf("Frame() = %#x, want 0x8000", got)
	}
	if got := tr.Leaf(); got != pagetables.PT {
		t.Errorf("Leaf() = %v, want PT", got)
	}
}

func TestTranslateHuge(t *testing.T) {
	for _, tc := range []struct {
		name  string
		virt  uint64
		phys  uint64
		size  pagetables.PageSize
		reads int
	}{
		{
			name:  "1G",
			virt:  0xffff888012345678,
			phys:  0x12345678,
			size:  pagetables.Size1G,
			reads: 2,
		},
		{
			name:  "2M",
			virt:  0xffffffff811fffff,
			phys:  0x11fffff,
			size:  pagetables.Size2M,
			reads: 3,
		},
		{
			name:  "user 2M",
			virt:  0x600010,
			phys:  0x20000010,
			size:  pagetables.Size2M,
			reads: 3,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := fixture()
			tr, err := pagetables.Translate(b.Mem, b.Root, tc.virt)
			if err != nil {
				t.Fatalf("Translate(%#x): %v", tc.virt, err)
			}
			if tr.Physical != tc.phys || tr.Size != tc.size || !tr.Huge() {
				t.Errorf("Translate(%#x) = %#x (%v), want %#x (%v)", tc.virt, tr.Physical, tr.Size, tc.phys, tc.size)
			}
			if got := b.Mem.Requests(); got != tc.reads {
				t.Errorf("Translate issued %d reads, want %d", got, tc.reads)
			}
			if _, ok := tr.Slot(pagetables.PT); ok {
				t.Errorf("huge walk has a PT slot")
			}
		})
	}
}

// TestTranslateHugePMDZero lays out PGD[0] -> PUD, PUD[0] -> PMD and a 2M
// PMD[0] by hand.
func TestTranslateHugePMDZero(t *testing.T) {
	const (
		pgd = 0x1000
		pud = 0x2000
		pmd = 0x3000
	)
	m := physmem.NewImage()
	m.Set(pgd, pud|0x3)
	m.Set(pud, pmd|0x3)
	m.Set(pmd, 0x40000000|0x80|0x3)

	tr, err := pagetables.Translate(m, pagetables.Root(pgd), pagetables.Compose(0, 0, 0, 0))
	if err != nil {
		t.Fatalf("Translate(): %v", err)
	}
	if tr.Physical != 0x40000000 || tr.Size != pagetables.Size2M {
		t.Errorf("Translate() = %#x (%v), want 0x40000000 (2M)", tr.Physical, tr.Size)
	}
}

func TestTranslateNotMapped(t *testing.T) {
	for _, tc := range []struct {
		virt  uint64
		level pagetables.Level
	}{
		{0x8000000000, pagetables.PGD},
		{0x40000000, pagetables.PUD},
		{0x200000, pagetables.PMD},
		{0x402000, pagetables.PT},
	} {
		t.Run(tc.level.String(), func(t *testing.T) {
			b := fixture()
			_, err := pagetables.Translate(b.Mem, b.Root, tc.virt)
			if !pagetables.IsNotMapped(err) {
				t.Fatalf("Translate(%#x) = %v, want NotMapped", tc.virt, err)
			}
			f := faultOf(t, err)
			if f.Level != tc.level || f.Addr != b.Slot(tc.virt, tc.level) {
				t.Errorf("fault at %v %#x, want %v %#x", f.Level, f.Addr, tc.level, b.Slot(tc.virt, tc.level))
			}
			if f.Partial.Depth != int(tc.level)+1 || f.Partial.Entries[tc.level].Valid() {
				t.Errorf("partial walk %+v", f.Partial)
			}
			if f.Partial.Physical != 0 {
				t.Errorf("partial walk has a physical address")
			}
		})
	}
}

func TestTranslateUnreadable(t *testing.T) {
	const virt = 0x401000
	for _, level := range []pagetables.Level{pagetables.PGD, pagetables.PUD, pagetables.PMD, pagetables.PT} {
		t.Run(level.String(), func(t *testing.T) {
			b := fixture()
			table := b.Table(virt, level)
			b.Mem.MarkUnreadable(table, table+0x1000)

			_, err := pagetables.Translate(b.Mem, b.Root, virt)
			if !pagetables.IsUnreadable(err) {
				t.Fatalf("Translate(%#x) = %v, want Unreadable", virt, err)
			}
			if !errors.Is(err, physmem.ErrUnreadable) {
				t.Errorf("error %v does not wrap the reader error", err)
			}
			f := faultOf(t, err)
			if f.Level != level || f.Partial.Depth != int(level) {
				t.Errorf("fault at %v depth %d, want %v depth %d", f.Level, f.Partial.Depth, level, int(level))
			}
		})
	}
}

func TestTranslateRootControlBits(t *testing.T) {
	b := fixture()
	root := pagetables.Root(1<<63 | uint64(b.Root) | 0x018)
	tr, err := pagetables.Translate(b.Mem, root, 0x400000)
	if err != nil || tr.Physical != 0x7000 {
		t.Errorf("Translate() = %#x, %v, want 0x7000", tr.Physical, err)
	}
}

func TestTranslateMasksHighBits(t *testing.T) {
	b := ptetest.New()
	const virt = 0xffff888000000000
	b.Map(virt, 0x5000, pagetables.Size4K, 0)
	// NX and software bits 62:52 are not part of the frame.
	b.SetEntry(virt, pagetables.PT, 1<<63|0x7ff<<52|0x5000|ptetest.Present)
	tr, err := pagetables.Translate(b.Mem, b.Root, virt+0x42)
	if err != nil || tr.Physical != 0x5042 {
		t.Errorf("Translate() = %#x, %v, want 0x5042", tr.Physical, err)
	}
}

func TestTranslateHugePATBit(t *testing.T) {
	b := ptetest.New()
	const virt = 0xffffffff81000000
	b.SetEntry(virt, pagetables.PMD, 0x40000000|1<<13|ptetest.Huge|ptetest.Present)
	tr, err := pagetables.Translate(b.Mem, b.Root, virt+0x1234)
	if err != nil || tr.Physical != 0x40001234 {
		t.Errorf("Translate() = %#x, %v, want 0x40001234", tr.Physical, err)
	}
}

func TestTranslatePGDHugeBitIsTable(t *testing.T) {
	b := fixture()
	const virt = 0x400000
	pgdEntry := b.Mem.Get(b.Slot(virt, pagetables.PGD))
	b.SetEntry(virt, pagetables.PGD, pgdEntry|ptetest.Huge)
	tr, err := pagetables.Translate(b.Mem, b.Root, virt)
	if err != nil || tr.Physical != 0x7000 || tr.Size != pagetables.Size4K {
		t.Errorf("Translate() = %#x (%v), %v, want 0x7000 (4K)", tr.Physical, tr.Size, err)
	}
}

func TestFlagScan(t *testing.T) {
	b := fixture()
	flags, err := pagetables.FlagScan(b.Mem, b.Root, 0xffffffff81000000)
	if err != nil {
		t.Fatalf("FlagScan(): %v", err)
	}
	if len(flags) != 3 {
		t.Fatalf("FlagScan() returned %d levels, want 3", len(flags))
	}
	if huge, _ := flags[2].Get(pagetables.AttrHuge); !huge {
		t.Errorf("PMD entry not huge: %v", flags[2])
	}

	flags, err = pagetables.FlagScan(b.Mem, b.Root, 0x402000)
	if !pagetables.IsNotMapped(err) {
		t.Fatalf("FlagScan() = %v, want NotMapped", err)
	}
	if len(flags) != 4 {
		t.Fatalf("FlagScan() returned %d levels, want 4", len(flags))
	}
	if present, _ := flags[3].Get(pagetables.AttrPresent); present {
		t.Errorf("PT entry present: %v", flags[3])
	}
}

// entryReader hides the batch interface of its reader.
type entryReader struct {
	r pagetables.Reader
}

func (e entryReader) ReadEntry(addr uint64) (uint64, error) {
	return e.r.ReadEntry(addr)
}

// closingReader fails every read after the first n with
// pagetables.ErrReaderClosed.
type closingReader struct {
	r pagetables.Reader
	n int
}

func (c *closingReader) ReadEntry(addr uint64) (uint64, error) {
	if c.n == 0 {
		return 0, fmt.Errorf("connection reset: %w", pagetables.ErrReaderClosed)
	}
	c.n--
	return c.r.ReadEntry(addr)
}

type page struct {
	Virtual uint64
	Path    string
	Base    uint64
	Size    pagetables.PageSize
}

func pagesOf(tree *pagetables.Tree) []page {
	var ps []page
	tree.Pages(func(p pagetables.Page) bool {
		ps = append(ps, page{p.Virtual(), p.Path.String(), p.Base, p.Size})
		return true
	})
	return ps
}

var fixturePages = []page{
	{0x400000, "[000|000|002|000]", 0x7000, pagetables.Size4K},
	{0x401000, "[000|000|002|001]", 0x8000, pagetables.Size4K},
	{0x600000, "[000|000|003|---]", 0x20000000, pagetables.Size2M},
	{0xffff888000000000, "[273|000|---|---]", 0x0, pagetables.Size1G},
	{0xffffffff81000000, "[511|510|008|---]", 0x1000000, pagetables.Size2M},
}

func TestBuild(t *testing.T) {
	b := fixture()
	tree, err := pagetables.Build(context.Background(), b.Mem, b.Root)
	if err != nil {
		t.Fatalf("Build(): %v", err)
	}
	if diff := cmp.Diff(fixturePages, pagesOf(tree)); diff != "" {
		t.Errorf("pages mismatch (-want +got):\n%s", diff)
	}

	// PGD, three PUDs, two PMDs and one PT.
	if got := tree.NumTables(); got != 7 {
		t.Errorf("NumTables() = %d, want 7", got)
	}
	if got := b.Mem.Requests(); got != tree.NumTables() {
		t.Errorf("Build issued %d requests for %d tables", got, tree.NumTables())
	}
	counts := map[pagetables.Level]int{}
	for l := pagetables.PGD; l <= pagetables.PT; l++ {
		for _, tbl := range tree.Tables(l) {
			if tbl.Level != l || tbl.Path.Depth() != int(l) {
				t.Errorf("table %v at %v has level %v", tbl.Path, l, tbl.Level)
			}
			counts[l]++
		}
	}
	if diff := cmp.Diff(map[pagetables.Level]int{pagetables.PGD: 1, pagetables.PUD: 3, pagetables.PMD: 2, pagetables.PT: 1}, counts); diff != "" {
		t.Errorf("tables per level mismatch (-want +got):\n%s", diff)
	}
	if tree.PGD().Base != ptetest.RootBase {
		t.Errorf("PGD base = %#x", tree.PGD().Base)
	}
	if len(tree.Unreadable) != 0 || len(tree.Malformed) != 0 {
		t.Errorf("Unreadable = %v, Malformed = %v", tree.Unreadable, tree.Malformed)
	}
}

func TestBuildEntryReader(t *testing.T) {
	b := fixture()
	tree, err := pagetables.Build(context.Background(), entryReader{b.Mem}, b.Root)
	if err != nil {
		t.Fatalf("Build(): %v", err)
	}
	if diff := cmp.Diff(fixturePages, pagesOf(tree)); diff != "" {
		t.Errorf("pages mismatch (-want +got):\n%s", diff)
	}
	if got, want := b.Mem.Requests(), tree.NumTables()*pagetables.EntriesPerTable; got != want {
		t.Errorf("Build issued %d requests, want %d", got, want)
	}
}

func TestBuildUnreadableSubtree(t *testing.T) {
	b := fixture()
	pt := b.Table(0x400000, pagetables.PT)
	b.Mem.MarkUnreadable(pt+0x800, pt+0x808)

	tree, err := pagetables.Build(context.Background(), b.Mem, b.Root)
	if err != nil {
		t.Fatalf("Build(): %v", err)
	}
	if diff := cmp.Diff(fixturePages[2:], pagesOf(tree)); diff != "" {
		t.Errorf("pages mismatch (-want +got):\n%s", diff)
	}
	want, _ := pagetables.NewPath(0, 0, 2)
	if len(tree.Unreadable) != 1 || tree.Unreadable[0] != want {
		t.Errorf("Unreadable = %v, want [%v]", tree.Unreadable, want)
	}
}

func TestBuildUnreadableRoot(t *testing.T) {
	b := fixture()
	b.Mem.MarkUnreadable(ptetest.RootBase, ptetest.RootBase+0x1000)
	_, err := pagetables.Build(context.Background(), b.Mem, b.Root)
	if !pagetables.IsUnreadable(err) {
		t.Errorf("Build() = %v, want Unreadable", err)
	}
}

func TestBuildReaderClosed(t *testing.T) {
	b := fixture()
	r := &closingReader{r: b.Mem, n: pagetables.EntriesPerTable}
	tree, err := pagetables.Build(context.Background(), r, b.Root)
	if !errors.Is(err, pagetables.ErrReaderClosed) {
		t.Fatalf("Build() = %v, want %v", err, pagetables.ErrReaderClosed)
	}
	if tree == nil || tree.NumTables() != 1 || len(tree.Unreadable) != 0 {
		t.Errorf("Build() recorded a lost reader as unreadable tables")
	}
}

func TestBuildMalformed(t *testing.T) {
	b := fixture()
	const virt = 0xffff888000000000
	pgdEntry := b.Mem.Get(b.Slot(virt, pagetables.PGD))
	b.SetEntry(virt, pagetables.PGD, pgdEntry|ptetest.Huge)

	tree, err := pagetables.Build(context.Background(), b.Mem, b.Root)
	if err != nil {
		t.Fatalf("Build(): %v", err)
	}
	want, _ := pagetables.NewPath(273)
	if len(tree.Malformed) != 1 || tree.Malformed[0] != want {
		t.Errorf("Malformed = %v, want [%v]", tree.Malformed, want)
	}
	if _, ok := tree.Table(want); ok {
		t.Errorf("malformed entry was descended")
	}
	if got := tree.NumPages(); got != len(fixturePages)-1 {
		t.Errorf("NumPages() = %d, want %d", got, len(fixturePages)-1)
	}
}

func TestBuildCancel(t *testing.T) {
	b := fixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tree, err := pagetables.Build(ctx, b.Mem, b.Root)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Build() = %v, want %v", err, context.Canceled)
	}
	if tree == nil || tree.NumTables() != 1 || b.Mem.Requests() != 1 {
		t.Errorf("cancelled build read more than the PGD")
	}
}

func TestTreeTranslateAgrees(t *testing.T) {
	b := fixture()
	tree, err := pagetables.Build(context.Background(), b.Mem, b.Root)
	if err != nil {
		t.Fatalf("Build(): %v", err)
	}
	for _, virt := range []uint64{
		0x400000, 0x400fff, 0x401123, 0x402000, 0x600000, 0x7fffff,
		0x200000, 0x40000000, 0x8000000000,
		0xffff888000000000, 0xffff88803fffffff, 0xffff888040000000,
		0xffffffff81000000, 0xffffffff811ff000, 0xffffffff81200000,
	} {
		want, wantErr := pagetables.Translate(b.Mem, b.Root, virt)
		got, gotErr := tree.Translate(virt)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Translate(%#x) mismatch (-walker +tree):\n%s", virt, diff)
		}
		if pagetables.IsNotMapped(wantErr) != pagetables.IsNotMapped(gotErr) || (wantErr == nil) != (gotErr == nil) {
			t.Errorf("Translate(%#x) errors differ: walker %v, tree %v", virt, wantErr, gotErr)
		}
		if wantErr != nil {
			wf, gf := faultOf(t, wantErr), faultOf(t, gotErr)
			if diff := cmp.Diff(wf.Partial, gf.Partial); diff != "" || wf.Level != gf.Level || wf.Addr != gf.Addr {
				t.Errorf("Translate(%#x) faults differ: walker %v, tree %v", virt, wf, gf)
			}
		}
	}
}
