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
	"context"
	"errors"
	"fmt"

	"github.com/google/btree"
	"gvisor.dev/pgwalk/pkg/log"
)

// Table is one table of the tree, at any level.
type Table struct {
	// Level is the level of the table.
	Level Level

	// Base is the physical address of the table.
	Base uint64

	// Path is the path of the slot that points to this table. It is empty
	// for the PGD.
	Path Path

	// Entries are the raw entries of the table.
	Entries [EntriesPerTable]Entry
}

// newTable returns an empty table after checking that its coordinates are
// consistent.
func newTable(level Level, base uint64, path Path) (*Table, error) {
	switch {
	case !level.Valid():
		return nil, fmt.Errorf("invalid level %d", level)
	case path.Depth() != int(level):
		return nil, fmt.Errorf("%v table at path %v of depth %d", level, path, path.Depth())
	case base&(pteSize-1) != 0:
		return nil, fmt.Errorf("%v table at unaligned address %#x", level, base)
	}
	return &Table{Level: level, Base: base, Path: path}, nil
}

// Page is a mapped page of any size.
type Page struct {
	// Path is the path of the leaf entry: depth 2 for 1G pages, 3 for 2M
	// pages and 4 for 4K pages.
	Path Path

	// Base is the physical base of the page.
	Base uint64

	// Size is the size of the page.
	Size PageSize

	// Entry is the raw leaf entry.
	Entry Entry
}

// Virtual returns the virtual base of the page.
func (p Page) Virtual() uint64 {
	return p.Path.Virtual()
}

// slotKind is what a table slot holds.
type slotKind int

const (
	slotEmpty slotKind = iota
	slotTable
	slotPage
	slotMalformed
)

// classify decides what entry e holds when found in a table at level l. It
// is the single place where level constraints are enforced: huge pages only
// at PUD and PMD, pages only below the PGD, and only pages at the PT.
func classify(l Level, e Entry) slotKind {
	switch {
	case !e.Valid():
		return slotEmpty
	case l == PT:
		return slotPage
	case e.IsSuper() && l.MayBeHuge():
		return slotPage
	case e.IsSuper():
		return slotMalformed
	default:
		return slotTable
	}
}

// errNotInTree is used by Tree.Translate when a present entry points to a
// table that is not part of the snapshot.
var errNotInTree = errors.New("table not in snapshot")

// Tree is a snapshot of every present table and page reachable from a root.
type Tree struct {
	// Root is the root the tree was built from.
	Root Root

	// Unreadable holds the paths of present entries whose table could not
	// be read. Those subtrees contribute nothing to the tree.
	Unreadable []Path

	// Malformed holds the paths of present entries that violate level
	// constraints. They are skipped.
	Malformed []Path

	pgd    *Table
	tables *btree.BTreeG[*Table]
	pages  *btree.BTreeG[Page]
}

const btreeDegree = 32

func newTree(root Root) *Tree {
	return &Tree{
		Root: root,
		tables: btree.NewG(btreeDegree, func(a, b *Table) bool {
			return a.Path.Less(b.Path)
		}),
		pages: btree.NewG(btreeDegree, func(a, b Page) bool {
			return a.Path.Less(b.Path)
		}),
	}
}

// Build reads the entire tree rooted at root.
//
// Every present table is fetched with one batched read. An unreadable table
// below the PGD is recorded in Tree.Unreadable and its siblings are still
// visited. If the PGD itself cannot be read an Unreadable *Fault is
// returned.
//
// ctx is checked between table reads. On cancellation, the partial tree is
// returned along with ctx.Err(). The same holds for a reader error matching
// ErrReaderClosed.
func Build(ctx context.Context, r Reader, root Root) (*Tree, error) {
	t := newTree(root)
	pgd, err := newTable(PGD, root.Table(), Path{})
	if err != nil {
		return nil, err
	}
	if err := readTable(r, pgd.Base, &pgd.Entries); err != nil {
		return nil, &Fault{Kind: Unreadable, Level: PGD, Addr: pgd.Base, Err: err}
	}
	t.pgd = pgd
	t.tables.ReplaceOrInsert(pgd)
	if err := t.expand(ctx, r, pgd); err != nil {
		return t, err
	}
	log.Debugf("Built tree for root %v: %d tables, %d pages, %d unreadable, %d malformed",
		root, t.tables.Len(), t.pages.Len(), len(t.Unreadable), len(t.Malformed))
	return t, nil
}

// expand records the pages of tbl and recurses into its tables.
func (t *Tree) expand(ctx context.Context, r Reader, tbl *Table) error {
	for i, e := range tbl.Entries {
		path := tbl.Path.Child(uint16(i))
		switch classify(tbl.Level, e) {
		case slotEmpty:
			continue
		case slotMalformed:
			log.Debugf("Skipping malformed %v entry %#x at %v", tbl.Level, uint64(e), path)
			t.Malformed = append(t.Malformed, path)
			continue
		case slotPage:
			size := LeafSize(tbl.Level)
			t.pages.ReplaceOrInsert(Page{
				Path:  path,
				Base:  e.Frame(size),
				Size:  size,
				Entry: e,
			})
			continue
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		child, err := newTable(tbl.Level+1, e.Address(), path)
		if err != nil {
			return err
		}
		if err := readTable(r, child.Base, &child.Entries); err != nil {
			if errors.Is(err, ErrReaderClosed) {
				return fmt.Errorf("reading %v table %#x at %v: %w", child.Level, child.Base, path, err)
			}
			log.Debugf("%v table %#x at %v unreadable: %v", child.Level, child.Base, path, err)
			t.Unreadable = append(t.Unreadable, path)
			continue
		}
		t.tables.ReplaceOrInsert(child)
		if err := t.expand(ctx, r, child); err != nil {
			return err
		}
	}
	return nil
}

// PGD returns the root table.
func (t *Tree) PGD() *Table {
	return t.pgd
}

// Table returns the table pointed to by the slot at path p. The empty path
// returns the PGD.
func (t *Tree) Table(p Path) (*Table, bool) {
	return t.tables.Get(&Table{Path: p})
}

// Tables returns all tables at level l in ascending path order.
func (t *Tree) Tables(l Level) []*Table {
	var ts []*Table
	t.tables.Ascend(func(tbl *Table) bool {
		if tbl.Level == l {
			ts = append(ts, tbl)
		}
		return true
	})
	return ts
}

// NumTables returns the number of tables in the tree, including the PGD.
func (t *Tree) NumTables() int {
	return t.tables.Len()
}

// Page returns the page mapped by the leaf entry at path p.
func (t *Tree) Page(p Path) (Page, bool) {
	return t.pages.Get(Page{Path: p})
}

// Pages calls fn for each page in ascending virtual address order until fn
// returns false.
func (t *Tree) Pages(fn func(Page) bool) {
	t.pages.Ascend(fn)
}

// NumPages returns the number of pages of any size in the tree.
func (t *Tree) NumPages() int {
	return t.pages.Len()
}

// Translate resolves virt against the snapshot without reading memory. It
// follows the same steps as the package-level Translate.
func (t *Tree) Translate(virt uint64) (Translation, error) {
	tr := Translation{
		Virtual: virt,
		Indices: IndicesOf(virt),
	}
	var path Path
	tbl := t.pgd
	for level := PGD; level <= PT; level++ {
		idx := tr.Indices.At(level)
		slot := tbl.Base + uint64(idx)*EntrySize
		entry := tbl.Entries[idx]
		tr.Slots[level] = slot
		tr.Entries[level] = entry
		tr.Depth = int(level) + 1
		path = path.Child(idx)

		if !entry.Valid() {
			return Translation{}, &Fault{Kind: NotMapped, Level: level, Addr: slot, Partial: tr}
		}
		if page, ok := t.Page(path); ok {
			tr.Size = page.Size
			tr.Physical = page.Base + virt&page.Size.Mask()
			return tr, nil
		}
		child, ok := t.Table(path)
		if !ok {
			return Translation{}, &Fault{Kind: Unreadable, Level: level + 1, Addr: entry.Address(), Partial: tr, Err: errNotInTree}
		}
		tbl = child
	}
	panic("unreachable")
}
