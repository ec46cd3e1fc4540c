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

// Package regions classifies virtual addresses into the named areas of the
// x86-64 Linux kernel memory layout.
package regions

import (
	"fmt"
	"slices"
	"strings"
)

// Region is a named, closed interval of virtual addresses.
type Region struct {
	Name string
	Low  uint64
	High uint64
}

// Contains returns true iff virt is in [r.Low, r.High].
func (r Region) Contains(virt uint64) bool {
	return r.Low <= virt && virt <= r.High
}

// Size returns the number of bytes covered by r. It saturates at the top of
// the address space.
func (r Region) Size() uint64 {
	if r.Low == 0 && r.High == ^uint64(0) {
		return ^uint64(0)
	}
	return r.High - r.Low + 1
}

// String implements fmt.Stringer.
func (r Region) String() string {
	return fmt.Sprintf("%s [0x%016x-0x%016x]", r.Name, r.Low, r.High)
}

// Catalog is an ordered list of regions.
type Catalog []Region

// Default returns the 4-level paging layout of Linux on x86-64, as
// documented in Documentation/arch/x86/x86_64/mm.rst. Holes between the
// ranges are not part of the catalog.
func Default() Catalog {
	return Catalog{
		{Name: "userspace", Low: 0x0000000000000000, High: 0x00007fffffffffff},
		{Name: "guard_hole", Low: 0xffff800000000000, High: 0xffff87ffffffffff},
		{Name: "ldt_remap", Low: 0xffff880000000000, High: 0xffff887fffffffff},
		{Name: "page_offset_base", Low: 0xffff888000000000, High: 0xffffc87fffffffff},
		{Name: "vmalloc_base", Low: 0xffffc90000000000, High: 0xffffe8ffffffffff},
		{Name: "vmemmap_base", Low: 0xffffea0000000000, High: 0xffffeaffffffffff},
		{Name: "kasan_shadow", Low: 0xffffec0000000000, High: 0xfffffbffffffffff},
		{Name: "cpu_entry_area", Low: 0xfffffe0000000000, High: 0xfffffe7fffffffff},
		{Name: "espfix", Low: 0xffffff0000000000, High: 0xffffff7fffffffff},
		{Name: "efi", Low: 0xffffffef00000000, High: 0xfffffffeffffffff},
		{Name: "kernel_text", Low: 0xffffffff80000000, High: 0xffffffff9fffffff},
		{Name: "modules", Low: 0xffffffffa0000000, High: 0xfffffffffeffffff},
		{Name: "fixmap", Low: 0xffffffffff000000, High: 0xffffffffff5fffff},
		{Name: "vsyscall", Low: 0xffffffffff600000, High: 0xffffffffff600fff},
	}
}

// Of returns the first region containing virt.
func (c Catalog) Of(virt uint64) (Region, bool) {
	for _, r := range c {
		if r.Contains(virt) {
			return r, true
		}
	}
	return Region{}, false
}

// Lookup returns the region with the given name.
func (c Catalog) Lookup(name string) (Region, bool) {
	for _, r := range c {
		if r.Name == name {
			return r, true
		}
	}
	return Region{}, false
}

// Names returns the names of all regions, in catalog order.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for _, r := range c {
		names = append(names, r.Name)
	}
	return names
}

// Validate checks that every region is named, uniquely, and that no region
// is inverted or overlaps another.
func (c Catalog) Validate() error {
	seen := make(map[string]struct{}, len(c))
	for _, r := range c {
		if r.Name == "" {
			return fmt.Errorf("region [%#x-%#x] has no name", r.Low, r.High)
		}
		if _, ok := seen[r.Name]; ok {
			return fmt.Errorf("duplicate region %q", r.Name)
		}
		seen[r.Name] = struct{}{}
		if r.Low > r.High {
			return fmt.Errorf("region %v is inverted", r)
		}
	}

	sorted := slices.Clone(c)
	slices.SortFunc(sorted, func(a, b Region) int {
		switch {
		case a.Low < b.Low:
			return -1
		case a.Low > b.Low:
			return 1
		default:
			return 0
		}
	})
	for i := 1; i < len(sorted); i++ {
		if prev, cur := sorted[i-1], sorted[i]; cur.Low <= prev.High {
			return fmt.Errorf("region %v overlaps %v", cur, prev)
		}
	}
	return nil
}

// Filter selects addresses by region name.
//
// An empty Include selects every address, including addresses outside any
// region. Exclude takes precedence over Include.
type Filter struct {
	Include []string
	Exclude []string
}

// Empty returns true iff f selects everything.
func (f Filter) Empty() bool {
	return len(f.Include) == 0 && len(f.Exclude) == 0
}

// Check verifies that all names in f exist in c.
func (f Filter) Check(c Catalog) error {
	for _, names := range [][]string{f.Include, f.Exclude} {
		for _, name := range names {
			if _, ok := c.Lookup(name); !ok {
				return fmt.Errorf("unknown region %q, known regions: %s", name, strings.Join(c.Names(), ", "))
			}
		}
	}
	return nil
}

// Match returns true iff virt is selected by f under catalog c.
func (f Filter) Match(c Catalog, virt uint64) bool {
	r, ok := c.Of(virt)
	if ok && slices.Contains(f.Exclude, r.Name) {
		return false
	}
	if len(f.Include) == 0 {
		return true
	}
	return ok && slices.Contains(f.Include, r.Name)
}
