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

// Package pagetables reconstructs x86-64 4-level address translation from
// the outside of a machine.
//
// Nothing in this package touches host page tables. All state is read through
// a Reader that fetches raw 64-bit entries from guest physical memory, and
// every walk or build returns values owned by the caller. The target may keep
// running, so each query re-reads memory.
package pagetables

import (
	"fmt"
	"strconv"
	"strings"
)

// Address constraints.
//
// The lowerTop and upperBottom currently apply to four-level pagetables;
// five-level pagetables are not supported.
const (
	lowerTop    = 0x00007fffffffffff
	upperBottom = 0xffff800000000000

	pteShift = 12
	pmdShift = 21
	pudShift = 30
	pgdShift = 39

	indexBits = 9
	indexMask = 1<<indexBits - 1

	pteSize = 1 << pteShift
	pmdSize = 1 << pmdShift
	pudSize = 1 << pudShift

	// EntriesPerTable is the number of entries in a table at any level.
	EntriesPerTable = 512

	// EntrySize is the size of one table entry in bytes.
	EntrySize = 8

	// kernelHalf is the fixed upper 16 bits used by Compose.
	kernelHalf = 0xffff << 48
)

// levelShifts holds the shift of the index for each level.
var levelShifts = [numLevels]uint{pgdShift, pudShift, pmdShift, pteShift}

// Indices are the table coordinates of a virtual address.
type Indices struct {
	PGD    uint16
	PUD    uint16
	PMD    uint16
	PT     uint16
	Offset uint16
}

// At returns the index used at the given level.
func (i Indices) At(l Level) uint16 {
	switch l {
	case PGD:
		return i.PGD
	case PUD:
		return i.PUD
	case PMD:
		return i.PMD
	case PT:
		return i.PT
	default:
		panic(fmt.Sprintf("invalid level %d", l))
	}
}

// String implements fmt.Stringer.
func (i Indices) String() string {
	return fmt.Sprintf("[%03d|%03d|%03d|%03d]+0x%03x", i.PGD, i.PUD, i.PMD, i.PT, i.Offset)
}

// IndicesOf splits a virtual address into its four table indices and the
// offset within the 4K page.
//
// Bits 63:48 are ignored. Non-canonical addresses are accepted and produce
// whatever indices fall out of bits 47:0.
func IndicesOf(virt uint64) Indices {
	return Indices{
		PGD:    uint16((virt >> pgdShift) & indexMask),
		PUD:    uint16((virt >> pudShift) & indexMask),
		PMD:    uint16((virt >> pmdShift) & indexMask),
		PT:     uint16((virt >> pteShift) & indexMask),
		Offset: uint16(virt & (pteSize - 1)),
	}
}

// Compose is the inverse of IndicesOf for the kernel half: the upper 16 bits
// of the result are always 0xffff.
//
// Precondition: all indices are less than EntriesPerTable.
func Compose(pgd, pud, pmd, pt uint16) uint64 {
	return kernelHalf |
		uint64(pgd&indexMask)<<pgdShift |
		uint64(pud&indexMask)<<pudShift |
		uint64(pmd&indexMask)<<pmdShift |
		uint64(pt&indexMask)<<pteShift
}

// Canonical sign-extends bit 47 of virt into bits 63:48.
func Canonical(virt uint64) uint64 {
	virt &= 1<<48 - 1
	if virt&(1<<47) != 0 {
		virt |= kernelHalf
	}
	return virt
}

// IsCanonical returns true iff bits 63:48 of virt are copies of bit 47.
func IsCanonical(virt uint64) bool {
	return virt <= lowerTop || virt >= upperBottom
}

// ParseAddr parses a hexadecimal address, with or without a 0x prefix.
//
// The all-ones value is rejected, as are empty and malformed strings. Errors
// match ErrInvalidInput.
func ParseAddr(s string) (uint64, error) {
	t := strings.TrimSpace(s)
	t = strings.TrimPrefix(strings.TrimPrefix(t, "0x"), "0X")
	if t == "" {
		return 0, invalidInput("address", s, "empty")
	}
	v, err := strconv.ParseUint(t, 16, 64)
	if err != nil {
		return 0, invalidInput("address", s, "must be a hexadecimal within the virtual address space")
	}
	if v == ^uint64(0) {
		return 0, invalidInput("address", s, "out of range")
	}
	return v, nil
}
