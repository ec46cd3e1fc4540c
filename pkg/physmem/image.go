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

// Package physmem provides sources of guest physical memory.
//
// All readers return 64-bit little-endian words at 8-byte aligned physical
// addresses and report failures as errors matching ErrUnreadable. None of
// them retries a failed read.
package physmem

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrUnreadable is matched by errors for memory that could not be read.
	ErrUnreadable = errors.New("cannot access memory")

	// ErrUnaligned is returned for addresses that are not 8-byte aligned.
	ErrUnaligned = errors.New("unaligned physical address")
)

const wordSize = 8

// span is a half-open range of physical addresses.
type span struct {
	start, end uint64
}

// Image is a sparse in-memory physical address space.
//
// Words that were never set read as zero. Ranges marked unreadable fail.
// Image counts every word read so that callers can check access patterns.
//
// Image is not safe for concurrent use.
type Image struct {
	words    map[uint64]uint64
	holes    []span
	reads    map[uint64]int
	requests int
}

// NewImage returns an empty image.
func NewImage() *Image {
	return &Image{
		words: make(map[uint64]uint64),
		reads: make(map[uint64]int),
	}
}

// Set stores v at addr.
//
// Precondition: addr is 8-byte aligned.
func (m *Image) Set(addr, v uint64) {
	if addr%wordSize != 0 {
		panic(fmt.Sprintf("unaligned address %#x", addr))
	}
	m.words[addr] = v
}

// Get returns the word stored at addr without counting a read.
func (m *Image) Get(addr uint64) uint64 {
	return m.words[addr]
}

// MarkUnreadable makes reads in [start, end) fail.
func (m *Image) MarkUnreadable(start, end uint64) {
	m.holes = append(m.holes, span{start, end})
	sort.Slice(m.holes, func(i, j int) bool {
		return m.holes[i].start < m.holes[j].start
	})
}

func (m *Image) readable(addr uint64) bool {
	for _, h := range m.holes {
		if addr >= h.start && addr < h.end {
			return false
		}
	}
	return true
}

func (m *Image) read(addr uint64) (uint64, error) {
	if addr%wordSize != 0 {
		return 0, ErrUnaligned
	}
	if !m.readable(addr) {
		return 0, fmt.Errorf("%w at %#x", ErrUnreadable, addr)
	}
	m.reads[addr]++
	return m.words[addr], nil
}

// ReadEntry implements pagetables.Reader.ReadEntry.
func (m *Image) ReadEntry(addr uint64) (uint64, error) {
	m.requests++
	return m.read(addr)
}

// ReadEntries implements pagetables.BlockReader.ReadEntries.
func (m *Image) ReadEntries(addr uint64, dst []uint64) error {
	m.requests++
	for i := range dst {
		v, err := m.read(addr + uint64(i)*wordSize)
		if err != nil {
			return err
		}
		dst[i] = v
	}
	return nil
}

// Reads returns the number of times the word at addr was read.
func (m *Image) Reads(addr uint64) int {
	return m.reads[addr]
}

// ReadsIn returns the number of word reads in [start, end).
func (m *Image) ReadsIn(start, end uint64) int {
	n := 0
	for a, c := range m.reads {
		if a >= start && a < end {
			n += c
		}
	}
	return n
}

// Requests returns the number of ReadEntry and ReadEntries calls.
func (m *Image) Requests() int {
	return m.requests
}

// ResetCounts clears all read accounting.
func (m *Image) ResetCounts() {
	m.reads = make(map[uint64]int)
	m.requests = 0
}
