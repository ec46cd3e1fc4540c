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
	"fmt"
)

// ErrReaderClosed is matched by reader errors after which no later read can
// succeed, such as a lost connection to a remote monitor. Scans and tree
// builds stop on it instead of recording the slot as unreadable.
var ErrReaderClosed = errors.New("reader closed")

// Reader reads raw table entries from physical memory.
//
// Each call may be a full round trip to a remote introspection channel.
// Timeouts, if any, are the responsibility of the implementation.
type Reader interface {
	// ReadEntry returns the 64-bit little-endian value at addr.
	//
	// Precondition: addr is 8-byte aligned.
	ReadEntry(addr uint64) (uint64, error)
}

// BlockReader is a Reader that can fetch consecutive entries in one request.
type BlockReader interface {
	Reader

	// ReadEntries fills dst with the len(dst) consecutive entries starting
	// at addr. Either all of dst is filled or an error is returned.
	//
	// Precondition: addr is 8-byte aligned.
	ReadEntries(addr uint64, dst []uint64) error
}

// readTable reads all entries of the table at base.
//
// A single batched read is used when r supports it. Otherwise entries are
// read one at a time and the first failure aborts the table.
func readTable(r Reader, base uint64, t *[EntriesPerTable]Entry) error {
	var raw [EntriesPerTable]uint64
	if br, ok := r.(BlockReader); ok {
		if err := br.ReadEntries(base, raw[:]); err != nil {
			return err
		}
	} else {
		for i := range raw {
			v, err := r.ReadEntry(base + uint64(i)*EntrySize)
			if err != nil {
				return fmt.Errorf("entry %d: %w", i, err)
			}
			raw[i] = v
		}
	}
	for i, v := range raw {
		t[i] = Entry(v)
	}
	return nil
}
