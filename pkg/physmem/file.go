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

package physmem

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"golang.org/x/sys/unix"
)

// File reads physical memory from a file such as /dev/mem, a QEMU
// memory-backend-file or a raw dump. Physical address 0 is at Offset in the
// file.
type File struct {
	f      *os.File
	offset int64
}

// OpenFile opens path read-only.
func OpenFile(path string, offset int64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("opening memory file: %w", err)
	}
	return NewFile(f, offset), nil
}

// NewFile returns a File reading from f. It takes ownership of f.
func NewFile(f *os.File, offset int64) *File {
	return &File{f: f, offset: offset}
}

// Close closes the underlying file.
func (f *File) Close() error {
	return f.f.Close()
}

// pread fills b from physical address addr.
func (f *File) pread(b []byte, addr uint64) error {
	if addr%wordSize != 0 {
		return ErrUnaligned
	}
	if addr > math.MaxInt64-uint64(f.offset) {
		return fmt.Errorf("%w at %#x: beyond file range", ErrUnreadable, addr)
	}
	off := f.offset + int64(addr)
	for len(b) > 0 {
		n, err := unix.Pread(int(f.f.Fd()), b, off)
		if err != nil {
			return fmt.Errorf("%w at %#x: %v", ErrUnreadable, addr, err)
		}
		if n == 0 {
			return fmt.Errorf("%w at %#x: end of file", ErrUnreadable, addr)
		}
		b = b[n:]
		off += int64(n)
	}
	return nil
}

// ReadEntry implements pagetables.Reader.ReadEntry.
func (f *File) ReadEntry(addr uint64) (uint64, error) {
	var b [wordSize]byte
	if err := f.pread(b[:], addr); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// ReadEntries implements pagetables.BlockReader.ReadEntries. The whole range
// is fetched with a single pread when possible.
func (f *File) ReadEntries(addr uint64, dst []uint64) error {
	b := make([]byte, len(dst)*wordSize)
	if err := f.pread(b, addr); err != nil {
		return err
	}
	for i := range dst {
		dst[i] = binary.LittleEndian.Uint64(b[i*wordSize:])
	}
	return nil
}
