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
	"strings"
)

// Attribute is a named bit of a table entry.
type Attribute int

// Entry attributes, in report order.
const (
	AttrPresent Attribute = iota
	AttrHuge
	AttrReadWrite
	AttrUserSupervisor
	AttrWriteThrough
	AttrCacheDisabled
	AttrAccessed
	AttrDirty
	AttrGlobal
	AttrPAT
	AttrNoExecute

	numAttributes
)

var attributeNames = [numAttributes]string{
	AttrPresent:        "Present",
	AttrHuge:           "Huge",
	AttrReadWrite:      "ReadWrite",
	AttrUserSupervisor: "UserSupervisor",
	AttrWriteThrough:   "WriteThrough",
	AttrCacheDisabled:  "CacheDisabled",
	AttrAccessed:       "Accessed",
	AttrDirty:          "Dirty",
	AttrGlobal:         "Global",
	AttrPAT:            "PAT",
	AttrNoExecute:      "NX",
}

// String implements fmt.Stringer.
func (a Attribute) String() string {
	if a < 0 || a >= numAttributes {
		return fmt.Sprintf("Attribute(%d)", int(a))
	}
	return attributeNames[a]
}

// Attributes returns all attributes in report order.
func Attributes() []Attribute {
	as := make([]Attribute, numAttributes)
	for i := range as {
		as[i] = Attribute(i)
	}
	return as
}

// Flags is an entry decoded at a given level.
type Flags struct {
	Level Level
	Entry Entry
}

// Decode decodes e as an entry found at level l.
func Decode(l Level, e Entry) Flags {
	return Flags{Level: l, Entry: e}
}

// page returns true iff the entry maps a page rather than a table.
func (f Flags) page() bool {
	return f.Level == PT || (f.Level.MayBeHuge() && f.Entry.IsSuper())
}

// Get returns the value of a, and whether a has a meaning for this entry at
// all. Dirty, Global and PAT only apply to entries that map a page; Huge
// only applies at the PUD and PMD levels.
func (f Flags) Get(a Attribute) (set bool, applicable bool) {
	e := f.Entry
	switch a {
	case AttrPresent:
		return e&present != 0, true
	case AttrHuge:
		return e&super != 0, f.Level.MayBeHuge()
	case AttrReadWrite:
		return e&writable != 0, true
	case AttrUserSupervisor:
		return e&user != 0, true
	case AttrWriteThrough:
		return e&writeThrough != 0, true
	case AttrCacheDisabled:
		return e&cacheDisable != 0, true
	case AttrAccessed:
		return e&accessed != 0, true
	case AttrDirty:
		return e&dirty != 0, f.page()
	case AttrGlobal:
		return e&global != 0, f.page()
	case AttrPAT:
		if !f.page() {
			return false, false
		}
		if f.Level == PT {
			// Bit 7 is the PAT bit in a 4K entry.
			return e&super != 0, true
		}
		return e&patHuge != 0, true
	case AttrNoExecute:
		return e&executeDisable != 0, true
	default:
		return false, false
	}
}

// String returns the names of the set attributes.
func (f Flags) String() string {
	var set []string
	for _, a := range Attributes() {
		if v, ok := f.Get(a); ok && v {
			set = append(set, a.String())
		}
	}
	return fmt.Sprintf("%v(%#x)[%s]", f.Level, uint64(f.Entry), strings.Join(set, " "))
}
