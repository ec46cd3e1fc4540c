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

package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gvisor.dev/pgwalk/pkg/pagetables"
)

// Level selects what a search compares with its target.
type Level int

// Search levels.
const (
	// LevelPGD through LevelPT match the table page holding the slot used
	// at that level.
	LevelPGD Level = iota
	LevelPUD
	LevelPMD
	LevelPT

	// LevelFrame matches the 4K frame holding the translated address.
	LevelFrame

	// LevelAny matches any of the above.
	LevelAny
)

var levelNames = map[Level]string{
	LevelPGD:   "pgd",
	LevelPUD:   "pud",
	LevelPMD:   "pmd",
	LevelPT:    "pt",
	LevelFrame: "phys",
	LevelAny:   "any",
}

// String implements fmt.Stringer.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// ParseLevel parses a level name as printed by Level.String.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(s)
	for l, name := range levelNames {
		if name == s {
			return l, nil
		}
	}
	if s == "frame" {
		return LevelFrame, nil
	}
	return 0, &pagetables.InputError{
		Arg:    "level",
		Value:  s,
		Reason: "must be one of pgd, pud, pmd, pt, phys, any",
	}
}

// NormalizeTarget splits target into its 4K frame and the offset within it.
func NormalizeTarget(target uint64) (aligned, offset uint64) {
	const mask = uint64(pagetables.Size4K) - 1
	return target &^ mask, target & mask
}

// Match is a search hit.
type Match struct {
	// Virtual is the matching address plus the target offset.
	Virtual uint64

	// Level is the level that matched.
	Level Level
}

// matchLevel returns the first level of t that matches aligned under the
// requested level.
func matchLevel(t *pagetables.Translation, mapped bool, aligned uint64, want Level) (Level, bool) {
	for l := pagetables.PGD; l <= pagetables.PT; l++ {
		if want != LevelAny && want != Level(l) {
			continue
		}
		if slot, ok := t.Slot(l); ok && slot&^pagetables.Size4K.Mask() == aligned {
			return Level(l), true
		}
	}
	if (want == LevelAny || want == LevelFrame) && mapped && t.Frame() == aligned {
		return LevelFrame, true
	}
	return 0, false
}

// faultPartial returns the partial walk carried by a fault.
func faultPartial(err error) pagetables.Translation {
	var f *pagetables.Fault
	if errors.As(err, &f) {
		return f.Partial
	}
	return pagetables.Translation{}
}

// Search scans [begin, end) like Scan and calls fn for every step where
// the address at the given level falls in the same 4K page as target.
//
// Slot levels compare the page of the table holding the slot, and are
// also matched for addresses whose walk stopped at a non-present entry
// below that level. Each match reports its address plus the offset of
// target within its page.
func (s *Scanner) Search(ctx context.Context, begin, end, step, target uint64, level Level, fn func(Match)) (Stats, error) {
	if _, ok := levelNames[level]; !ok {
		return Stats{}, &pagetables.InputError{Arg: "level", Value: level.String(), Reason: "unknown level"}
	}
	aligned, offset := NormalizeTarget(target)
	matches := 0
	stats, err := s.walk(ctx, begin, end, step, func(virt uint64, t pagetables.Translation, err error) {
		if err != nil {
			t = faultPartial(err)
		}
		if l, ok := matchLevel(&t, err == nil, aligned, level); ok {
			matches++
			fn(Match{Virtual: virt + offset, Level: l})
		}
	})
	stats.Matches = matches
	return stats, err
}
