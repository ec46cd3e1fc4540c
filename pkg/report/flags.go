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

package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"gvisor.dev/pgwalk/pkg/pagetables"
)

// FlagTable renders decoded entries with one column per level.
type FlagTable struct {
	// Virtual is the address the entries were read for.
	Virtual uint64

	// Flags holds the decoded entries from the PGD down. Levels that were
	// not reached are left blank.
	Flags []pagetables.Flags

	// Color highlights set bits.
	Color bool
}

const flagWidth = 15

// cell pads s to the column width before coloring it, so that escape codes
// do not disturb the alignment.
func cell(s string, c *color.Color) string {
	s = fmt.Sprintf("%-*s", flagWidth, s)
	if c == nil {
		return s
	}
	return c.Sprint(s)
}

// WriteTo writes the table to out.
func (t *FlagTable) WriteTo(out io.Writer) (int64, error) {
	var set, unset, na *color.Color
	if t.Color {
		set = color.New(color.Bold, color.FgHiGreen)
		unset = color.New(color.Faint)
		na = color.New(color.FgYellow)
		for _, c := range []*color.Color{set, unset, na} {
			c.EnableColor()
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "0x%016x\n", t.Virtual)
	fmt.Fprintf(&sb, "%-*s", flagWidth, "")
	for l := pagetables.PGD; l <= pagetables.PT; l++ {
		fmt.Fprintf(&sb, "|%s", cell(l.String(), nil))
	}
	sb.WriteByte('\n')
	sb.WriteString(strings.Repeat("-", (flagWidth+1)*5) + "\n")

	fmt.Fprintf(&sb, "%-*s", flagWidth, "Hex")
	for l := 0; l < 4; l++ {
		v := ""
		if l < len(t.Flags) {
			v = fmt.Sprintf("0x%03X", uint64(t.Flags[l].Entry)&0xfff)
		}
		fmt.Fprintf(&sb, "|%s", cell(v, nil))
	}
	sb.WriteByte('\n')

	for _, a := range pagetables.Attributes() {
		fmt.Fprintf(&sb, "%-*s", flagWidth, a)
		for l := 0; l < 4; l++ {
			var c string
			switch {
			case l >= len(t.Flags):
				c = cell("", nil)
			default:
				v, ok := t.Flags[l].Get(a)
				switch {
				case !ok:
					c = cell("N/a", na)
				case v:
					c = cell("1", set)
				default:
					c = cell("0", unset)
				}
			}
			fmt.Fprintf(&sb, "|%s", c)
		}
		sb.WriteByte('\n')
	}
	n, err := io.WriteString(out, sb.String())
	return int64(n), err
}
