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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
	"gvisor.dev/pgwalk/pkg/pagetables"
)

// Format is an output format for walk reports.
type Format string

// Supported formats.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q, must be one of: text, json, yaml", s)
	}
}

// placeholder is written for values the walk did not reach.
const placeholder = "N/A"

// Walk is the report of a single address translation.
//
// Slot addresses are present up to the level where the walk stopped. Fields
// are hex strings so that structured output stays readable.
type Walk struct {
	Virtual  string    `json:"virtual" yaml:"virtual"`
	Indices  [4]uint16 `json:"indices" yaml:"indices,flow"`
	Slots    [4]string `json:"slots" yaml:"slots,flow"`
	Entries  [4]string `json:"entries" yaml:"entries,flow"`
	Huge     bool      `json:"huge" yaml:"huge"`
	Size     string    `json:"size,omitempty" yaml:"size,omitempty"`
	Physical string    `json:"physical" yaml:"physical"`
	Region   string    `json:"region,omitempty" yaml:"region,omitempty"`
	Fault    string    `json:"fault,omitempty" yaml:"fault,omitempty"`
}

// NewWalk builds the report for the result of pagetables.Translate. If err
// is a *pagetables.Fault, the partial walk is reported with the fault. Any
// other error is returned.
func NewWalk(virt uint64, t pagetables.Translation, err error) (Walk, error) {
	var f *pagetables.Fault
	if err != nil {
		if !errors.As(err, &f) {
			return Walk{}, err
		}
		t = f.Partial
		t.Virtual = virt
		t.Indices = pagetables.IndicesOf(virt)
	}

	w := Walk{
		Virtual:  fmt.Sprintf("0x%016x", virt),
		Physical: placeholder,
	}
	for l := pagetables.PGD; l <= pagetables.PT; l++ {
		w.Indices[l] = t.Indices.At(l)
		w.Slots[l] = placeholder
		w.Entries[l] = placeholder
		if slot, ok := t.Slot(l); ok {
			w.Slots[l] = fmt.Sprintf("%#x", slot)
			w.Entries[l] = fmt.Sprintf("%#x", uint64(t.Entries[l]))
		}
	}

	switch {
	case err == nil:
		w.Huge = t.Huge()
		w.Size = t.Size.String()
		w.Physical = fmt.Sprintf("%#x", t.Physical)
	case f.Kind == pagetables.NotMapped:
		w.Fault = "address does not exist"
	default:
		// The slot that could not be read is not part of the partial walk.
		w.Slots[f.Level] = fmt.Sprintf("%#x", f.Addr)
		w.Fault = err.Error()
	}
	return w, nil
}

const (
	labelWidth  = 20
	columnWidth = 20
)

// WriteText writes w as a table with one column per level and a final
// column for the physical address.
func (w *Walk) WriteText(out io.Writer) error {
	var sb strings.Builder
	row := func(label string, cells ...string) {
		fmt.Fprintf(&sb, "%-*s", labelWidth, label)
		for _, c := range cells {
			fmt.Fprintf(&sb, "|%-*s", columnWidth, c)
		}
		sb.WriteByte('\n')
	}
	rule := strings.Repeat("-", labelWidth+len(w.Slots)*(columnWidth+1)+columnWidth+1) + "\n"

	huge := ""
	if w.Huge {
		huge = "HUGE " + w.Size
	}
	idx := make([]string, 0, len(w.Indices)+1)
	for _, i := range w.Indices {
		idx = append(idx, fmt.Sprint(i))
	}
	idx = append(idx, huge)

	sb.WriteByte('\n')
	row(w.Virtual, "PGD", "PUD", "PMD", "PT", "PHYS")
	sb.WriteString(rule)
	row("index:", idx...)
	sb.WriteString(rule)
	row("address:", append(w.Slots[:], w.Physical)...)
	row("entry:", w.Entries[:]...)
	if w.Region != "" {
		fmt.Fprintf(&sb, "region: %s\n", w.Region)
	}
	if w.Fault != "" {
		fmt.Fprintf(&sb, "%s\n", w.Fault)
	}
	sb.WriteByte('\n')
	_, err := io.WriteString(out, sb.String())
	return err
}

// WriteWalks writes the given walks in format f. Text walks are written one
// after the other; JSON and YAML write a single list.
func WriteWalks(out io.Writer, f Format, walks []Walk) error {
	switch f {
	case FormatText:
		for i := range walks {
			if err := walks[i].WriteText(out); err != nil {
				return err
			}
		}
		return nil
	case FormatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(walks)
	case FormatYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(walks); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q", f)
	}
}
