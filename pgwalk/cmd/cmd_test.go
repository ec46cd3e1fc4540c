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

package cmd

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/pgwalk/pgwalk/config"
	"gvisor.dev/pgwalk/pkg/pagetables"
	"gvisor.dev/pgwalk/pkg/pagetables/ptetest"
	"gvisor.dev/pgwalk/pkg/regions"
	"gvisor.dev/pgwalk/pkg/report"
	"gvisor.dev/pgwalk/pkg/scan"
)

// fixture maps two user pages, leaving 0x402000 unmapped, and one kernel
// text page.
func fixture() *ptetest.Builder {
	b := ptetest.New()
	b.Map(0x400000, 0x7000, pagetables.Size4K, ptetest.Writable|ptetest.User)
	b.Map(0x401000, 0x8000, pagetables.Size4K, ptetest.Writable|ptetest.User)
	b.Map(0xffffffff81000000, 0x1000000, pagetables.Size2M, ptetest.Global)
	return b
}

func TestParseRange(t *testing.T) {
	for _, tc := range []struct {
		args                   []string
		begin, end, step       uint64
		wantErr, invalidInput bool
	}{
		{args: []string{"0x400000", "0x500000"}, begin: 0x400000, end: 0x500000, step: 0x1000},
		{args: []string{"400000", "500000", "200000"}, begin: 0x400000, end: 0x500000, step: 0x200000},
		{args: []string{"0x400000"}, wantErr: true},
		{args: []string{"0x500000", "0x400000"}, wantErr: true, invalidInput: true},
		{args: []string{"0x400000", "0x500000", "0x10"}, wantErr: true, invalidInput: true},
		{args: []string{"0x400000", "zz"}, wantErr: true, invalidInput: true},
	} {
		t.Run(strings.Join(tc.args, " "), func(t *testing.T) {
			begin, end, step, err := parseRange(tc.args)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("parseRange(%v) succeeded", tc.args)
				}
				if got := errors.Is(err, pagetables.ErrInvalidInput); got != tc.invalidInput {
					t.Errorf("errors.Is(%v, ErrInvalidInput) = %t, want %t", err, got, tc.invalidInput)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseRange(%v): %v", tc.args, err)
			}
			if begin != tc.begin || end != tc.end || step != tc.step {
				t.Errorf("parseRange(%v) = %#x, %#x, %#x, want %#x, %#x, %#x", tc.args, begin, end, step, tc.begin, tc.end, tc.step)
			}
		})
	}
}

func TestWalkAddrsText(t *testing.T) {
	b := fixture()
	var out bytes.Buffer
	addrs := []uint64{0xffffffff81000123, 0x402000}
	if err := walkAddrs(&out, b.Mem, b.Root, regions.Default(), addrs, report.FormatText); err != nil {
		t.Fatalf("walkAddrs: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"0xffffffff81000123",
		"HUGE 2M",
		"0x1000123",
		"region: kernel_text",
		"region: userspace",
		"address does not exist",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output does not contain %q:\n%s", want, got)
		}
	}
}

func TestWalkAddrsJSON(t *testing.T) {
	b := fixture()
	var out bytes.Buffer
	if err := walkAddrs(&out, b.Mem, b.Root, regions.Default(), []uint64{0x401abc}, report.FormatJSON); err != nil {
		t.Fatalf("walkAddrs: %v", err)
	}
	var walks []report.Walk
	if err := json.Unmarshal(out.Bytes(), &walks); err != nil {
		t.Fatalf("Unmarshal(%s): %v", out.String(), err)
	}
	if len(walks) != 1 {
		t.Fatalf("got %d walks, want 1", len(walks))
	}
	if w := walks[0]; w.Physical != "0x8abc" || w.Region != "userspace" || w.Fault != "" {
		t.Errorf("walk = %+v", w)
	}
}

func TestWalkAddrsUnreadable(t *testing.T) {
	b := fixture()
	b.Mem.MarkUnreadable(b.Table(0x400000, pagetables.PT), b.Table(0x400000, pagetables.PT)+0x1000)
	var out bytes.Buffer
	if err := walkAddrs(&out, b.Mem, b.Root, regions.Default(), []uint64{0x400000}, report.FormatJSON); err != nil {
		t.Fatalf("walkAddrs: %v", err)
	}
	var walks []report.Walk
	if err := json.Unmarshal(out.Bytes(), &walks); err != nil {
		t.Fatalf("Unmarshal(%s): %v", out.String(), err)
	}
	if len(walks) != 1 || walks[0].Fault == "" || walks[0].Physical != "N/A" {
		t.Errorf("walks = %+v, want one unreadable walk", walks)
	}
}

func TestRange(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mapped bool
		walks  int
	}{
		{name: "all", walks: 3},
		{name: "mapped", mapped: true, walks: 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := fixture()
			s := &scan.Scanner{Reader: b.Mem, Root: b.Root}
			rg := &Range{mapped: tc.mapped}
			var out bytes.Buffer
			if err := rg.run(context.Background(), &out, s, 0x400000, 0x403000, 0x1000, report.FormatText); err != nil {
				t.Fatalf("run: %v", err)
			}
			got := out.String()
			if n := strings.Count(got, "index:"); n != tc.walks {
				t.Errorf("got %d walks, want %d:\n%s", n, tc.walks, got)
			}
			if want := "3 steps: 2 mapped, 1 not mapped, 0 unreadable, 0 deserts\n"; !strings.HasSuffix(got, want) {
				t.Errorf("output does not end with %q:\n%s", want, got)
			}
		})
	}
}

func TestRangeYAML(t *testing.T) {
	b := fixture()
	s := &scan.Scanner{Reader: b.Mem, Root: b.Root}
	var out bytes.Buffer
	if err := (&Range{}).run(context.Background(), &out, s, 0x400000, 0x402000, 0x1000, report.FormatYAML); err != nil {
		t.Fatalf("run: %v", err)
	}
	if n := strings.Count(out.String(), "- virtual: "); n != 2 {
		t.Errorf("got %d walks, want 2:\n%s", n, out.String())
	}
	if strings.Contains(out.String(), "steps:") {
		t.Errorf("YAML output contains the text summary:\n%s", out.String())
	}
}

func TestRangeCancel(t *testing.T) {
	b := fixture()
	s := &scan.Scanner{Reader: b.Mem, Root: b.Root}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	err := (&Range{}).run(ctx, &out, s, 0x400000, 0x402000, 0x1000, report.FormatText)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("run() = %v, want %v", err, context.Canceled)
	}
}

func TestSearch(t *testing.T) {
	b := fixture()
	s := &scan.Scanner{Reader: b.Mem, Root: b.Root}
	var out bytes.Buffer
	if err := search(context.Background(), &out, s, 0x400000, 0x403000, 0x1000, 0x8abc, scan.LevelFrame); err != nil {
		t.Fatalf("search: %v", err)
	}
	want := "0x0000000000401abc phys\n" +
		"3 steps: 2 mapped, 1 not mapped, 0 unreadable, 0 deserts\n" +
		"1 matches for 0x8abc\n"
	if diff := cmp.Diff(want, out.String()); diff != "" {
		t.Errorf("search output mismatch (-want +got):\n%s", diff)
	}
}

func TestSearchDesert(t *testing.T) {
	b := fixture()
	pt := b.Table(0x400000, pagetables.PT)
	b.Mem.MarkUnreadable(pt, pt+0x1000)
	var events bytes.Buffer
	s := &scan.Scanner{Reader: b.Mem, Root: b.Root, Threshold: 2, OnEvent: printEvents(&events)}
	var out bytes.Buffer
	if err := search(context.Background(), &out, s, 0x400000, 0x601000, 0x1000, 0x7000, scan.LevelAny); err != nil {
		t.Fatalf("search: %v", err)
	}
	want := "entered unreadable desert at 0x0000000000401000 (2 unreadable steps)\n" +
		"left unreadable desert at 0x0000000000600000 after 512 unreadable steps\n"
	if events.String() != want {
		t.Errorf("events = %q, want %q", events.String(), want)
	}
}

func TestFlagScan(t *testing.T) {
	b := fixture()
	for _, tc := range []struct {
		virt     uint64
		contains string
	}{
		{virt: 0x401000, contains: "0x007"},
		{virt: 0x402000, contains: "address does not exist"},
	} {
		var out bytes.Buffer
		if err := flagScan(&out, b.Mem, b.Root, tc.virt, false); err != nil {
			t.Errorf("flagScan(%#x): %v", tc.virt, err)
			continue
		}
		if !strings.Contains(out.String(), tc.contains) {
			t.Errorf("flagScan(%#x) output does not contain %q:\n%s", tc.virt, tc.contains, out.String())
		}
	}
}

func TestFlagScanUnreadable(t *testing.T) {
	b := fixture()
	pt := b.Table(0x400000, pagetables.PT)
	b.Mem.MarkUnreadable(pt, pt+0x1000)
	var out bytes.Buffer
	err := flagScan(&out, b.Mem, b.Root, 0x400000, false)
	if !pagetables.IsUnreadable(err) {
		t.Errorf("flagScan() = %v, want an unreadable fault", err)
	}
	if !strings.Contains(out.String(), "Hex") {
		t.Errorf("partial table not written:\n%s", out.String())
	}
}

func TestWriteCatalog(t *testing.T) {
	var out bytes.Buffer
	if err := writeCatalog(&out, regions.Default()); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	if len(lines) != len(regions.Default()) {
		t.Fatalf("got %d lines, want %d", len(lines), len(regions.Default()))
	}
	if want := "kernel_text        0xffffffff80000000-0xffffffff9fffffff  512 MiB"; !strings.Contains(out.String(), want) {
		t.Errorf("output does not contain %q:\n%s", want, out.String())
	}
}

func TestSplitNames(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want []string
	}{
		{in: "", want: nil},
		{in: "kernel_text", want: []string{"kernel_text"}},
		{in: " modules, ,fixmap ", want: []string{"modules", "fixmap"}},
	} {
		if diff := cmp.Diff(tc.want, splitNames(tc.in)); diff != "" {
			t.Errorf("splitNames(%q) mismatch (-want +got):\n%s", tc.in, diff)
		}
	}
}

func TestUseColor(t *testing.T) {
	var out bytes.Buffer
	for _, tc := range []struct {
		mode config.ColorMode
		want bool
	}{
		{mode: config.ColorAlways, want: true},
		{mode: config.ColorNever, want: false},
		{mode: config.ColorAuto, want: false},
	} {
		if got := useColor(tc.mode, &out); got != tc.want {
			t.Errorf("useColor(%v) = %t, want %t", tc.mode, got, tc.want)
		}
	}
}

func TestOpenReader(t *testing.T) {
	const offset = 0x40
	path := filepath.Join(t.TempDir(), "mem.img")
	img := make([]byte, offset+0x2000)
	binary.LittleEndian.PutUint64(img[offset+0x1000:], 0x2003)
	if err := os.WriteFile(path, img, 0644); err != nil {
		t.Fatal(err)
	}

	conf := &config.Config{Memory: path, MemoryOffset: offset, CR3: 0x1000}
	r, release, err := openReader(context.Background(), conf)
	if err != nil {
		t.Fatalf("openReader: %v", err)
	}
	defer release()
	if v, err := r.ReadEntry(0x1000); err != nil || v != 0x2003 {
		t.Errorf("ReadEntry(0x1000) = %#x, %v, want 0x2003", v, err)
	}
}

func TestOpenReaderErrors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.img")
	for _, tc := range []struct {
		name string
		conf config.Config
	}{
		{name: "no memory", conf: config.Config{CR3: 0x1000}},
		{name: "no cr3", conf: config.Config{Memory: missing}},
		{name: "missing file", conf: config.Config{Memory: missing, CR3: 0x1000}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := openReader(context.Background(), &tc.conf); err == nil {
				t.Errorf("openReader() succeeded")
			}
		})
	}
}
