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

package log

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFilePatternPath(t *testing.T) {
	p := FilePattern{
		Command: "dump",
		Start:   time.Date(2026, 3, 7, 9, 4, 5, 123456000, time.UTC),
	}
	for _, tc := range []struct {
		pattern string
		want    string
	}{
		{pattern: "/tmp/pgwalk/", want: "/tmp/pgwalk/pgwalk.log.20260307-090405.123456.dump.txt"},
		{pattern: "/tmp/%COMMAND%.log", want: "/tmp/dump.log"},
		{pattern: "/tmp/pgwalk-%TIMESTAMP%.log", want: "/tmp/pgwalk-20260307-090405.123456.log"},
		{pattern: "/tmp/pgwalk.log", want: "/tmp/pgwalk.log"},
	} {
		if got := p.Path(tc.pattern); got != tc.want {
			t.Errorf("Path(%q) = %q, want %q", tc.pattern, got, tc.want)
		}
	}
}

func TestOpenFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs") + "/"
	p := FilePattern{Command: "walk", Start: time.Now()}
	for i := 0; i < 2; i++ {
		f, err := OpenFile(dir+"%COMMAND%.txt", p)
		if err != nil {
			t.Fatalf("OpenFile: %v", err)
		}
		if _, err := f.WriteString("line\n"); err != nil {
			t.Fatal(err)
		}
		f.Close()
	}
	b, err := os.ReadFile(filepath.Join(dir, "walk.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), "line\nline\n"; got != want {
		t.Errorf("file contents %q, want %q", got, want)
	}
}
