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

package util

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestProgressNotTerminal(t *testing.T) {
	var out bytes.Buffer
	called := false
	err := Progress(context.Background(), &out, func(context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("Progress() = %v", err)
	}
	if !called {
		t.Errorf("fn not called")
	}
	if out.Len() != 0 {
		t.Errorf("Progress wrote %q to a non-terminal", out.String())
	}
}

func TestSpin(t *testing.T) {
	var out bytes.Buffer
	want := errors.New("table read failed")
	err := spin(context.Background(), &out, time.Millisecond, func(context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("spin() = %v, want %v", err, want)
	}
	got := out.String()
	if !strings.HasPrefix(got, spinnerFrames[0]+"\b") {
		t.Errorf("spinner output %q does not start with the first frame", got)
	}
	if !strings.HasSuffix(got, " \b") {
		t.Errorf("spinner output %q is not erased", got)
	}
}

func TestSpinCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var out bytes.Buffer
	err := spin(ctx, &out, time.Millisecond, func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("spin() = %v, want %v", err, context.Canceled)
	}
}

func TestLockFile(t *testing.T) {
	for _, tc := range []struct {
		addr string
		want string
	}{
		{addr: "/tmp/qemu.sock", want: "/tmp/qemu.sock.lock"},
		{addr: "unix:/tmp/qemu.sock", want: "/tmp/qemu.sock.lock"},
	} {
		if got := LockFile(tc.addr); got != tc.want {
			t.Errorf("LockFile(%q) = %q, want %q", tc.addr, got, tc.want)
		}
	}
	if got := filepath.Base(LockFile("tcp:localhost:4444")); got != "pgwalk-tcp_localhost_4444.lock" {
		t.Errorf("LockFile(tcp) = %q", got)
	}
}

func TestLockMonitor(t *testing.T) {
	addr := filepath.Join(t.TempDir(), "monitor.sock")
	unlock, err := LockMonitor(context.Background(), addr)
	if err != nil {
		t.Fatalf("LockMonitor() = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := LockMonitor(ctx, addr); err == nil {
		t.Errorf("second LockMonitor() succeeded while the lock is held")
	}

	if err := unlock(); err != nil {
		t.Fatalf("unlock() = %v", err)
	}
	unlock, err = LockMonitor(context.Background(), addr)
	if err != nil {
		t.Fatalf("LockMonitor() after unlock = %v", err)
	}
	unlock()
}
