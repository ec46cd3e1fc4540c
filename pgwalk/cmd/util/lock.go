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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"gvisor.dev/pgwalk/pkg/log"
)

const lockRetryDelay = 50 * time.Millisecond

// LockFile returns the lock file guarding a monitor address. Unix sockets
// are locked next to the socket; other addresses in the temporary directory.
func LockFile(addr string) string {
	if strings.HasPrefix(addr, "tcp:") {
		name := strings.NewReplacer(":", "_", "/", "_").Replace(addr)
		return filepath.Join(os.TempDir(), "pgwalk-"+name+".lock")
	}
	return strings.TrimPrefix(addr, "unix:") + ".lock"
}

// LockMonitor takes a file lock for the monitor at addr, so that two
// sessions do not interleave commands on the same monitor. It waits until
// the lock is free or ctx is done, and returns the unlock function.
func LockMonitor(ctx context.Context, addr string) (func() error, error) {
	f := LockFile(addr)
	l := flock.New(f)
	locked, err := l.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("error acquiring lock on monitor lock file %q: %w", f, err)
	}
	if !locked {
		return nil, fmt.Errorf("monitor lock file %q is held by another process", f)
	}
	log.Debugf("Locked %q", f)
	return l.Unlock, nil
}
