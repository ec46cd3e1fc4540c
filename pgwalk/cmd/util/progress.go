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
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const spinnerInterval = 100 * time.Millisecond

// Progress runs fn while animating a spinner on out. The spinner is only
// drawn when out is a terminal. The spinner is erased before Progress
// returns the error of fn.
func Progress(ctx context.Context, out io.Writer, fn func(context.Context) error) error {
	if f, ok := out.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		return fn(ctx)
	}
	return spin(ctx, out, spinnerInterval, fn)
}

func spin(ctx context.Context, out io.Writer, interval time.Duration, fn func(context.Context) error) error {
	done := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(done)
		return fn(gctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for frame := 0; ; frame++ {
			fmt.Fprintf(out, "%s\b", spinnerFrames[frame%len(spinnerFrames)])
			select {
			case <-done:
				fmt.Fprint(out, " \b")
				return nil
			case <-ticker.C:
			}
		}
	})
	return g.Wait()
}
