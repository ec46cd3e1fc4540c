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

// Package scan walks ranges of virtual addresses.
//
// A scan translates one address per step. Unmapped addresses are reported
// to the caller like mapped ones. Unreadable tables are counted and skipped;
// long runs of them are reported as deserts.
package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gvisor.dev/pgwalk/pkg/log"
	"gvisor.dev/pgwalk/pkg/pagetables"
)

const (
	// DefaultThreshold is the number of consecutive unreadable steps after
	// which a desert is reported.
	DefaultThreshold = 128

	// MinStep and MaxStep bound the scan step.
	MinStep = 0x1000
	MaxStep = 1 << 30

	// faultLogInterval limits per-step fault logging.
	faultLogInterval = time.Second
)

// EventKind is the kind of a scan event.
type EventKind int

// Event kinds.
const (
	// EventDesertEntered is sent when the number of consecutive unreadable
	// steps reaches the threshold.
	EventDesertEntered EventKind = iota

	// EventDesertLeft is sent on the first readable step after a desert.
	EventDesertLeft
)

// String implements fmt.Stringer.
func (k EventKind) String() string {
	switch k {
	case EventDesertEntered:
		return "entered unreadable desert"
	case EventDesertLeft:
		return "left unreadable desert"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a diagnostic reported during a scan.
type Event struct {
	Kind EventKind

	// Virtual is the address of the step that caused the event.
	Virtual uint64

	// Count is the number of consecutive unreadable steps so far.
	Count int
}

// Stats counts the outcomes of a scan.
type Stats struct {
	Steps      int
	Mapped     int
	NotMapped  int
	Unreadable int
	Deserts    int
	Matches    int
}

// Visitor is called for each readable step, with either a translation or a
// NotMapped fault.
type Visitor func(virt uint64, t pagetables.Translation, err error)

// Validate checks the parameters of a scan. It returns an error matching
// pagetables.ErrInvalidInput.
func Validate(begin, end, step uint64) error {
	if begin >= end {
		return &pagetables.InputError{
			Arg:    "range",
			Value:  fmt.Sprintf("%#x-%#x", begin, end),
			Reason: "begin address must be less than end address",
		}
	}
	if step < MinStep || step > MaxStep {
		return &pagetables.InputError{
			Arg:    "step",
			Value:  fmt.Sprintf("%#x", step),
			Reason: fmt.Sprintf("must be in [%#x, %#x]", MinStep, MaxStep),
		}
	}
	return nil
}

// Scanner drives translations over ranges of addresses.
//
// A Scanner may be reused for several scans but not concurrently.
type Scanner struct {
	// Reader reads the tables.
	Reader pagetables.Reader

	// Root is the root of the tables.
	Root pagetables.Root

	// Threshold is the desert threshold. Zero means DefaultThreshold.
	Threshold int

	// OnEvent, if set, receives scan events.
	OnEvent func(Event)

	faults log.Logger
}

// desert tracks consecutive unreadable steps.
type desert struct {
	threshold int
	count     int
}

func (s *Scanner) threshold() int {
	if s.Threshold <= 0 {
		return DefaultThreshold
	}
	return s.Threshold
}

func (s *Scanner) emit(e Event) {
	log.Debugf("Scan %v at %#x after %d unreadable steps", e.Kind, e.Virtual, e.Count)
	if s.OnEvent != nil {
		s.OnEvent(e)
	}
}

// unreadable records an unreadable step.
func (s *Scanner) unreadable(d *desert, stats *Stats, virt uint64, err error) {
	stats.Unreadable++
	d.count++
	if s.faults.IsLogging(log.Debug) {
		s.faults.Debugf("Scan step %#x: %v", virt, err)
	}
	if d.count == d.threshold {
		stats.Deserts++
		s.emit(Event{Kind: EventDesertEntered, Virtual: virt, Count: d.count})
	}
}

// readable records a readable step.
func (s *Scanner) readable(d *desert, virt uint64) {
	if d.count >= d.threshold {
		s.emit(Event{Kind: EventDesertLeft, Virtual: virt, Count: d.count})
	}
	d.count = 0
}

// walk translates every address of [begin, end) at the given stride and
// passes the readable ones to fn. ctx is checked before every step.
func (s *Scanner) walk(ctx context.Context, begin, end, step uint64, fn Visitor) (Stats, error) {
	var stats Stats
	if err := Validate(begin, end, step); err != nil {
		return stats, err
	}
	if s.faults == nil {
		s.faults = log.BasicRateLimitedLogger(faultLogInterval)
	}
	d := desert{threshold: s.threshold()}
	for virt := begin; ; virt += step {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Steps++
		t, err := pagetables.Translate(s.Reader, s.Root, virt)
		switch {
		case err == nil:
			stats.Mapped++
		case pagetables.IsNotMapped(err):
			stats.NotMapped++
		case errors.Is(err, pagetables.ErrReaderClosed):
			return stats, err
		case pagetables.IsUnreadable(err):
			s.unreadable(&d, &stats, virt, err)
		default:
			return stats, err
		}
		if !pagetables.IsUnreadable(err) {
			s.readable(&d, virt)
			fn(virt, t, err)
		}

		// Stop before virt+step reaches end or wraps around.
		if end-virt <= step {
			return stats, nil
		}
	}
}

// Scan translates every step of [begin, end) and calls fn for each
// readable step. Steps whose tables cannot be read are counted but not
// passed to fn.
//
// A reader error matching pagetables.ErrReaderClosed stops the scan and is
// returned with the statistics so far.
//
// Invalid parameters are rejected before any read. If ctx is cancelled,
// the scan stops before the next step and returns ctx.Err() with the
// statistics so far.
func (s *Scanner) Scan(ctx context.Context, begin, end, step uint64, fn Visitor) (Stats, error) {
	return s.walk(ctx, begin, end, step, fn)
}
