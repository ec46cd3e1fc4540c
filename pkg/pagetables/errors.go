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
	"errors"
	"fmt"
)

// ErrInvalidInput is matched by errors for malformed caller input. Such
// errors are always returned before any memory is read.
var ErrInvalidInput = errors.New("invalid input")

// InputError describes a rejected argument.
type InputError struct {
	// Arg names the argument.
	Arg string

	// Value is the rejected value as supplied.
	Value string

	// Reason says what is wrong with it.
	Reason string
}

// Error implements error.Error.
func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Arg, e.Value, e.Reason)
}

// Is implements errors.Is for ErrInvalidInput.
func (e *InputError) Is(target error) bool {
	return target == ErrInvalidInput
}

func invalidInput(arg, value, reason string) error {
	return &InputError{Arg: arg, Value: value, Reason: reason}
}

// FaultKind distinguishes why a walk stopped.
type FaultKind int

const (
	// NotMapped means the present bit was clear at some level. This is an
	// ordinary "no translation" outcome.
	NotMapped FaultKind = iota

	// Unreadable means the reader could not fetch a slot.
	Unreadable
)

// String implements fmt.Stringer.
func (k FaultKind) String() string {
	switch k {
	case NotMapped:
		return "not mapped"
	case Unreadable:
		return "unreadable"
	default:
		return fmt.Sprintf("FaultKind(%d)", int(k))
	}
}

// Fault is returned when a walk cannot produce a translation.
type Fault struct {
	// Kind is the fault kind.
	Kind FaultKind

	// Level is the level at which the walk stopped.
	Level Level

	// Addr is the physical address of the slot that could not be read or
	// that held a non-present entry.
	Addr uint64

	// Partial is the state of the walk up to and including the failing
	// level. It is never a valid translation: Partial.Physical is zero.
	Partial Translation

	// Err is the reader error for Unreadable faults.
	Err error
}

// Error implements error.Error.
func (f *Fault) Error() string {
	switch f.Kind {
	case Unreadable:
		return fmt.Sprintf("%v slot %#x for %#x unreadable: %v", f.Level, f.Addr, f.Partial.Virtual, f.Err)
	default:
		return fmt.Sprintf("address %#x does not exist: %v entry at %#x not present", f.Partial.Virtual, f.Level, f.Addr)
	}
}

// Unwrap returns the reader error, if any.
func (f *Fault) Unwrap() error {
	return f.Err
}

// IsNotMapped returns true iff err is a NotMapped fault.
func IsNotMapped(err error) bool {
	var f *Fault
	return errors.As(err, &f) && f.Kind == NotMapped
}

// IsUnreadable returns true iff err is an Unreadable fault.
func IsUnreadable(err error) bool {
	var f *Fault
	return errors.As(err, &f) && f.Kind == Unreadable
}
