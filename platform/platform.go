/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package platform is the boundary between the core and the host
// kernel: the per-kernel primitive bindings (create/delete), task
// identity, and the timebase sync source. The real per-kernel
// implementations live outside this module; this package defines the
// contracts and carries a minimal in-memory reference sufficient to
// exercise the core's own test suite, not a production RTOS/POSIX
// binding.
package platform

import (
	"context"

	"github.com/gravwell/osal/idclass"
)

type taskIDKey struct{}

// WithTaskID returns a context that identifies the calling task as id:
// task identity threaded over context.Context rather than real
// thread-local storage. Caller identity moves through the call chain
// explicitly instead of faking implicit per-OS-thread state, and it is
// what lets the timebase core detect "am I being asked to reconfigure
// my own timebase from within my own callback" without a registry
// keyed by a native thread id. A timebase's helper loop runs its whole
// iteration under a context built this way, carrying the timebase's
// own ID.
func WithTaskID(ctx context.Context, id idclass.ID) context.Context {
	return context.WithValue(ctx, taskIDKey{}, id)
}

// CurrentTaskID returns the task identity carried on ctx, or
// idclass.Undefined if the context was never tagged — the caller is
// not a task registered with the core.
func CurrentTaskID(ctx context.Context) idclass.ID {
	if ctx == nil {
		return idclass.Undefined
	}
	v := ctx.Value(taskIDKey{})
	if v == nil {
		return idclass.Undefined
	}
	id, ok := v.(idclass.ID)
	if !ok {
		return idclass.Undefined
	}
	return id
}

// ExternalSync is the timebase sync source: it returns the number of
// ticks elapsed since the previous call, or zero to mean "no
// information yet, try again." A timebase substitutes an internal
// timer-wait implementation when created without a user-supplied one
// (see osal/timebase.InternalSync).
type ExternalSync func(localIndex int) (ticks uint32, err error)

// Create builds the class-specific backing object for localIndex using
// args; called with the class lock held (AllocateNew through
// FinalizeNew).
type Create func(localIndex int, args interface{}) error

// Delete tears down the class-specific backing object for localIndex;
// called with the class lock held exclusively (GetById(LockExclusive)
// through FinalizeDelete).
type Delete func(localIndex int) error
