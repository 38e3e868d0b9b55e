/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package timebase implements the scheduling side of the core: one
// helper goroutine per timebase pulling ticks from an external or
// internal source and driving a ring of periodic/one-shot callbacks,
// layered on top of idtable in the same create/populate/finalize
// pattern every other class-specific primitive uses.
package timebase

import (
	"fmt"

	"github.com/gravwell/osal/idtable"
)

var (
	// ErrTickOutOfRange is returned when a tick count argument is not
	// strictly less than 10^9, the ceiling the scheduling loop's
	// arithmetic is built to tolerate without overflow.
	ErrTickOutOfRange = fmt.Errorf("tick value must be less than 1e9: %w", idtable.ErrTimerInvalidArgs)

	// ErrFromHelper is returned when TimeBaseSet/TimeBaseDelete/TimerAdd/
	// TimerDelete is called from a task whose identity is itself a
	// timebase helper. A helper reconfiguring (or deleting) a timebase
	// from inside its own callback would deadlock on the per-timebase
	// lock it already holds.
	ErrFromHelper = fmt.Errorf("timebase API called from a timebase helper task: %w", idtable.ErrIncorrectState)
)

const maxTickValue = 1_000_000_000

// spinLimit is the number of consecutive zero-tick sync results after
// which the helper emits its one-shot stall warning. The helper yields
// on every zero-tick result (see runHelper); the limit governs the
// warning only.
const spinLimit = 4
