/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package idtable implements the process-wide partitioned resource
// table: one fixed-size array of records per resource class, a
// per-class lock, and the public IdManager contract (AllocateNew,
// FinalizeNew, FinalizeDelete, GetById, GetByName, GetBySearch,
// RefcountDecr, ForEach) that every OSAL primitive is layered on top of.
package idtable

import "errors"

// Status errors surfaced at the API boundary.
var (
	ErrInvalidPointer = errors.New("invalid pointer")
	ErrNameTooLong    = errors.New("name too long")
	ErrNameNotFound   = errors.New("name not found")
	ErrNameTaken      = errors.New("name already taken")
	ErrInvalidID      = errors.New("invalid id")
	ErrNoFreeIDs      = errors.New("no free ids in class")
	ErrIncorrectState = errors.New("object is in an incorrect state for this operation")
	ErrObjectsLeaked  = errors.New("objects remained active after teardown sweep limit")
	ErrInvalidClass   = errors.New("invalid resource class")
	ErrEmptyName      = errors.New("name must not be empty")
)

// Boundary statuses owned by the class-specific primitive bindings that
// layer on top of this table. The core itself never produces them, but
// they belong to the same taxonomy and are defined here so every
// binding surfaces the same values.
var (
	ErrSemTimeout       = errors.New("semaphore wait timed out")
	ErrSemFailure       = errors.New("semaphore operation failed")
	ErrQueueEmpty       = errors.New("queue is empty")
	ErrQueueFull        = errors.New("queue is full")
	ErrQueueTimeout     = errors.New("queue wait timed out")
	ErrQueueInvalidSize = errors.New("queue message size is invalid")
	ErrTimerInvalidArgs = errors.New("timer arguments are invalid")
)

// MaxNameLength bounds the length of a resource name; it mirrors the
// fixed-size name buffers a real embedded build would use per class.
const MaxNameLength = 64
