/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package idtable

import "github.com/gravwell/osal/idclass"

// Flag bits carried on a Record.
const (
	FlagExclReq uint32 = 1 << iota
)

// Record is the one-per-slot state every resource class shares. It is
// only ever mutated with the owning class's lock held.
type Record struct {
	Name     string
	ActiveID idclass.ID
	Creator  idclass.ID
	Refcount int32
	Flags    uint32

	generation uint32 // hidden per-slot generation counter, see idclass.NextSerial
}

// LockMode is the contract a caller picks on GetById/GetByName/
// GetBySearch: what synchronization, if any, it wants on the way out.
type LockMode int

const (
	// LockNone leaves nothing locked; the caller gets a point-in-time
	// read with no synchronization guarantee against concurrent
	// deletion. Used on hot paths where the underlying platform
	// primitive provides its own synchronization.
	LockNone LockMode = iota
	// LockGlobal leaves the class locked; the caller must Unlock the
	// class itself once done.
	LockGlobal
	// LockExclusive waits for Refcount to reach zero (signalling any
	// waiter that arrives after), then leaves the class locked. Used by
	// delete paths.
	LockExclusive
	// LockRefCount increments Refcount and unlocks; the caller must
	// release with RefcountDecr.
	LockRefCount
)

func (m LockMode) String() string {
	switch m {
	case LockNone:
		return "None"
	case LockGlobal:
		return "Global"
	case LockExclusive:
		return "Exclusive"
	case LockRefCount:
		return "RefCount"
	}
	return "Unknown"
}

func (r *Record) free() bool {
	return r.ActiveID == idclass.Undefined
}

func (r *Record) reset() {
	r.Name = ""
	r.ActiveID = idclass.Undefined
	r.Creator = idclass.Undefined
	r.Refcount = 0
	r.Flags = 0
}
