/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package timebase

import (
	"context"
	"fmt"
	"math"

	"github.com/gravwell/osal/idclass"
	"github.com/gravwell/osal/idtable"
	"github.com/gravwell/osal/platform"
)

// Callback is the callback_ptr contract: invoked with the firing
// TIMECB's own public ID and the opaque arg it was registered with.
// ctx carries the dispatching helper's task identity; a callback that
// passes it back into the timebase API gets ErrFromHelper instead of
// deadlocking on the per-timebase lock the helper already holds.
type Callback func(ctx context.Context, cbID idclass.ID, arg interface{})

// tcbState is the class-specific record for one TIMECB slot. nextIdx
// links the intrusive ring by slot index rather than by idclass.ID
// (see tbState.firstCbIdx); publicID is filled in once FinalizeNew
// assigns it, before the slot is ever reachable from a ring walk.
type tcbState struct {
	ownerTimebaseIdx int
	publicID         idclass.ID

	waitTime      int64
	intervalTime  int64
	backlogResets uint64

	callback Callback
	arg      interface{}

	nextIdx int // -1 only transiently, before splicing; a live ring member always points somewhere, even if only to itself
}

func internalTimerName(n uint64) string {
	return fmt.Sprintf("timecb#%d", n)
}

func satIncr(v uint64) uint64 {
	if v == math.MaxUint64 {
		return v
	}
	return v + 1
}

// TimerAdd registers a callback on tbID's ring. intervalTicks <= 0
// means one-shot: the callback fires at most once, the first time
// waitTicks is driven to zero or below, and never again. Both tick
// arguments are validated against the same 1e9 ceiling as
// TimeBaseSet's.
func (c *Core) TimerAdd(ctx context.Context, tbID idclass.ID, intervalTicks, waitTicks int64, cb Callback, arg interface{}) (idclass.ID, error) {
	if waitTicks >= maxTickValue || waitTicks <= -maxTickValue || intervalTicks >= maxTickValue || intervalTicks <= -maxTickValue {
		return idclass.Undefined, ErrTickOutOfRange
	}
	if idclass.ClassOf(platform.CurrentTaskID(ctx)) == idclass.Timebase {
		return idclass.Undefined, ErrFromHelper
	}

	a, err := c.mgr.AllocateNew(ctx, idclass.TimerCb, c.nextInternalName())
	if err != nil {
		return idclass.Undefined, err
	}
	idx := a.Index()

	tbIdx, err := idclass.ArrayIndex(tbID, idclass.Timebase, c.timebaseCap)
	if err != nil {
		c.mgr.FinalizeNew(a, err)
		return idclass.Undefined, err
	}

	cb0 := &c.timercbs[idx]
	cb0.ownerTimebaseIdx = tbIdx
	cb0.waitTime = waitTicks
	cb0.intervalTime = intervalTicks
	cb0.callback = cb
	cb0.arg = arg
	cb0.nextIdx = idx

	id, err := c.mgr.FinalizeNew(a, nil)
	if err != nil {
		return idclass.Undefined, err
	}
	cb0.publicID = id

	ts := &c.timebases[tbIdx]
	ts.mu.Lock()
	if ts.id != tbID {
		ts.mu.Unlock()
		if r, gerr := c.mgr.GetById(ctx, idtable.LockExclusive, idclass.TimerCb, id); gerr == nil {
			_ = c.mgr.FinalizeDelete(idclass.TimerCb, r, nil)
		}
		return idclass.Undefined, idtable.ErrInvalidID
	}
	if ts.firstCbIdx < 0 {
		ts.firstCbIdx = idx
		cb0.nextIdx = idx
	} else {
		head := &c.timercbs[ts.firstCbIdx]
		cb0.nextIdx = head.nextIdx
		head.nextIdx = idx
	}
	ts.mu.Unlock()

	return id, nil
}

// TimerDelete unlinks a callback from its owning timebase's ring and
// frees its slot. Safe to call while the callback's own timebase
// helper is blocked dispatching a different callback in the same ring
// (it will simply block on the owning timebase's lock until that
// dispatch pass finishes), but must never be called synchronously from
// within the callback's own invocation — see ErrFromHelper.
func (c *Core) TimerDelete(ctx context.Context, id idclass.ID) error {
	if idclass.ClassOf(platform.CurrentTaskID(ctx)) == idclass.Timebase {
		return ErrFromHelper
	}
	r, err := c.mgr.GetById(ctx, idtable.LockExclusive, idclass.TimerCb, id)
	if err != nil {
		return err
	}
	idx, err := idclass.ArrayIndex(id, idclass.TimerCb, c.timercbCap)
	if err != nil {
		return c.mgr.FinalizeDelete(idclass.TimerCb, r, err)
	}
	cb := &c.timercbs[idx]
	ts := &c.timebases[cb.ownerTimebaseIdx]

	ts.mu.Lock()
	c.unlinkRing(ts, idx)
	ts.mu.Unlock()

	return c.mgr.FinalizeDelete(idclass.TimerCb, r, nil)
}

// unlinkRing removes idx from ts's ring, advancing firstCbIdx if idx
// was the anchor. Must be called with ts.mu held.
func (c *Core) unlinkRing(ts *tbState, idx int) {
	if ts.firstCbIdx < 0 {
		return
	}
	cb := &c.timercbs[idx]
	if cb.nextIdx == idx {
		// idx is the only member of the ring.
		ts.firstCbIdx = -1
		return
	}
	prev := ts.firstCbIdx
	for c.timercbs[prev].nextIdx != idx {
		prev = c.timercbs[prev].nextIdx
	}
	c.timercbs[prev].nextIdx = cb.nextIdx
	if ts.firstCbIdx == idx {
		ts.firstCbIdx = cb.nextIdx
	}
}

// fireRing walks ts's ring once, dispatching each member for the
// ticks elapsed this helper iteration. Must be called with ts.mu held.
func (c *Core) fireRing(ctx context.Context, ts *tbState, ticks uint32) {
	start := ts.firstCbIdx
	cur := start
	for {
		cb := &c.timercbs[cur]
		next := cb.nextIdx // captured before dispatch: a callback may unlink its own or a sibling slot
		c.fireOne(ctx, cb, ticks)
		if next == start || next == cur {
			return
		}
		cur = next
	}
}

// fireOne applies one helper iteration's elapsed ticks to cb and
// invokes its callback at most once:
//
// wait_time is decremented once by the elapsed ticks. If the result is
// <= 0 and interval_time > 0, wait_time is walked back up by
// interval_time (repeatedly, to converge past a backlog of missed
// periods), clamped to never go below -interval_time (counted in
// backlog_resets) and stopping the walk the moment a clamp occurs; the
// callback fires exactly once for this iteration, on the walk's first
// step, if wait_time was strictly positive before the decrement.
//
// interval_time <= 0 means one-shot: no walk-back, the callback fires
// at most once total, the first time wait_time is driven to <= 0 from
// a strictly positive value, and never again afterward (wait_time
// stays <= 0 forever, so "before" is never positive again).
func (c *Core) fireOne(ctx context.Context, cb *tcbState, ticks uint32) {
	before := cb.waitTime
	cb.waitTime -= int64(ticks)

	if cb.intervalTime <= 0 {
		if cb.waitTime <= 0 && before > 0 {
			c.invoke(ctx, cb)
		}
		return
	}

	fired := false
	for cb.waitTime <= 0 {
		if cb.waitTime < -cb.intervalTime {
			cb.waitTime = -cb.intervalTime
			cb.backlogResets = satIncr(cb.backlogResets)
			_ = c.log.WarnOnce(fmt.Sprintf("timecb-backlog-%d", uint32(cb.publicID)), warnWindow,
				"timer callback %v: backlog reset, wait_time clamped to %d", cb.publicID, cb.waitTime)
			if before > 0 && !fired {
				fired = true
				c.invoke(ctx, cb)
			}
			break
		}
		cb.waitTime += cb.intervalTime
		if before > 0 && !fired {
			fired = true
			c.invoke(ctx, cb)
		}
	}
}

func (c *Core) invoke(ctx context.Context, cb *tcbState) {
	if cb.callback != nil {
		cb.callback(ctx, cb.publicID, cb.arg)
	}
}
