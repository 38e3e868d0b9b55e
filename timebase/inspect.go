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

	"github.com/gravwell/osal/idclass"
	"github.com/gravwell/osal/idtable"
)

// TimebaseInfo is a point-in-time snapshot of a TIMEBASE slot's
// class-specific state, the fields idtable.Record itself has no room
// for. Like any LockNone read, it may already be stale by the time the
// caller inspects it.
type TimebaseInfo struct {
	Name            string
	NominalStart    uint64
	NominalInterval uint64
	AccuracyUsec    uint32
	FreerunTime     uint32
}

// TimeBaseInfo snapshots a timebase's state. Returns idtable.ErrInvalidID
// if id does not currently name a live timebase.
func (c *Core) TimeBaseInfo(ctx context.Context, id idclass.ID) (TimebaseInfo, error) {
	r, err := c.mgr.GetById(ctx, idtable.LockNone, idclass.Timebase, id)
	if err != nil {
		return TimebaseInfo{}, err
	}
	idx, err := idclass.ArrayIndex(id, idclass.Timebase, c.timebaseCap)
	if err != nil {
		return TimebaseInfo{}, err
	}
	ts := &c.timebases[idx]
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.id != id {
		return TimebaseInfo{}, idtable.ErrInvalidID
	}
	return TimebaseInfo{
		Name:            r.Name,
		NominalStart:    ts.nominalStart,
		NominalInterval: ts.nominalInterval,
		AccuracyUsec:    ts.accuracyUsec,
		FreerunTime:     ts.freerunTime,
	}, nil
}

// TimerCbInfo is a point-in-time snapshot of a TIMECB slot's
// class-specific state.
type TimerCbInfo struct {
	OwnerTimebase idclass.ID
	WaitTime      int64
	IntervalTime  int64
	BacklogResets uint64
}

// TimerCbInfo snapshots a timer callback's state. Returns
// idtable.ErrInvalidID if id does not currently name a live callback.
func (c *Core) TimerCbInfo(ctx context.Context, id idclass.ID) (TimerCbInfo, error) {
	_, err := c.mgr.GetById(ctx, idtable.LockNone, idclass.TimerCb, id)
	if err != nil {
		return TimerCbInfo{}, err
	}
	idx, err := idclass.ArrayIndex(id, idclass.TimerCb, c.timercbCap)
	if err != nil {
		return TimerCbInfo{}, err
	}
	cb := &c.timercbs[idx]
	tbIdx := cb.ownerTimebaseIdx
	ts := &c.timebases[tbIdx]
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if cb.publicID != id {
		return TimerCbInfo{}, idtable.ErrInvalidID
	}
	return TimerCbInfo{
		OwnerTimebase: ts.id,
		WaitTime:      cb.waitTime,
		IntervalTime:  cb.intervalTime,
		BacklogResets: cb.backlogResets,
	}, nil
}
