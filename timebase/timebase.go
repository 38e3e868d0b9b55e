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
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gravwell/osal/idclass"
	"github.com/gravwell/osal/idtable"
	"github.com/gravwell/osal/platform"
)

// Logger is the minimal sink Core needs: Warnf for ordinary best-effort
// diagnostics, WarnOnce for conditions that can otherwise repeat on
// every tick of a stuck timebase (the spin-limit stall and the backlog
// reset notice). osal/log.Logger satisfies this directly.
type Logger interface {
	Warnf(f string, args ...interface{}) error
	WarnOnce(key string, window time.Duration, f string, args ...interface{}) error
}

type nopLogger struct{}

func (nopLogger) Warnf(string, ...interface{}) error { return nil }
func (nopLogger) WarnOnce(string, time.Duration, string, ...interface{}) error {
	return nil
}

// warnWindow bounds how often a WarnOnce key re-fires for a timebase
// that stays wedged for a long time.
const warnWindow = time.Hour

// spinYield is how long the helper sleeps after a zero-tick sync
// result, so a degenerate external sync cannot busy-loop the CPU.
const spinYield = 10 * time.Millisecond

// tbState is the class-specific record for one TIMEBASE slot, laid out
// as a parallel array indexed the same way idtable indexes its own
// Record array (idclass.ArrayIndex). mu is the per-timebase nested
// lock: always acquired after the owning class lock when both are
// held, guarding nominalStart/nominalInterval/freerunTime/the ring
// anchor, and held by the helper goroutine across one full
// tick-to-dispatch iteration.
type tbState struct {
	mu sync.Mutex

	id idclass.ID // the slot's current incarnation; guards against a freed-and-reused slot

	accuracyUsec    uint32
	nominalStart    uint64
	nominalInterval uint64
	startConsumed   bool
	freerunTime     uint32

	// firstCbIdx anchors the TIMECB ring for this timebase as a slot
	// index rather than an idclass.ID: the ring must be spliceable
	// before the new TIMECB's public ID exists, since FinalizeNew is
	// what assigns it. -1 means the ring is empty.
	firstCbIdx int

	stopped chan struct{}
}

// Option configures a Core at construction.
type Option func(*Core)

// WithLogger attaches a diagnostics sink.
func WithLogger(l Logger) Option {
	return func(c *Core) { c.log = l }
}

// WithMicroSecPerTick sets the duration InternalSync sleeps between
// ticks for timebases created without a caller-supplied ExternalSync.
// Matches the tick duration osal/config validates against
// TicksPerSecond.
func WithMicroSecPerTick(us uint32) Option {
	return func(c *Core) { c.microSecPerTick = us }
}

// Core is the TimebaseCore + TimerCbCore pair: one helper goroutine per
// TIMEBASE slot and the ring of TIMECB slots each timebase drives,
// layered on an idtable.Manager the same way every other OSAL
// primitive is (AllocateNew, populate the class-specific slot,
// platform create, FinalizeNew).
type Core struct {
	mgr *idtable.Manager
	log Logger

	microSecPerTick uint32

	timebaseCap int
	timercbCap  int

	timebases []tbState
	timercbs  []tcbState

	nameMu  sync.Mutex
	nameCtr uint64
}

// NewCore builds a Core sized from mgr's configured TIMEBASE/TIMECB
// capacities.
func NewCore(mgr *idtable.Manager, opts ...Option) *Core {
	caps := mgr.Capacities()
	c := &Core{
		mgr:         mgr,
		log:         nopLogger{},
		timebaseCap: caps[idclass.Timebase],
		timercbCap:  caps[idclass.TimerCb],
	}
	c.timebases = make([]tbState, c.timebaseCap)
	c.timercbs = make([]tcbState, c.timercbCap)
	for i := range c.timebases {
		c.timebases[i].firstCbIdx = -1
	}
	for i := range c.timercbs {
		c.timercbs[i].nextIdx = -1
	}
	for _, opt := range opts {
		opt(c)
	}
	c.checkClockResolution()
	return c
}

// checkClockResolution compares the configured tick against the host's
// real CLOCK_MONOTONIC resolution: a MicroSecPerTick finer than what
// the clock can actually resolve can never deliver on its own accuracy
// claim. Advisory only; it warns once and never rejects the
// configuration, since osal/config.Load already enforces the exact
// MicroSecPerTick*TicksPerSecond==1e6 invariant at load time.
func (c *Core) checkClockResolution() {
	if c.microSecPerTick == 0 {
		return
	}
	res, err := clockResolution()
	if err != nil {
		return
	}
	tick := time.Duration(c.microSecPerTick) * time.Microsecond
	if res > tick {
		_ = c.log.WarnOnce("clock-resolution", warnWindow,
			"configured tick %s is finer than CLOCK_MONOTONIC resolution %s", tick, res)
	}
}

// InternalSync is the tick source a timebase falls back to when created
// with a nil ExternalSync: it sleeps one period's worth of wall time
// and reports exactly one elapsed tick. The period is the timebase's
// nominal interval once TimeBaseSet has programmed one (the nominal
// start governs the first wait after a set), and a single raw tick
// before that. All of the arithmetic is 64-bit.
func (c *Core) InternalSync(localIndex int) (uint32, error) {
	if localIndex < 0 || localIndex >= c.timebaseCap {
		return 0, idtable.ErrInvalidID
	}
	ts := &c.timebases[localIndex]
	ts.mu.Lock()
	period := ts.nominalInterval
	if !ts.startConsumed {
		ts.startConsumed = true
		if ts.nominalStart > 0 {
			period = ts.nominalStart
		}
	}
	ts.mu.Unlock()

	us := uint64(c.microSecPerTick)
	if us == 0 {
		us = 1000
	}
	if period > 0 {
		us *= period
	}
	time.Sleep(time.Duration(us) * time.Microsecond)
	return 1, nil
}

func (c *Core) nextInternalName() string {
	c.nameMu.Lock()
	c.nameCtr++
	n := c.nameCtr
	c.nameMu.Unlock()
	return internalTimerName(n)
}

// TimeBaseCreate allocates a TIMEBASE slot, wires sync (falling back to
// InternalSync when nil), and spawns its helper goroutine. The helper
// runs until TimeBaseDelete retires the slot's identity out from under
// it.
func (c *Core) TimeBaseCreate(ctx context.Context, name string, sync platform.ExternalSync) (idclass.ID, error) {
	a, err := c.mgr.AllocateNew(ctx, idclass.Timebase, name)
	if err != nil {
		return idclass.Undefined, err
	}
	idx := a.Index()
	ts := &c.timebases[idx]

	accuracy := c.microSecPerTick
	if sync != nil {
		accuracy = 0 // externally synced: the core has no opinion on accuracy
	} else {
		sync = c.InternalSync
	}

	// Take the nested lock before the ID is published: nobody can
	// observe the slot half-populated, since TimeBaseSet and friends go
	// class lock first, then ts.mu, and FinalizeNew is what releases the
	// class lock.
	ts.mu.Lock()
	ts.accuracyUsec = accuracy
	ts.nominalStart = 0
	ts.nominalInterval = 0
	ts.startConsumed = false
	ts.freerunTime = 0
	ts.firstCbIdx = -1
	ts.stopped = make(chan struct{})
	stopped := ts.stopped

	id, err := c.mgr.FinalizeNew(a, nil)
	if err != nil {
		ts.mu.Unlock()
		return idclass.Undefined, err
	}
	ts.id = id
	ts.mu.Unlock()

	helperCtx := platform.WithTaskID(context.Background(), id)
	go c.runHelper(helperCtx, id, idx, sync, stopped)

	return id, nil
}

// TimeBaseSet validates and installs new nominal start/interval tick
// values on an existing timebase. Rejected from within a timebase
// helper's own callback (ErrFromHelper), since that would deadlock
// re-acquiring the per-timebase lock the helper already holds.
func (c *Core) TimeBaseSet(ctx context.Context, id idclass.ID, nominalStart, nominalInterval uint64) error {
	if nominalStart >= maxTickValue || nominalInterval >= maxTickValue {
		return ErrTickOutOfRange
	}
	if idclass.ClassOf(platform.CurrentTaskID(ctx)) == idclass.Timebase {
		return ErrFromHelper
	}
	if _, err := c.mgr.GetById(ctx, idtable.LockGlobal, idclass.Timebase, id); err != nil {
		return err
	}
	defer c.mgr.Unlock(idclass.Timebase)

	idx, err := idclass.ArrayIndex(id, idclass.Timebase, c.timebaseCap)
	if err != nil {
		return err
	}
	ts := &c.timebases[idx]
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.id != id {
		return idtable.ErrInvalidID
	}
	ts.nominalStart = nominalStart
	ts.nominalInterval = nominalInterval
	ts.startConsumed = false
	return nil
}

// TimeBaseDelete removes a timebase: every TIMECB still anchored on its
// ring is torn down along with it, then the slot itself is freed. The
// helper goroutine notices on its own at the next lock acquisition,
// once the slot's identity no longer matches, and exits without
// further synchronization from here.
func (c *Core) TimeBaseDelete(ctx context.Context, id idclass.ID) error {
	if idclass.ClassOf(platform.CurrentTaskID(ctx)) == idclass.Timebase {
		return ErrFromHelper
	}
	r, err := c.mgr.GetById(ctx, idtable.LockExclusive, idclass.Timebase, id)
	if err != nil {
		return err
	}
	idx, err := idclass.ArrayIndex(id, idclass.Timebase, c.timebaseCap)
	if err != nil {
		return c.mgr.FinalizeDelete(idclass.Timebase, r, err)
	}
	ts := &c.timebases[idx]

	// Flipping ts.id to Undefined is the helper's cancellation signal:
	// it re-checks under ts.mu after every wake (the only correct
	// deletion handshake, since the helper blocks in the sync call with
	// no lock held).
	ts.mu.Lock()
	cbIDs := c.ringMemberIDs(ts)
	ts.firstCbIdx = -1
	ts.id = idclass.Undefined
	ts.mu.Unlock()

	for _, cbID := range cbIDs {
		if cr, gerr := c.mgr.GetById(ctx, idtable.LockExclusive, idclass.TimerCb, cbID); gerr == nil {
			_ = c.mgr.FinalizeDelete(idclass.TimerCb, cr, nil)
		}
	}

	return c.mgr.FinalizeDelete(idclass.Timebase, r, nil)
}

// Shutdown tears down every live timebase and waits for each helper
// goroutine to actually exit, bounded by ctx. Delete failures are
// swallowed per-object; the first ctx expiry while waiting on a
// straggler helper is returned.
func (c *Core) Shutdown(ctx context.Context) error {
	class := idclass.Timebase
	var g errgroup.Group
	_ = c.mgr.ForEach(&class, nil, func(id idclass.ID) error {
		idx, err := idclass.ArrayIndex(id, idclass.Timebase, c.timebaseCap)
		if err != nil {
			return nil
		}
		ts := &c.timebases[idx]
		ts.mu.Lock()
		stopped := ts.stopped
		live := ts.id == id
		ts.mu.Unlock()

		_ = c.TimeBaseDelete(ctx, id)
		if live && stopped != nil {
			g.Go(func() error {
				select {
				case <-stopped:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		}
		return nil
	})
	return g.Wait()
}

// ringMemberIDs collects the public ID of every TIMECB currently
// spliced into ts's ring, walking at most timercbCap hops as a guard
// against a corrupted ring looping forever. Must be called with ts.mu
// held.
func (c *Core) ringMemberIDs(ts *tbState) []idclass.ID {
	if ts.firstCbIdx < 0 {
		return nil
	}
	var ids []idclass.ID
	cur := ts.firstCbIdx
	for i := 0; i < c.timercbCap; i++ {
		cb := &c.timercbs[cur]
		ids = append(ids, cb.publicID)
		next := cb.nextIdx
		if next == ts.firstCbIdx {
			break
		}
		cur = next
	}
	return ids
}

// runHelper is the helper goroutine body: pull ticks, detect deletion,
// advance freerun, walk and fire the ring, repeat. One goroutine per
// timebase, started by TimeBaseCreate. ctx carries the timebase's own
// ID as the helper's task identity; it is handed to every callback so
// that a callback re-entering the timebase API is rejected rather than
// deadlocked. stop is this incarnation's own completion channel; the
// slot's may already belong to a successor by the time a long-blocked
// helper finally exits.
func (c *Core) runHelper(ctx context.Context, tbID idclass.ID, idx int, sync platform.ExternalSync, stop chan struct{}) {
	ts := &c.timebases[idx]
	defer close(stop)

	spin := 0
	for {
		ticks, err := sync(idx)
		if err != nil {
			c.log.Warnf("timebase helper: external sync error: %v", err)
			ticks = 0
		}

		if ticks == 0 {
			spin++
			if spin >= spinLimit {
				key := fmt.Sprintf("timebase-stall-%d", uint32(tbID))
				_ = c.log.WarnOnce(key, warnWindow, "timebase %v: external sync produced no ticks %d times in a row", tbID, spinLimit)
			}
			time.Sleep(spinYield)
		} else {
			spin = 0
		}

		// The sync call blocks with no lock held, so a delete may have
		// landed while we were out; re-check our own identity before
		// touching the record (a successor incarnation fails the
		// compare the same way a plain delete does).
		ts.mu.Lock()
		if ts.id != tbID {
			ts.mu.Unlock()
			return
		}
		ts.freerunTime += ticks
		if ts.firstCbIdx >= 0 && ticks > 0 {
			c.fireRing(ctx, ts, ticks)
		}
		ts.mu.Unlock()
	}
}
