/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package idtable

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gravwell/osal/idclass"
)

// Logger is the minimal sink Manager needs for best-effort diagnostics;
// osal/log.Logger satisfies it.
type Logger interface {
	Warnf(f string, args ...interface{}) error
}

type nopLogger struct{}

func (nopLogger) Warnf(string, ...interface{}) error { return nil }

// tearDownDelay is the pause between DeleteAllObjects sweep passes.
const tearDownDelay = 10 * time.Millisecond

// maxTeardownPasses bounds DeleteAllObjects; objects still active after
// this many passes are reported rather than retried forever.
const maxTeardownPasses = 5

// Manager is the process-wide partitioned resource table: one
// classTable per resource class plus the public IdManager API layered
// on top.
type Manager struct {
	caps         idclass.Capacity
	classes      [idclass.MaxClasses]*classTable
	currentTask  func(context.Context) idclass.ID
	log          Logger
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithLogger attaches a diagnostics sink; without one, Manager is
// silent. Debug output is best-effort and optional either way.
func WithLogger(l Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithTaskIdentity installs the platform's current_task_id() hook. If
// omitted, every record's Creator is idclass.Undefined.
func WithTaskIdentity(fn func(context.Context) idclass.ID) Option {
	return func(m *Manager) { m.currentTask = fn }
}

// NewManager builds a table with the given per-class capacities. An
// invalid (<=0) capacity for any class is rejected outright; a class
// that can never hold a record is a configuration bug, not a full
// table.
func NewManager(caps idclass.Capacity, opts ...Option) (*Manager, error) {
	if err := caps.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		caps:        caps,
		currentTask: func(context.Context) idclass.ID { return idclass.Undefined },
		log:         nopLogger{},
	}
	for c := 0; c < idclass.MaxClasses; c++ {
		m.classes[c] = newClassTable(caps[c])
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) table(class idclass.Class) (*classTable, error) {
	if !class.Valid() {
		return nil, ErrInvalidClass
	}
	return m.classes[class], nil
}

// Allocation is the locked handoff between AllocateNew and FinalizeNew:
// the class remains locked for the caller to populate a class-specific
// record (e.g. a queue's depth) and invoke the platform create call
// before finalizing.
type Allocation struct {
	class idclass.Class
	index int
	name  string
	ct    *classTable
}

// Index is the raw slot index, for callers that need to address a
// class-specific side table (e.g. a queue's backing channel array).
func (a *Allocation) Index() int { return a.index }

// Record exposes the slot for in-place population while the class
// remains locked.
func (a *Allocation) Record() *Record { return a.ct.slot(a.index) }

// AllocateNew locks class, rejects a duplicate active name
// (ErrNameTaken), and reserves the first free slot, returning with the
// class still locked. The caller must follow with FinalizeNew on every
// path, including error ones from its own platform create call.
func (m *Manager) AllocateNew(ctx context.Context, class idclass.Class, name string) (*Allocation, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if len(name) > MaxNameLength {
		return nil, ErrNameTooLong
	}
	ct, err := m.table(class)
	if err != nil {
		return nil, err
	}
	ct.lock()
	for i := range ct.records {
		r := &ct.records[i]
		if r.ActiveID != idclass.Undefined && r.ActiveID != idclass.Reserved && r.Name == name {
			ct.unlock()
			return nil, ErrNameTaken
		}
	}
	idx := -1
	for i := range ct.records {
		if ct.records[i].free() {
			idx = i
			break
		}
	}
	if idx < 0 {
		ct.unlock()
		return nil, ErrNoFreeIDs
	}
	r := ct.slot(idx)
	r.ActiveID = idclass.Reserved
	r.Refcount = 0
	r.Flags = 0
	r.Creator = m.currentTask(ctx)
	return &Allocation{class: class, index: idx, name: name, ct: ct}, nil
}

// FinalizeNew completes an AllocateNew. On a nil opErr it computes a
// fresh serial (generation advance), publishes ActiveID, and returns
// the new ID; any other opErr returns the slot to Free so a later
// AllocateNew with the same name can succeed. Either way the class is
// unlocked before returning.
func (m *Manager) FinalizeNew(a *Allocation, opErr error) (idclass.ID, error) {
	r := a.ct.slot(a.index)
	defer a.ct.unlock()
	if opErr != nil {
		r.reset()
		return idclass.Undefined, opErr
	}
	serial, nextGen := idclass.NextSerial(a.index, a.ct.capacity(), r.generation)
	r.generation = nextGen
	id := idclass.Compose(a.class, serial)
	r.ActiveID = id
	r.Name = a.name
	return id, nil
}

func (m *Manager) finishLock(ctx context.Context, mode LockMode, ct *classTable, r *Record) (*Record, error) {
	switch mode {
	case LockNone:
		ct.unlock()
		return r, nil
	case LockGlobal:
		return r, nil
	case LockExclusive:
		// cond.Wait releases the class lock, so a second exclusive
		// caller can get past the ActiveID check and queue up behind the
		// same record. Whoever wakes second must re-validate: the first
		// waiter may have deleted the slot (or it may already hold a new
		// incarnation) by then.
		want := r.ActiveID
		r.Flags |= FlagExclReq
		for r.Refcount > 0 && r.ActiveID == want {
			if ctx != nil {
				if err := ctx.Err(); err != nil {
					r.Flags &^= FlagExclReq
					ct.cond.Broadcast()
					ct.unlock()
					return nil, err
				}
			}
			ct.cond.Wait()
		}
		if r.ActiveID != want {
			r.Flags &^= FlagExclReq
			ct.unlock()
			return nil, ErrInvalidID
		}
		r.Flags &^= FlagExclReq
		return r, nil
	case LockRefCount:
		r.Refcount++
		ct.unlock()
		return r, nil
	default:
		ct.unlock()
		return nil, ErrInvalidID
	}
}

// GetById validates the class tag and slot-index range on id (the
// stale-ID defense), then applies mode's lock escalation. A mismatched
// ActiveID — a deleted or never-allocated slot — yields ErrInvalidID
// without side effects.
func (m *Manager) GetById(ctx context.Context, mode LockMode, class idclass.Class, id idclass.ID) (*Record, error) {
	ct, err := m.table(class)
	if err != nil {
		return nil, ErrInvalidID
	}
	idx, err := idclass.ArrayIndex(id, class, ct.capacity())
	if err != nil {
		return nil, ErrInvalidID
	}
	ct.lock()
	r := ct.slot(idx)
	if r.ActiveID != id {
		ct.unlock()
		return nil, ErrInvalidID
	}
	return m.finishLock(ctx, mode, ct, r)
}

// GetByName scans class under its lock for an active record with the
// given name, in index order, then applies mode's lock escalation.
func (m *Manager) GetByName(ctx context.Context, mode LockMode, class idclass.Class, name string) (*Record, error) {
	ct, err := m.table(class)
	if err != nil {
		return nil, ErrInvalidClass
	}
	ct.lock()
	for i := range ct.records {
		r := &ct.records[i]
		if r.ActiveID != idclass.Undefined && r.ActiveID != idclass.Reserved && r.Name == name {
			return m.finishLock(ctx, mode, ct, r)
		}
	}
	ct.unlock()
	return nil, ErrNameNotFound
}

// Predicate tests one active record; it must not block or re-enter the
// Manager on the same class while the scan holds the lock.
type Predicate func(*Record) bool

// GetBySearch scans class under its lock, in index order, applying pred
// to each active record, with the same lock-mode escalation as GetById.
func (m *Manager) GetBySearch(ctx context.Context, mode LockMode, class idclass.Class, pred Predicate) (*Record, error) {
	ct, err := m.table(class)
	if err != nil {
		return nil, ErrInvalidClass
	}
	ct.lock()
	for i := range ct.records {
		r := &ct.records[i]
		if r.ActiveID == idclass.Undefined || r.ActiveID == idclass.Reserved {
			continue
		}
		if pred(r) {
			return m.finishLock(ctx, mode, ct, r)
		}
	}
	ct.unlock()
	return nil, ErrNameNotFound
}

// Unlock releases class's lock. Pairs with LockGlobal and LockExclusive
// results from GetById/GetByName/GetBySearch.
func (m *Manager) Unlock(class idclass.Class) {
	if ct, err := m.table(class); err == nil {
		ct.unlock()
	}
}

// RefcountDecr releases one LockRefCount reference. Saturates at zero
// and wakes any LockExclusive waiter once the count reaches zero.
func (m *Manager) RefcountDecr(class idclass.Class, r *Record) {
	ct, err := m.table(class)
	if err != nil {
		return
	}
	ct.lock()
	if r.Refcount > 0 {
		r.Refcount--
	}
	if r.Refcount == 0 && r.Flags&FlagExclReq != 0 {
		ct.cond.Broadcast()
	}
	ct.unlock()
}

// FinalizeDelete mirrors FinalizeNew for the delete path. Assumes the
// class is held exclusively (Refcount already zero, from a prior
// GetById(LockExclusive)). A nil opErr clears the slot back to Free; any
// other opErr leaves the record active. The class is unlocked either
// way.
func (m *Manager) FinalizeDelete(class idclass.Class, r *Record, opErr error) error {
	ct, err := m.table(class)
	if err != nil {
		return err
	}
	defer ct.unlock()
	if opErr == nil {
		r.reset()
	}
	return opErr
}

// ForEach iterates every slot matching classFilter (nil = every class)
// and creatorFilter (nil = every creator), invoking fn with each active
// ID. Each class is scanned under a brief lock that is released before
// fn runs, so fn may safely re-enter the Manager — including on the
// same class — without deadlocking, at the cost of fn possibly seeing
// an ID that was deleted moments ago (it will simply get ErrInvalidID
// back from whatever it calls next).
func (m *Manager) ForEach(classFilter *idclass.Class, creatorFilter *idclass.ID, fn func(idclass.ID) error) error {
	lo, hi := 0, idclass.MaxClasses
	if classFilter != nil {
		if !classFilter.Valid() {
			return ErrInvalidClass
		}
		lo, hi = int(*classFilter), int(*classFilter)+1
	}
	for c := lo; c < hi; c++ {
		ct := m.classes[c]
		ct.lock()
		ids := make([]idclass.ID, 0, len(ct.records))
		for i := range ct.records {
			r := &ct.records[i]
			if r.ActiveID == idclass.Undefined || r.ActiveID == idclass.Reserved {
				continue
			}
			if creatorFilter != nil && r.Creator != *creatorFilter {
				continue
			}
			ids = append(ids, r.ActiveID)
		}
		ct.unlock()
		for _, id := range ids {
			if err := fn(id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) activeCount() int {
	n := 0
	_ = m.ForEach(nil, nil, func(idclass.ID) error { n++; return nil })
	return n
}

// DeleteAllObjects sweeps every class up to five times, calling destroy
// on every still-active ID each pass, since a dependent object (e.g. a
// timer callback) may only become deletable once its owner (a
// timebase) is torn down in an earlier pass. Errors from destroy are
// swallowed per-object rather than aborting the sweep; if objects
// remain after the fifth pass, ErrObjectsLeaked is returned instead of
// looping forever.
func (m *Manager) DeleteAllObjects(destroy func(idclass.ID) error) error {
	for pass := 0; pass < maxTeardownPasses; pass++ {
		var g errgroup.Group
		for c := 0; c < idclass.MaxClasses; c++ {
			class := idclass.Class(c)
			g.Go(func() error {
				return m.ForEach(&class, nil, func(id idclass.ID) error {
					_ = destroy(id)
					return nil
				})
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if n := m.activeCount(); n == 0 {
			return nil
		} else if pass == maxTeardownPasses-1 {
			m.log.Warnf("DeleteAllObjects: %d objects still active after %d passes", n, maxTeardownPasses)
			return fmt.Errorf("%w: %d objects remain", ErrObjectsLeaked, n)
		}
		time.Sleep(tearDownDelay)
	}
	return nil
}

// Capacities returns the per-class capacities the table was built with.
func (m *Manager) Capacities() idclass.Capacity {
	return m.caps
}
