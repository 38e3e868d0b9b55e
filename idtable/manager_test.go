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
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/gravwell/osal/idclass"
	"github.com/gravwell/osal/platform"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	caps := idclass.DefaultCapacities
	caps[idclass.Queue] = 4
	m, err := NewManager(caps)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func mustCreate(t *testing.T, m *Manager, class idclass.Class, name string) idclass.ID {
	t.Helper()
	a, err := m.AllocateNew(context.Background(), class, name)
	if err != nil {
		t.Fatalf("AllocateNew(%s): %v", name, err)
	}
	id, err := m.FinalizeNew(a, nil)
	if err != nil {
		t.Fatalf("FinalizeNew(%s): %v", name, err)
	}
	return id
}

func TestAllocateFinalizeDeleteNameReuse(t *testing.T) {
	m := testManager(t)
	idA := mustCreate(t, m, idclass.Queue, "Q1")

	if _, err := m.AllocateNew(context.Background(), idclass.Queue, "Q1"); err != ErrNameTaken {
		t.Fatalf("expected ErrNameTaken, got %v", err)
	}

	r, err := m.GetById(context.Background(), LockExclusive, idclass.Queue, idA)
	if err != nil {
		t.Fatalf("GetById(Exclusive): %v", err)
	}
	if err := m.FinalizeDelete(idclass.Queue, r, nil); err != nil {
		t.Fatalf("FinalizeDelete: %v", err)
	}

	idB := mustCreate(t, m, idclass.Queue, "Q1")
	if idB == idA {
		t.Fatalf("reallocated id equals prior id: %v", idA)
	}
}

func TestCapacityExhaustion(t *testing.T) {
	m := testManager(t)
	cap := m.Capacities()[idclass.Queue]
	var ids []idclass.ID
	for i := 0; i < cap; i++ {
		ids = append(ids, mustCreate(t, m, idclass.Queue, nameN(i)))
	}
	if _, err := m.AllocateNew(context.Background(), idclass.Queue, "overflow"); err != ErrNoFreeIDs {
		t.Fatalf("expected ErrNoFreeIDs, got %v", err)
	}

	r, err := m.GetById(context.Background(), LockExclusive, idclass.Queue, ids[0])
	if err != nil {
		t.Fatalf("GetById: %v", err)
	}
	if err := m.FinalizeDelete(idclass.Queue, r, nil); err != nil {
		t.Fatalf("FinalizeDelete: %v", err)
	}
	if _, err := m.AllocateNew(context.Background(), idclass.Queue, "overflow"); err != nil {
		t.Fatalf("expected success after delete, got %v", err)
	}
}

func nameN(i int) string {
	return string(rune('A' + i))
}

func TestFinalizeNewErrorFreesSlot(t *testing.T) {
	m := testManager(t)
	a, err := m.AllocateNew(context.Background(), idclass.Queue, "Q1")
	if err != nil {
		t.Fatalf("AllocateNew: %v", err)
	}
	if _, err := m.FinalizeNew(a, errors.New("platform create failed")); err == nil {
		t.Fatalf("expected propagated error")
	}
	// slot must be free again
	mustCreate(t, m, idclass.Queue, "Q1")
}

func TestGetByIdAfterDeleteIsInvalid(t *testing.T) {
	m := testManager(t)
	id := mustCreate(t, m, idclass.Queue, "Q1")
	r, err := m.GetById(context.Background(), LockExclusive, idclass.Queue, id)
	if err != nil {
		t.Fatalf("GetById: %v", err)
	}
	if err := m.FinalizeDelete(idclass.Queue, r, nil); err != nil {
		t.Fatalf("FinalizeDelete: %v", err)
	}
	if _, err := m.GetById(context.Background(), LockNone, idclass.Queue, id); err != ErrInvalidID {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}

func TestRefcountBlocksExclusiveUntilDecr(t *testing.T) {
	m := testManager(t)
	id := mustCreate(t, m, idclass.Queue, "Q1")

	const refs = 3
	for i := 0; i < refs; i++ {
		if _, err := m.GetById(context.Background(), LockRefCount, idclass.Queue, id); err != nil {
			t.Fatalf("GetById(RefCount): %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		r, err := m.GetById(context.Background(), LockExclusive, idclass.Queue, id)
		if err != nil {
			t.Errorf("GetById(Exclusive): %v", err)
			close(done)
			return
		}
		m.FinalizeDelete(idclass.Queue, r, nil)
		close(done)
	}()

	r, err := m.GetById(context.Background(), LockNone, idclass.Queue, id)
	if err != nil {
		t.Fatalf("GetById(None): %v", err)
	}
	for i := 0; i < refs; i++ {
		m.RefcountDecr(idclass.Queue, r)
	}
	<-done

	if _, err := m.GetById(context.Background(), LockNone, idclass.Queue, id); err != ErrInvalidID {
		t.Fatalf("expected slot deleted, got %v", err)
	}
}

func TestNameUniquenessUnderConcurrency(t *testing.T) {
	m := testManager(t)
	var wg sync.WaitGroup
	results := make(chan error, 2)
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			a, err := m.AllocateNew(context.Background(), idclass.Queue, "dup")
			if err != nil {
				results <- err
				return
			}
			_, err = m.FinalizeNew(a, nil)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var oks, taken int
	for err := range results {
		if err == nil {
			oks++
		} else if err == ErrNameTaken {
			taken++
		}
	}
	if oks != 1 || taken != 1 {
		t.Fatalf("expected exactly one success and one NAME_TAKEN, got oks=%d taken=%d", oks, taken)
	}
}

func TestForEachToleratesReentrantLookup(t *testing.T) {
	m := testManager(t)
	ids := []idclass.ID{
		mustCreate(t, m, idclass.Queue, "Q1"),
		mustCreate(t, m, idclass.Queue, "Q2"),
	}
	seen := 0
	err := m.ForEach(nil, nil, func(id idclass.ID) error {
		for _, want := range ids {
			if id == want {
				if _, err := m.GetById(context.Background(), LockNone, idclass.Queue, id); err != nil {
					t.Fatalf("reentrant GetById: %v", err)
				}
				seen++
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if seen != len(ids) {
		t.Fatalf("expected to see %d ids, saw %d", len(ids), seen)
	}
}

func TestDeleteAllObjectsClearsTable(t *testing.T) {
	m := testManager(t)
	mustCreate(t, m, idclass.Queue, "Q1")
	mustCreate(t, m, idclass.Queue, "Q2")

	err := m.DeleteAllObjects(func(id idclass.ID) error {
		r, gerr := m.GetById(context.Background(), LockExclusive, idclass.Queue, id)
		if gerr != nil {
			return gerr
		}
		return m.FinalizeDelete(idclass.Queue, r, nil)
	})
	if err != nil {
		t.Fatalf("DeleteAllObjects: %v", err)
	}
	if n := m.activeCount(); n != 0 {
		t.Fatalf("expected empty table, got %d active", n)
	}
}

// The pattern every primitive binding follows: AllocateNew, platform
// create under the held class lock, FinalizeNew; then
// GetById(Exclusive), platform destroy, FinalizeDelete.
func TestCreateDeletePatternWithPlatformBinding(t *testing.T) {
	m := testManager(t)
	a, err := m.AllocateNew(context.Background(), idclass.BinSem, "S1")
	if err != nil {
		t.Fatalf("AllocateNew: %v", err)
	}
	id, err := m.FinalizeNew(a, platform.NoopCreate(a.Index(), nil))
	if err != nil {
		t.Fatalf("FinalizeNew: %v", err)
	}

	r, err := m.GetById(context.Background(), LockExclusive, idclass.BinSem, id)
	if err != nil {
		t.Fatalf("GetById(Exclusive): %v", err)
	}
	idx, err := idclass.ArrayIndex(id, idclass.BinSem, m.Capacities()[idclass.BinSem])
	if err != nil {
		t.Fatalf("ArrayIndex: %v", err)
	}
	if err := m.FinalizeDelete(idclass.BinSem, r, platform.NoopDelete(idx)); err != nil {
		t.Fatalf("FinalizeDelete: %v", err)
	}
	if _, err := m.GetById(context.Background(), LockNone, idclass.BinSem, id); err != ErrInvalidID {
		t.Fatalf("expected ErrInvalidID after delete, got %v", err)
	}
}

func TestGetByNameFindsActiveRecord(t *testing.T) {
	m := testManager(t)
	id := mustCreate(t, m, idclass.Queue, "Q1")
	mustCreate(t, m, idclass.Queue, "Q2")

	r, err := m.GetByName(context.Background(), LockNone, idclass.Queue, "Q1")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if r.ActiveID != id {
		t.Fatalf("GetByName returned wrong record: %v != %v", r.ActiveID, id)
	}
	if _, err := m.GetByName(context.Background(), LockNone, idclass.Queue, "missing"); err != ErrNameNotFound {
		t.Fatalf("expected ErrNameNotFound, got %v", err)
	}
}

func TestGetBySearchAppliesPredicateInIndexOrder(t *testing.T) {
	m := testManager(t)
	first := mustCreate(t, m, idclass.Queue, "Q1")
	want := mustCreate(t, m, idclass.Queue, "Q2")

	r, err := m.GetBySearch(context.Background(), LockNone, idclass.Queue, func(r *Record) bool {
		return strings.HasPrefix(r.Name, "Q")
	})
	if err != nil {
		t.Fatalf("GetBySearch: %v", err)
	}
	if r.ActiveID != first {
		t.Fatalf("GetBySearch did not return the lowest-index match: %v != %v", r.ActiveID, first)
	}

	r, err = m.GetBySearch(context.Background(), LockNone, idclass.Queue, func(r *Record) bool {
		return r.Name == "Q2"
	})
	if err != nil {
		t.Fatalf("GetBySearch: %v", err)
	}
	if r.ActiveID != want {
		t.Fatalf("GetBySearch returned wrong record: %v != %v", r.ActiveID, want)
	}
	if _, err := m.GetBySearch(context.Background(), LockNone, idclass.Queue, func(*Record) bool {
		return false
	}); err != ErrNameNotFound {
		t.Fatalf("expected ErrNameNotFound, got %v", err)
	}
}

func TestForEachCreatorFilter(t *testing.T) {
	creator := idclass.Compose(idclass.Task, 42)
	var current idclass.ID
	m, err := NewManager(idclass.DefaultCapacities, WithTaskIdentity(func(context.Context) idclass.ID {
		return current
	}))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	current = creator
	mine := mustCreate(t, m, idclass.Queue, "mine")
	current = idclass.Undefined
	mustCreate(t, m, idclass.Queue, "other")

	var seen []idclass.ID
	if err := m.ForEach(nil, &creator, func(id idclass.ID) error {
		seen = append(seen, id)
		return nil
	}); err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if len(seen) != 1 || seen[0] != mine {
		t.Fatalf("creator filter matched %v, want just %v", seen, mine)
	}
}

func TestDumpListsActiveRecords(t *testing.T) {
	m := testManager(t)
	mustCreate(t, m, idclass.Queue, "Q1")

	b, err := m.Dump()
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if !strings.Contains(string(b), "Q1") || !strings.Contains(string(b), "QUEUE") {
		t.Fatalf("dump missing expected record: %s", b)
	}
}

func TestDeleteAllObjectsReportsLeaks(t *testing.T) {
	m := testManager(t)
	mustCreate(t, m, idclass.Queue, "Q1")

	err := m.DeleteAllObjects(func(idclass.ID) error {
		return errors.New("platform destroy always fails")
	})
	if !errors.Is(err, ErrObjectsLeaked) {
		t.Fatalf("expected ErrObjectsLeaked, got %v", err)
	}
}
