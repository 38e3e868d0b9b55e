/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package osal

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gravwell/osal/config"
	"github.com/gravwell/osal/idclass"
	"github.com/gravwell/osal/idtable"
	"github.com/gravwell/osal/platform"
)

func TestSystemLifecycle(t *testing.T) {
	cfg, err := config.Parse(nil)
	if err != nil {
		t.Fatalf("config.Parse: %v", err)
	}
	sys, err := NewFromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}

	src := platform.NewScriptedSync(nil, 0)
	tb, err := sys.Timebases.TimeBaseCreate(context.Background(), "sys", src.Next)
	if err != nil {
		t.Fatalf("TimeBaseCreate: %v", err)
	}

	var fired int32
	if _, err := sys.Timebases.TimerAdd(context.Background(), tb, 10, 10,
		func(context.Context, idclass.ID, interface{}) {
			atomic.AddInt32(&fired, 1)
		}, nil); err != nil {
		t.Fatalf("TimerAdd: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sys.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := sys.Timebases.TimeBaseInfo(context.Background(), tb); err != idtable.ErrInvalidID {
		t.Fatalf("timebase survived shutdown: %v", err)
	}
}

// Creator identity flows from the caller's context into every record
// the System's manager allocates.
func TestSystemRecordsCreatorIdentity(t *testing.T) {
	cfg, err := config.Parse(nil)
	if err != nil {
		t.Fatalf("config.Parse: %v", err)
	}
	sys, err := NewFromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}

	me := idclass.Compose(idclass.Task, 7)
	ctx := platform.WithTaskID(context.Background(), me)
	a, err := sys.Manager.AllocateNew(ctx, idclass.Queue, "Q1")
	if err != nil {
		t.Fatalf("AllocateNew: %v", err)
	}
	if got := a.Record().Creator; got != me {
		sys.Manager.FinalizeNew(a, idtable.ErrIncorrectState)
		t.Fatalf("creator not recorded: got %v, want %v", got, me)
	}
	if _, err := sys.Manager.FinalizeNew(a, nil); err != nil {
		t.Fatalf("FinalizeNew: %v", err)
	}
}
