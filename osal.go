/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package osal composes the core into a running system: the tuning
// config, the diagnostics logger, the partitioned resource table, and
// the timebase scheduler, wired together the way an embedding
// application consumes them.
package osal

import (
	"context"
	"io"

	"github.com/gravwell/osal/config"
	"github.com/gravwell/osal/idclass"
	"github.com/gravwell/osal/idtable"
	"github.com/gravwell/osal/log"
	"github.com/gravwell/osal/platform"
	"github.com/gravwell/osal/timebase"
)

// System is one initialized OSAL instance. All fields are live for the
// System's lifetime; Shutdown is the only teardown path.
type System struct {
	Config    *config.Config
	Log       *log.Logger
	Manager   *idtable.Manager
	Timebases *timebase.Core
}

// New loads the tuning file at path and builds a System from it.
// Diagnostics go to wtr; pass nil to discard them.
func New(path string, wtr io.Writer) (*System, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return NewFromConfig(cfg, wtr)
}

// NewFromConfig builds a System from an already-validated Config.
func NewFromConfig(cfg *config.Config, wtr io.Writer) (*System, error) {
	var lgr *log.Logger
	if wtr == nil {
		lgr = log.NewDiscard()
	} else {
		lgr = log.New(wtr)
	}
	if err := lgr.SetLevelString(cfg.LogLevel); err != nil {
		return nil, err
	}
	mgr, err := idtable.NewManager(cfg.Capacities,
		idtable.WithLogger(lgr),
		idtable.WithTaskIdentity(platform.CurrentTaskID))
	if err != nil {
		return nil, err
	}
	core := timebase.NewCore(mgr,
		timebase.WithLogger(lgr),
		timebase.WithMicroSecPerTick(cfg.MicroSecPerTick))
	return &System{
		Config:    cfg,
		Log:       lgr,
		Manager:   mgr,
		Timebases: core,
	}, nil
}

// Shutdown stops every timebase helper, then sweeps the table clean of
// whatever objects remain. The sweep is best-effort per object and
// bounded (five passes); ErrObjectsLeaked is returned if anything
// survives it.
func (s *System) Shutdown(ctx context.Context) error {
	if err := s.Timebases.Shutdown(ctx); err != nil {
		return err
	}
	return s.Manager.DeleteAllObjects(func(id idclass.ID) error {
		class := idclass.ClassOf(id)
		switch class {
		case idclass.Timebase:
			return s.Timebases.TimeBaseDelete(ctx, id)
		case idclass.TimerCb:
			return s.Timebases.TimerDelete(ctx, id)
		default:
			r, err := s.Manager.GetById(ctx, idtable.LockExclusive, class, id)
			if err != nil {
				return err
			}
			return s.Manager.FinalizeDelete(class, r, nil)
		}
	})
}
