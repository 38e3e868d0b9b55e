/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package idtable

import (
	"gopkg.in/yaml.v3"

	"github.com/gravwell/osal/idclass"
)

// RecordSnapshot is one active slot's read-only state, captured for
// Dump. It never round-trips back into the table; this is a debug
// view, not a persistence format — IDs do not survive a process
// restart.
type RecordSnapshot struct {
	Class    string     `yaml:"class"`
	ID       idclass.ID `yaml:"id"`
	Name     string     `yaml:"name"`
	Creator  idclass.ID `yaml:"creator"`
	Refcount int32      `yaml:"refcount"`
}

// Dump renders every currently active record across every class as
// YAML, brief-locking each class in turn the same way ForEach does.
// Meant for operator diagnostics (a `SIGUSR1`-triggered table dump, a
// CLI inspection command), never for control flow.
func (m *Manager) Dump() ([]byte, error) {
	var snaps []RecordSnapshot
	for c := 0; c < idclass.MaxClasses; c++ {
		class := idclass.Class(c)
		ct := m.classes[c]
		ct.lock()
		for i := range ct.records {
			r := &ct.records[i]
			if r.ActiveID == idclass.Undefined || r.ActiveID == idclass.Reserved {
				continue
			}
			snaps = append(snaps, RecordSnapshot{
				Class:    class.String(),
				ID:       r.ActiveID,
				Name:     r.Name,
				Creator:  r.Creator,
				Refcount: r.Refcount,
			})
		}
		ct.unlock()
	}
	return yaml.Marshal(snaps)
}
