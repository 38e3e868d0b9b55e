/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package platform

import "sync"

// NoopCreate and NoopDelete are stand-ins for a real per-kernel binding:
// they always succeed immediately. Useful for exercising the core
// against classes that have no interesting platform-side state (e.g. a
// MODULE slot in a test that only cares about ID lifecycle).
func NoopCreate(int, interface{}) error { return nil }
func NoopDelete(int) error              { return nil }

// ScriptedSync is a test-double ExternalSync that replays a fixed
// sequence of tick counts, one per call, then returns a fixed repeat
// value once the script is exhausted. It exists purely to drive osal/timebase's
// tests deterministically; it is not a timer implementation.
type ScriptedSync struct {
	mu     sync.Mutex
	ticks  []uint32
	pos    int
	repeat uint32
}

// NewScriptedSync builds a sync source that returns each of ticks in
// order, then repeat forever after.
func NewScriptedSync(ticks []uint32, repeat uint32) *ScriptedSync {
	return &ScriptedSync{ticks: ticks, repeat: repeat}
}

func (s *ScriptedSync) Next(int) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos < len(s.ticks) {
		t := s.ticks[s.pos]
		s.pos++
		return t, nil
	}
	return s.repeat, nil
}
