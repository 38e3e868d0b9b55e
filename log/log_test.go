/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package log

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.SetLevel(WARN)
	l.Infof("should not appear")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below configured level, got %q", buf.String())
	}
	l.Warnf("should appear")
	if buf.Len() == 0 {
		t.Fatalf("expected output at configured level")
	}
}

func TestWarnOnceSuppressesRepeats(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.SetLevel(DEBUG)
	for i := 0; i < 5; i++ {
		l.WarnOnce("spin-limit", time.Hour, "spin limit reached")
	}
	lines := strings.Count(buf.String(), "\n")
	if lines != 1 {
		t.Fatalf("expected exactly one emitted line, got %d", lines)
	}
}

func TestLevelFromStringRejectsGarbage(t *testing.T) {
	if _, err := LevelFromString("not-a-level"); err != ErrInvalidLevel {
		t.Fatalf("expected ErrInvalidLevel, got %v", err)
	}
}
