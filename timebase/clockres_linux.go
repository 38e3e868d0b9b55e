//go:build linux
// +build linux

/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package timebase

import (
	"time"

	"golang.org/x/sys/unix"
)

// clockResolution asks the kernel for CLOCK_MONOTONIC's resolution, the
// real-world floor under any MicroSecPerTick value: a tick finer than
// the clock itself can tick is a configuration that can never deliver
// the accuracy it claims.
func clockResolution() (time.Duration, error) {
	var ts unix.Timespec
	if err := unix.ClockGetres(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0, err
	}
	return time.Duration(ts.Nano()), nil
}
