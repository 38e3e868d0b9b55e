//go:build !linux
// +build !linux

/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package timebase

import "time"

// clockResolution has no portable equivalent of CLOCK_MONOTONIC's
// reported resolution outside Linux; assume a conservative 1ms floor
// rather than claim a precision this platform cannot confirm.
func clockResolution() (time.Duration, error) {
	return time.Millisecond, nil
}
