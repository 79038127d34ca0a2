/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package modules

import "time"

// Timer arms single-shot timers.
// The fire function may be invoked from another goroutine; callers are responsible
// for shifting the notification back onto their own event loop.
type Timer interface {
	AfterFunc(d time.Duration, fire func()) Stopper
}

// Stopper disarms a timer. Stop returns false if the timer already fired or was stopped.
type Stopper interface {
	Stop() bool
}

// RealTimer implements Timer using the time package.
type RealTimer struct{}

func (RealTimer) AfterFunc(d time.Duration, fire func()) Stopper {
	return time.AfterFunc(d, fire)
}
