// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the time port: everything that reads "now" for expiry
// math or signing-period windows goes through a Clock rather than calling
// time.Now directly, the same way gitinterface.Repository threads a
// clockwork.Clock through for deterministic tests.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Real returns a Clock backed by the system clock.
func Real() Clock {
	return clockwork.NewRealClock()
}

// Fake returns a Clock fixed at t, for deterministic tests.
func Fake(t time.Time) *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(t)
}
