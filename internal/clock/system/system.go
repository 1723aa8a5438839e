// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements tender.Clock with UTC timestamps truncated to microseconds,
// matching the precision Postgres stores for timestamptz columns.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
