package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Today returns the current calendar day according to c. A nil clock uses
// real time.
func Today(c clockwork.Clock) time.Time {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	return Day(c.Now())
}
