// Package meeting is the boundary to the external meeting service. The engine
// only needs the participant roster for a meeting and time range; everything
// else about the provider stays behind this interface.
package meeting

import (
	"errors"
	"time"
)

// ErrNoData indicates the provider could not return data for the requested
// range (retention horizon exceeded, provider outage). Callers must treat this
// differently from an empty roster: the window stays unresolved and is retried
// on a later pass instead of being recorded as a miss.
var ErrNoData = errors.New("meeting: no data available for requested range")

// Participant is one attendee reported by the provider.
type Participant struct {
	Identifier string    // reported contact identifier, typically an email
	Name       string
	JoinedAt   time.Time
	LeftAt     time.Time
}

// Overlap returns how long the participant's presence overlaps [from, to).
func (p Participant) Overlap(from, to time.Time) time.Duration {
	start := p.JoinedAt
	if start.Before(from) {
		start = from
	}
	end := p.LeftAt
	if end.After(to) {
		end = to
	}
	if !end.After(start) {
		return 0
	}
	return end.Sub(start)
}
