package domain

import (
	"time"

	"github.com/google/uuid"
)

// RestrictionScope distinguishes sequence-local windows from shared ones.
type RestrictionScope string

const (
	ScopeLocal  RestrictionScope = "local"
	ScopeGlobal RestrictionScope = "global"
)

// TimeRestriction is a recurring weekly allow window. Sending is permitted
// while the current wall-clock time falls inside at least one active window.
type TimeRestriction struct {
	ID          uuid.UUID
	Name        string
	Active      bool
	Days        []time.Weekday
	StartHour   int
	StartMinute int
	EndHour     int
	EndMinute   int
	Scope       RestrictionScope
}

// SendingAllowed reports whether sending is permitted at the given moment.
// An empty restriction list means no restriction, always allowed. Windows
// are OR'd: one active matching window grants access. A window whose start
// is after its end never matches; overnight coverage is expressed as two
// windows (one up to midnight, one from midnight).
func SendingAllowed(restrictions []TimeRestriction, at time.Time) bool {
	if len(restrictions) == 0 {
		return true
	}

	weekday := at.Weekday()
	now := at.Hour()*60 + at.Minute()

	for _, r := range restrictions {
		if !r.Active || !r.appliesOn(weekday) {
			continue
		}
		start := r.StartHour*60 + r.StartMinute
		end := r.EndHour*60 + r.EndMinute
		if start <= now && now <= end {
			return true
		}
	}
	return false
}

func (r TimeRestriction) appliesOn(day time.Weekday) bool {
	for _, d := range r.Days {
		if d == day {
			return true
		}
	}
	return false
}
