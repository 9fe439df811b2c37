package domain

import "time"

// DelayUnit is the unit of a stage's send delay.
type DelayUnit string

const (
	DelayMinutes DelayUnit = "minutes"
	DelayHours   DelayUnit = "hours"
	DelayDays    DelayUnit = "days"
)

// StageDelay converts a stage delay to a duration. Unknown units fall back
// to minutes, matching how upstream configurations have always been read.
func StageDelay(amount int, unit DelayUnit) time.Duration {
	if amount < 0 {
		amount = 0
	}
	switch unit {
	case DelayHours:
		return time.Duration(amount) * time.Hour
	case DelayDays:
		return time.Duration(amount) * 24 * time.Hour
	default:
		return time.Duration(amount) * time.Minute
	}
}
