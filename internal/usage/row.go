package usage

import (
	"time"

	"usageprep/internal/event"
)

// Row is one line of the enriched table: an event plus, for usage rows, the
// reconstructed interval and its annotations.
type Row struct {
	event.Event

	Start    *time.Time
	Stop     *time.Time
	Duration *time.Duration // set on valid usage rows at or above the minimum duration

	Flags []string

	ValidEngagement *Engagement
	AnyEngagement   *Engagement
}

// FromEvents wraps events as rows with no interval attached.
func FromEvents(events []event.Event) []Row {
	rows := make([]Row, len(events))
	for i, e := range events {
		rows[i] = Row{Event: e}
	}
	return rows
}

// IsUsage reports whether the row is a reconstructed usage interval.
func (r Row) IsUsage() bool {
	return (r.Type == event.AppUsage || r.Type == event.FilteredAppUsage) && r.Start != nil && r.Stop != nil
}

// DurationSeconds returns the duration in seconds, or false when unset.
func (r Row) DurationSeconds() (float64, bool) {
	if r.Duration == nil {
		return 0, false
	}
	return r.Duration.Seconds(), true
}
