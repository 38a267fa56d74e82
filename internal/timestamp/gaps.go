package timestamp

import (
	"fmt"
	"math"
	"time"

	"usageprep/internal/event"
)

// MarkGaps sets GapHours on a time-ordered sequence: hours since the
// previous event rounded to two decimals, zero for the first event.
func MarkGaps(events []event.Event) {
	for i := range events {
		if i == 0 {
			events[i].GapHours = 0
			continue
		}
		events[i].GapHours = GapHours(events[i-1].Timestamp, events[i].Timestamp)
	}
}

// GapHours is the distance from a to b in hours, rounded to two decimals.
func GapHours(a, b time.Time) float64 {
	return math.Round(b.Sub(a).Hours()*100) / 100
}

// DisorderedTimestampsError reports intervals whose start is after their stop.
type DisorderedTimestampsError struct {
	Count int
}

func (e *DisorderedTimestampsError) Error() string {
	return fmt.Sprintf("there were %d occurrences of the start timestamp being later than the stop timestamp, which should be impossible", e.Count)
}
