package usage

import (
	"math"
	"time"

	"usageprep/internal/event"
)

// NewEngagementWindow is the fixed gap after which usage counts as a new engagement.
const NewEngagementWindow = 30 * time.Second

// Engagement describes a usage row relative to the previous usage row in
// the same scope.
type Engagement struct {
	NewEngage30s      bool
	NewEngageCustom   bool
	SwitchedApp       bool
	UsageTimeGapHours int
}

// engagementFold carries the previous usage row of one scope.
type engagementFold struct {
	prev   *Row
	window time.Duration
}

func (f engagementFold) step(row *Row) (Engagement, engagementFold) {
	if f.prev == nil {
		return Engagement{NewEngage30s: true, NewEngageCustom: true}, engagementFold{prev: row, window: f.window}
	}
	gap := row.Start.Sub(*f.prev.Stop)
	e := Engagement{
		NewEngage30s:      gap > NewEngagementWindow,
		NewEngageCustom:   gap > f.window,
		SwitchedApp:       row.AppPackageName != f.prev.AppPackageName,
		UsageTimeGapHours: int(math.Floor(gap.Seconds() / 3600)),
	}
	return e, engagementFold{prev: row, window: f.window}
}

// AddEngagement annotates usage rows in place. Valid usage rows get both
// scopes; filtered usage rows only the any-app scope.
func AddEngagement(rows []Row, customWindow time.Duration) {
	valid := engagementFold{window: customWindow}
	anyApp := engagementFold{window: customWindow}
	for i := range rows {
		row := &rows[i]
		if !row.IsUsage() {
			continue
		}
		var e Engagement
		e, anyApp = anyApp.step(row)
		row.AnyEngagement = &e
		if row.Type == event.AppUsage {
			var v Engagement
			v, valid = valid.step(row)
			row.ValidEngagement = &v
		}
	}
}
