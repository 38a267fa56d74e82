package usage

import (
	"errors"
	"log/slog"
	"time"

	"usageprep/internal/config"
	"usageprep/internal/event"
	"usageprep/internal/timestamp"
)

// LongDurationCutoff is the longest a reconstructed interval may be.
const LongDurationCutoff = 12 * time.Hour

// ErrEmptyUsageData means a participant has no resume or pause events at all.
var ErrEmptyUsageData = errors.New("no valid app usage data during the study period")

// PassResult summarizes one reconstruction pass.
type PassResult struct {
	Rows       []Row
	Intervals  int
	MissingEnd int
}

// Reconstructor pairs start events with their terminators.
type Reconstructor struct {
	th     config.Thresholds
	logger *slog.Logger
}

// NewReconstructor takes its stop sets from th.
func NewReconstructor(th config.Thresholds, logger *slog.Logger) *Reconstructor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconstructor{th: th, logger: logger}
}

// stopSets returns the same-app and other-app trigger sets for a category.
// Filtered apps stop on the Filtered counterparts of the same-app set.
func (r *Reconstructor) stopSets(cat event.Category) (same, other event.TypeSet) {
	if cat == event.CategoryFiltered {
		return r.th.SameAppStopTypes.Map(event.InteractionType.Filtered), r.th.OtherAppStopTypes
	}
	return r.th.SameAppStopTypes, r.th.OtherAppStopTypes
}

// Reconstruct turns the resume events of one category into usage rows. Rows
// are expected in timestamp order. Start and stop are expressed in loc when
// it is non-nil. A Valid pass over data with no resume or pause events
// returns ErrEmptyUsageData; a Filtered pass returns the rows unchanged.
func (r *Reconstructor) Reconstruct(rows []Row, cat event.Category, loc *time.Location) (PassResult, error) {
	resumed, paused, stopped, usageType, ok := event.Lifecycle(cat)
	if !ok {
		return PassResult{Rows: rows}, nil
	}

	hasActivity := false
	for _, row := range rows {
		if row.Type == resumed || row.Type == paused {
			hasActivity = true
			break
		}
	}
	if !hasActivity {
		if cat == event.CategoryValid {
			return PassResult{}, ErrEmptyUsageData
		}
		return PassResult{Rows: rows}, nil
	}

	same, other := r.stopSets(cat)
	ix := newTerminatorIndex(rows, same, other, stopped)

	res := PassResult{Rows: make([]Row, 0, len(rows))}
	for i, row := range rows {
		switch row.Type {
		case paused:
			continue
		case resumed:
			start := row.Timestamp
			row.Start = &start
			term := chooseTerminator(ix.nextSameApp(i), ix.nextOtherApp(i), ix.nextStopped(i), LongDurationCutoff)
			if term.ok {
				stop := rows[term.pos].Timestamp
				row.Stop = &stop
				row.Type = usageType
				res.Intervals++
			} else {
				row.Type = event.EndOfUsageMissing
				res.MissingEnd++
			}
		}
		if row.Type == resumed && (row.Start == nil || row.Stop == nil) {
			continue
		}
		res.Rows = append(res.Rows, row)
	}
	if res.MissingEnd > 0 {
		r.logger.Warn("usage without end found",
			"category", cat.String(), "count", res.MissingEnd)
	}

	if loc != nil {
		for i := range res.Rows {
			if s := res.Rows[i].Start; s != nil {
				v := s.In(loc)
				res.Rows[i].Start = &v
			}
			if s := res.Rows[i].Stop; s != nil {
				v := s.In(loc)
				res.Rows[i].Stop = &v
			}
		}
	}

	if err := CheckOrdered(res.Rows); err != nil {
		return PassResult{}, err
	}

	if cat == event.CategoryValid {
		for i := range res.Rows {
			row := &res.Rows[i]
			if row.Type != usageType || row.Start == nil || row.Stop == nil {
				continue
			}
			d := row.Stop.Sub(*row.Start)
			if d < r.th.MinimumUsageDuration {
				row.Duration = nil
				continue
			}
			row.Duration = &d
		}
	}
	return res, nil
}

// CheckOrdered counts rows whose start is after their stop.
func CheckOrdered(rows []Row) error {
	count := 0
	for _, row := range rows {
		if row.Start != nil && row.Stop != nil && row.Start.After(*row.Stop) {
			count++
		}
	}
	if count > 0 {
		return &timestamp.DisorderedTimestampsError{Count: count}
	}
	return nil
}
