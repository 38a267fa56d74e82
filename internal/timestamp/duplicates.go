package timestamp

import (
	"log/slog"
	"sort"
	"time"

	"usageprep/internal/event"
)

const (
	priorityResumed = iota
	priorityOther
	priorityStop
	priorityUnknown
)

func duplicatePriority(t event.InteractionType, stopTypes event.TypeSet) int {
	switch {
	case t == event.Unknown:
		return priorityUnknown
	case t == event.ActivityResumed:
		return priorityResumed
	case stopTypes.Has(t):
		return priorityStop
	default:
		return priorityOther
	}
}

// ResolveDuplicates makes every instant unique. Events sharing an instant
// are ordered resume first, then other events, then stop triggers, then
// unknown types, and shifted back by (rank+1) nanoseconds. stopTypes is the
// union of the same-app and other-app stop sets. The input is not modified.
func ResolveDuplicates(events []event.Event, stopTypes event.TypeSet, logger *slog.Logger) []event.Event {
	if logger == nil {
		logger = slog.Default()
	}
	out := append([]event.Event(nil), events...)
	sortByTime(out)

	if !resolvePass(out, stopTypes, logger) {
		return out
	}
	sortByTime(out)

	// A shifted group can land on the instant of the event just before it.
	for i := 1; i < len(out); i++ {
		if !out[i].Timestamp.After(out[i-1].Timestamp) {
			out[i].Timestamp = out[i-1].Timestamp.Add(time.Nanosecond)
		}
	}
	return out
}

// resolvePass shifts every duplicate group once and reports whether any
// group was found.
func resolvePass(events []event.Event, stopTypes event.TypeSet, logger *slog.Logger) bool {
	found := false
	warned := make(map[string]bool)
	for start := 0; start < len(events); {
		end := start + 1
		for end < len(events) && events[end].Timestamp.Equal(events[start].Timestamp) {
			end++
		}
		if end-start > 1 {
			found = true
			group := events[start:end]
			for _, e := range group {
				if e.Type == event.Unknown && !warned[e.RawType] {
					warned[e.RawType] = true
					logger.Warn("unrecognized interaction type in duplicate group",
						"type", e.RawType, "participant", e.ParticipantID)
				}
			}
			sort.SliceStable(group, func(i, j int) bool {
				return duplicatePriority(group[i].Type, stopTypes) < duplicatePriority(group[j].Type, stopTypes)
			})
			for rank := range group {
				group[rank].Timestamp = group[rank].Timestamp.Add(-time.Duration(rank+1) * time.Nanosecond)
			}
		}
		start = end
	}
	return found
}

func sortByTime(events []event.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}
