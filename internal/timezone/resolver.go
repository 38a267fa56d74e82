package timezone

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"usageprep/internal/config"
	"usageprep/internal/event"
)

var ErrNoPrimaryTimezone = errors.New("no primary timezone detected in file")

// Source records where a file's primary timezone came from.
type Source string

const (
	SourceColumn   Source = "timezone column"
	SourceEmbedded Source = "embedded offset"
	SourceFallback Source = "utc fallback"
)

// Resolution is the outcome of applying a policy to one participant's events.
type Resolution struct {
	Events  []event.Event
	Target  string // timezone every remaining event is expressed in
	Primary string // detected primary timezone, empty for selected-timezone policies
	Source  Source
	Removed int
}

// Resolver applies a timezone policy. It keeps no per-file state and is
// safe for concurrent use.
type Resolver struct {
	policy    config.TimezonePolicy
	selected  string
	locations *Locations
	logger    *slog.Logger
}

// NewResolver validates the policy and loads the selected timezone up front.
func NewResolver(policy config.TimezonePolicy, selected string, locations *Locations, logger *slog.Logger) (*Resolver, error) {
	if !policy.Valid() {
		return nil, fmt.Errorf("%w: %d", config.ErrInvalidTimezoneOption, int(policy))
	}
	if policy.NeedsSelectedTimezone() && selected == "" {
		return nil, &config.MissingTimezoneError{Policy: policy}
	}
	if locations == nil {
		locations = NewLocations()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if selected != "" {
		if _, err := locations.Load(selected); err != nil {
			return nil, fmt.Errorf("selected timezone: %w", err)
		}
	}
	return &Resolver{policy: policy, selected: selected, locations: locations, logger: logger}, nil
}

// Resolve filters or converts events according to the policy. The returned
// events are copies; the input slice is not modified.
func (r *Resolver) Resolve(events []event.Event) (Resolution, error) {
	res := Resolution{Target: r.selected}
	if !r.policy.NeedsSelectedTimezone() {
		primary, source, err := r.PrimaryTimezone(events)
		if err != nil {
			return res, err
		}
		res.Primary, res.Source, res.Target = primary, source, primary
	}

	loc, err := r.locations.Load(res.Target)
	if err != nil {
		if !r.policy.NeedsSelectedTimezone() {
			return res, fmt.Errorf("%w: %v", ErrNoPrimaryTimezone, err)
		}
		return res, err
	}

	out := make([]event.Event, 0, len(events))
	for _, e := range events {
		if r.policy.Removes() && !inTimezone(e, res.Target) {
			res.Removed++
			continue
		}
		e.Timestamp = e.Timestamp.In(loc)
		e.Timezone = res.Target
		out = append(out, e)
	}
	if res.Removed > 0 {
		r.logger.Warn("removed events outside target timezone",
			"timezone", res.Target, "removed", res.Removed, "kept", len(out))
	}
	res.Events = out
	return res, nil
}

// PrimaryTimezone picks the most frequent timezone column value, then the
// most frequent embedded offset label, then UTC. Ties go to the
// lexicographically smallest value.
func (r *Resolver) PrimaryTimezone(events []event.Event) (string, Source, error) {
	if len(events) == 0 {
		return "", "", ErrNoPrimaryTimezone
	}
	if tz := mode(events, func(e event.Event) string { return e.Timezone }); tz != "" {
		return tz, SourceColumn, nil
	}
	if tz := mode(events, func(e event.Event) string { return e.OffsetLabel }); tz != "" {
		return tz, SourceEmbedded, nil
	}
	r.logger.Warn("no timezone information in file, defaulting to UTC",
		"participant", events[0].ParticipantID)
	return "UTC", SourceFallback, nil
}

// inTimezone matches the timezone column only. Rows with an empty column
// never match, so remove policies drop them.
func inTimezone(e event.Event, tz string) bool {
	return e.Timezone != "" && e.Timezone == tz
}

func mode(events []event.Event, key func(event.Event) string) string {
	counts := make(map[string]int)
	for _, e := range events {
		if k := key(e); k != "" {
			counts[k]++
		}
	}
	best, bestCount := "", 0
	for k, n := range counts {
		if n > bestCount || (n == bestCount && k < best) {
			best, bestCount = k, n
		}
	}
	return best
}

// Distinct returns the sorted set of non-empty timezone column values.
func Distinct(events []event.Event) []string {
	seen := make(map[string]struct{})
	for _, e := range events {
		if e.Timezone != "" {
			seen[e.Timezone] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for tz := range seen {
		out = append(out, tz)
	}
	sort.Strings(out)
	return out
}
