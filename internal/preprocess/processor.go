package preprocess

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"usageprep/internal/config"
	"usageprep/internal/event"
	"usageprep/internal/filter"
	"usageprep/internal/timestamp"
	"usageprep/internal/timezone"
	"usageprep/internal/usage"
)

// Result is the enriched table for one participant plus what was observed
// while building it.
type Result struct {
	ParticipantID   string
	StudyID         string
	Username        string
	DeviceModel     string
	Timezone        string
	PrimaryTimezone string
	Rows            []usage.Row
	Empty           bool

	Events           int
	RemovedTimezone  int
	RemovedTypes     int
	Intervals        int
	FilteredUsage    int
	MissingEnd       int
	UnknownTypes     map[string]int
	LabelMismatches  []filter.Mismatch
	DuplicateRepairs bool
}

// Warnings renders the data-quality observations of the run.
func (r *Result) Warnings() []string {
	var out []string
	if r.RemovedTimezone > 0 {
		out = append(out, fmt.Sprintf("%d events removed outside timezone %s", r.RemovedTimezone, r.Timezone))
	}
	if r.MissingEnd > 0 {
		out = append(out, fmt.Sprintf("%d usage events without an end", r.MissingEnd))
	}
	names := make([]string, 0, len(r.UnknownTypes))
	for n := range r.UnknownTypes {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		out = append(out, fmt.Sprintf("unrecognized interaction type %q (%d rows)", n, r.UnknownTypes[n]))
	}
	for _, m := range r.LabelMismatches {
		out = append(out, fmt.Sprintf("label %q for %s not in filter list", m.ApplicationLabel, m.AppPackageName))
	}
	return out
}

// Processor runs the per-participant pipeline. It holds only read-only
// configuration and may be shared by concurrent workers.
type Processor struct {
	th            config.Thresholds
	resolver      *timezone.Resolver
	locations     *timezone.Locations
	filter        *filter.AppFilter
	reconstructor *usage.Reconstructor
	logger        *slog.Logger
}

func NewProcessor(th config.Thresholds, appFilter *filter.AppFilter, logger *slog.Logger) (*Processor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	locations := timezone.NewLocations()
	resolver, err := timezone.NewResolver(th.TimezonePolicy, th.SelectedTimezone, locations, logger)
	if err != nil {
		return nil, err
	}
	return &Processor{
		th:            th,
		resolver:      resolver,
		locations:     locations,
		filter:        appFilter,
		reconstructor: usage.NewReconstructor(th, logger),
		logger:        logger,
	}, nil
}

// Process builds the enriched table for one participant's raw events.
// A participant with no usage events yields Result.Empty and a nil error.
func (p *Processor) Process(raw []event.RawEvent) (*Result, error) {
	res := &Result{UnknownTypes: make(map[string]int)}
	events, err := p.normalize(raw, res)
	if err != nil {
		return nil, err
	}
	res.Events = len(events)
	log := p.logger.With("participant", res.ParticipantID)
	if len(events) == 0 {
		log.Warn("no events in file")
		res.Empty = true
		return res, nil
	}

	if p.th.CorrectDuplicateTimestamps {
		stopTypes := make(event.TypeSet)
		for t := range p.th.SameAppStopTypes {
			stopTypes[t] = struct{}{}
		}
		for t := range p.th.OtherAppStopTypes {
			stopTypes[t] = struct{}{}
		}
		events = timestamp.ResolveDuplicates(events, stopTypes, log)
		res.DuplicateRepairs = true
	} else {
		sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
	}

	tz, err := p.resolver.Resolve(events)
	if err != nil {
		return nil, fmt.Errorf("participant %s: %w", res.ParticipantID, err)
	}
	events = tz.Events
	res.Timezone, res.PrimaryTimezone, res.RemovedTimezone = tz.Target, tz.Primary, tz.Removed

	timestamp.MarkGaps(events)
	res.DeviceModel = DetectDeviceModel(events)
	res.LabelMismatches = p.filter.Apply(events, log)

	loc, err := p.locations.Load(tz.Target)
	if err != nil {
		return nil, err
	}
	rows := usage.FromEvents(events)

	filtered, err := p.reconstructor.Reconstruct(rows, event.CategoryFiltered, loc)
	if err != nil {
		return nil, fmt.Errorf("participant %s: %w", res.ParticipantID, err)
	}
	valid, err := p.reconstructor.Reconstruct(filtered.Rows, event.CategoryValid, loc)
	if errors.Is(err, usage.ErrEmptyUsageData) {
		log.Warn("no valid app usage data during the study period")
		res.Empty = true
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("participant %s: %w", res.ParticipantID, err)
	}
	res.Intervals = valid.Intervals
	res.FilteredUsage = filtered.Intervals
	res.MissingEnd = filtered.MissingEnd + valid.MissingEnd

	rows = valid.Rows
	usage.AddEngagement(rows, p.th.CustomEngagementWindow)
	usage.AddFlags(rows, p.th.LongDataTimeGapThresholds, p.th.LongUsageDurationThresholds)

	res.Rows, res.RemovedTypes = p.removeTypes(rows)
	return res, nil
}

func (p *Processor) normalize(raw []event.RawEvent, res *Result) ([]event.Event, error) {
	events := make([]event.Event, 0, len(raw))
	for _, r := range raw {
		if res.ParticipantID == "" && r.ParticipantID != "" {
			res.ParticipantID = strings.TrimSpace(r.ParticipantID)
		}
		if res.StudyID == "" && r.StudyID != "" {
			res.StudyID = strings.TrimSpace(r.StudyID)
		}
		if res.Username == "" && r.Username != "" {
			res.Username = strings.TrimSpace(r.Username)
		}

		ts, offset, err := timestamp.Parse(r.EventTimestamp)
		if err != nil {
			return nil, err
		}
		typ, ok := event.ParseInteractionType(r.InteractionType)
		if !ok {
			if res.UnknownTypes[r.InteractionType] == 0 {
				p.logger.Warn("unrecognized interaction type",
					"participant", r.ParticipantID, "type", r.InteractionType)
			}
			res.UnknownTypes[r.InteractionType]++
		}
		events = append(events, event.Event{
			StudyID:          r.StudyID,
			ParticipantID:    r.ParticipantID,
			Username:         r.Username,
			Timestamp:        ts,
			Timezone:         strings.TrimSpace(r.Timezone),
			OffsetLabel:      offset,
			AppPackageName:   strings.TrimSpace(r.AppPackageName),
			ApplicationLabel: strings.TrimSpace(r.ApplicationLabel),
			Type:             typ,
			RawType:          r.InteractionType,
		})
	}
	return events, nil
}

// removeTypes drops rows of the configured types unless they carry a
// time-gap flag.
func (p *Processor) removeTypes(rows []usage.Row) ([]usage.Row, int) {
	if len(p.th.TypesToRemove) == 0 {
		return rows, 0
	}
	minGap := math.Inf(1)
	if n := len(p.th.LongDataTimeGapThresholds); n > 0 {
		minGap = float64(p.th.LongDataTimeGapThresholds[n-1])
	}
	out := rows[:0]
	removed := 0
	for _, r := range rows {
		if p.th.TypesToRemove.Has(r.Type) && r.GapHours < minGap {
			removed++
			continue
		}
		out = append(out, r)
	}
	return out, removed
}
