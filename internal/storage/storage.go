package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"usageprep/internal/preprocess"
	"usageprep/internal/usage"

	"github.com/google/uuid"
)

// Run describes one processing of a participant file.
type Run struct {
	ID            string
	ParticipantID string
	StudyID       string
	Source        string
	Version       string
	Timezone      string
	DeviceModel   string
	ProcessedAt   time.Time
	Rows          int
	Empty         bool
	Warnings      []string
}

// Record is a persisted row of the enriched table. Times are stored in UTC.
type Record struct {
	ID               int64
	RunID            string
	StudyID          string
	ParticipantID    string
	Timestamp        time.Time
	Timezone         string
	AppPackageName   string
	ApplicationLabel string
	InteractionType  string
	Start            *time.Time
	Stop             *time.Time
	DurationSeconds  *float64
	Flags            string
	GapHours         float64
}

// Storage persists processed participants. SaveRun replaces any earlier
// rows of the same participant atomically.
type Storage interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run Run, records []Record) error
	GetRecords(ctx context.Context, participantID string, start, end time.Time, interactionTypes ...string) ([]Record, error)
	Close() error
}

// NewRecords flattens enriched rows for persistence.
func NewRecords(runID string, rows []usage.Row) []Record {
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		rec := Record{
			RunID:            runID,
			StudyID:          r.StudyID,
			ParticipantID:    r.ParticipantID,
			Timestamp:        r.Timestamp.UTC(),
			Timezone:         r.Timezone,
			AppPackageName:   r.AppPackageName,
			ApplicationLabel: r.ApplicationLabel,
			InteractionType:  r.TypeName(),
			Flags:            strings.Join(r.Flags, "; "),
			GapHours:         r.GapHours,
		}
		if r.Start != nil {
			t := r.Start.UTC()
			rec.Start = &t
		}
		if r.Stop != nil {
			t := r.Stop.UTC()
			rec.Stop = &t
		}
		if secs, ok := r.DurationSeconds(); ok {
			rec.DurationSeconds = &secs
		}
		out = append(out, rec)
	}
	return out
}

// Sink stores each processed participant as a new run.
type Sink struct {
	store   Storage
	version string
	now     func() time.Time
}

func NewSink(store Storage, version string) *Sink {
	return &Sink{store: store, version: version, now: time.Now}
}

func (s *Sink) Name() string { return "storage" }

func (s *Sink) Save(ctx context.Context, source string, res *preprocess.Result) error {
	run := Run{
		ID:            uuid.NewString(),
		ParticipantID: res.ParticipantID,
		StudyID:       res.StudyID,
		Source:        source,
		Version:       s.version,
		Timezone:      res.Timezone,
		DeviceModel:   res.DeviceModel,
		ProcessedAt:   s.now().UTC(),
		Rows:          len(res.Rows),
		Empty:         res.Empty,
		Warnings:      res.Warnings(),
	}
	if err := s.store.SaveRun(ctx, run, NewRecords(run.ID, res.Rows)); err != nil {
		return fmt.Errorf("failed to save run for %s: %w", res.ParticipantID, err)
	}
	return nil
}

// AppSummary aggregates valid usage for one app.
type AppSummary struct {
	AppPackageName   string
	ApplicationLabel string
	Sessions         int
	Total            time.Duration
}

// Summarize totals the durations of usage records per app, largest first.
func Summarize(records []Record, interactionType string) []AppSummary {
	byApp := make(map[string]*AppSummary)
	for _, r := range records {
		if r.InteractionType != interactionType {
			continue
		}
		s, ok := byApp[r.AppPackageName]
		if !ok {
			s = &AppSummary{AppPackageName: r.AppPackageName, ApplicationLabel: r.ApplicationLabel}
			byApp[r.AppPackageName] = s
		}
		s.Sessions++
		if r.DurationSeconds != nil {
			s.Total += time.Duration(*r.DurationSeconds * float64(time.Second))
		}
	}
	out := make([]AppSummary, 0, len(byApp))
	for _, s := range byApp {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].AppPackageName < out[j].AppPackageName
	})
	return out
}
