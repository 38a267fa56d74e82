package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"usageprep/internal/event"
)

const (
	colStudyID          = "study_id"
	colParticipantID    = "participant_id"
	colUsername         = "username"
	colEventTimestamp   = "event_timestamp"
	colTimezone         = "timezone"
	colAppPackageName   = "app_package_name"
	colApplicationLabel = "application_label"
	colInteractionType  = "interaction_type"
)

var requiredColumns = []string{colEventTimestamp, colAppPackageName, colInteractionType}

// MissingColumnsError lists required columns absent from a file header.
type MissingColumnsError struct {
	Path    string
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("%s: missing required columns %s", e.Path, strings.Join(e.Columns, ", "))
}

// Reader reads Chronicle raw CSV exports.
type Reader struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{logger: logger}
}

func (r *Reader) Collect(ctx context.Context, path string) ([]event.RawEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	events, err := r.Decode(ctx, f, path)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("read raw events", "file", path, "events", len(events))
	return events, nil
}

// Decode parses CSV content; name is used in error messages.
func (r *Reader) Decode(ctx context.Context, in io.Reader, name string) ([]event.RawEvent, error) {
	cr := csv.NewReader(in)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read header: %w", name, err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		cols[h] = i
	}
	var missing []string
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Path: name, Columns: missing}
	}

	field := func(rec []string, col string) string {
		i, ok := cols[col]
		if !ok || i >= len(rec) {
			return ""
		}
		v := strings.TrimSpace(rec[i])
		if v == "None" || v == "NaN" {
			return ""
		}
		return v
	}

	var events []event.RawEvent
	for line := 2; ; line++ {
		if line%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: %w", name, line, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		events = append(events, event.RawEvent{
			StudyID:          field(rec, colStudyID),
			ParticipantID:    field(rec, colParticipantID),
			Username:         field(rec, colUsername),
			EventTimestamp:   field(rec, colEventTimestamp),
			Timezone:         field(rec, colTimezone),
			AppPackageName:   field(rec, colAppPackageName),
			ApplicationLabel: field(rec, colApplicationLabel),
			InteractionType:  field(rec, colInteractionType),
		})
	}
	return events, nil
}

// Timezones collects the distinct timezone values across files. Files that
// cannot be read are logged and skipped.
func (r *Reader) Timezones(ctx context.Context, paths []string) []string {
	seen := make(map[string]struct{})
	for _, p := range paths {
		events, err := r.Collect(ctx, p)
		if err != nil {
			r.logger.Warn("error finding timezones", "file", p, "error", err)
			continue
		}
		found := false
		for _, e := range events {
			if e.Timezone != "" {
				seen[e.Timezone] = struct{}{}
				found = true
			}
		}
		if !found {
			r.logger.Warn("no timezone information found", "file", p)
		}
	}
	out := make([]string, 0, len(seen))
	for tz := range seen {
		out = append(out, tz)
	}
	sort.Strings(out)
	return out
}
