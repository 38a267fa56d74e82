package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"usageprep/internal/preprocess"
	"usageprep/internal/timestamp"
	"usageprep/internal/usage"
)

const (
	// DateTimeFormat is used for interval endpoints and the processing time.
	DateTimeFormat = "01-02-2006 15:04:05"
	DateFormat     = "2006-01-02"

	folderSuffix = "Preprocessed Data"
	fileSuffix   = "Preprocessed.csv"
)

// Writer renders processed participants as CSV.
type Writer struct {
	version       string
	customSeconds int
	now           func() time.Time
}

func NewWriter(version string, customWindow time.Duration) *Writer {
	return &Writer{
		version:       version,
		customSeconds: int(customWindow / time.Second),
		now:           time.Now,
	}
}

func (w *Writer) Header() []string {
	custom := strconv.Itoa(w.customSeconds)
	return []string{
		"study_id", "participant_id", "possible_device_model", "username",
		"event_timestamp", "date", "timezone",
		"app_package_name", "application_label", "interaction_type",
		"start_timestamp", "stop_timestamp", "duration_seconds", "duration_minutes",
		"any_app_usage_flags", "data_time_gap_hours", "any_app_usage_time_gap",
		"day", "weekdayMF", "weekdayMTh", "weekdaySuTh", "hour", "quarter",
		"valid_app_new_engage_30s", "valid_app_new_engage_custom_" + custom + "s",
		"valid_app_switched_app", "valid_app_usage_time_gap_hours",
		"any_app_new_engage_30s", "any_app_new_engage_custom_" + custom + "s",
		"any_app_switched_app",
		"preprocessor_version", "datetime_of_preprocessing",
	}
}

// Write emits the header and one record per row. An empty result still
// produces the header.
func (w *Writer) Write(out io.Writer, res *preprocess.Result) error {
	cw := csv.NewWriter(out)
	if err := cw.Write(w.Header()); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	processedAt := w.now().Format(DateTimeFormat)
	for i := range res.Rows {
		if err := cw.Write(w.record(res, &res.Rows[i], processedAt)); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func (w *Writer) record(res *preprocess.Result, r *usage.Row, processedAt string) []string {
	ts := r.Timestamp
	wd := ts.Weekday()

	rec := []string{
		r.StudyID, r.ParticipantID, res.DeviceModel, r.Username,
		ts.Format(timestamp.Format), ts.Format(DateFormat), r.Timezone,
		r.AppPackageName, r.ApplicationLabel, r.TypeName(),
		formatTime(r.Start), formatTime(r.Stop),
	}
	if secs, ok := r.DurationSeconds(); ok {
		rec = append(rec, formatFloat(secs, 3), formatFloat(secs/60, 3))
	} else {
		rec = append(rec, "", "")
	}
	rec = append(rec,
		strings.Join(r.Flags, "; "),
		formatFloat(r.GapHours, 2),
		gapHours(r.AnyEngagement),
		strconv.Itoa(int(wd)+1),
		boolInt(wd >= time.Monday && wd <= time.Friday),
		boolInt(wd >= time.Monday && wd <= time.Thursday),
		boolInt(wd <= time.Thursday),
		strconv.Itoa(ts.Hour()),
		strconv.Itoa((int(ts.Month())-1)/3+1),
	)
	rec = append(rec, engagementFields(r.ValidEngagement, true)...)
	rec = append(rec, engagementFields(r.AnyEngagement, false)...)
	rec = append(rec, w.version, processedAt)
	return rec
}

func engagementFields(e *usage.Engagement, withGap bool) []string {
	if e == nil {
		if withGap {
			return []string{"", "", "", ""}
		}
		return []string{"", "", ""}
	}
	out := []string{boolInt(e.NewEngage30s), boolInt(e.NewEngageCustom), boolInt(e.SwitchedApp)}
	if withGap {
		out = append(out, strconv.Itoa(e.UsageTimeGapHours))
	}
	return out
}

func gapHours(e *usage.Engagement) string {
	if e == nil {
		return ""
	}
	return strconv.Itoa(e.UsageTimeGapHours)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(DateTimeFormat)
}

func formatFloat(v float64, places int) string {
	p := math.Pow(10, float64(places))
	return strconv.FormatFloat(math.Round(v*p)/p, 'f', -1, 64)
}

func boolInt(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// OutputPath names the preprocessed file for a raw export:
// <folder>/<study> Preprocessed Data/<stem without "Raw "> Preprocessed.csv.
func OutputPath(folder, study, rawPath string) string {
	stem := strings.TrimSuffix(filepath.Base(rawPath), filepath.Ext(rawPath))
	stem = strings.ReplaceAll(stem, "Raw ", "")
	dir := strings.TrimSpace(study + " " + folderSuffix)
	return filepath.Join(folder, dir, stem+" "+fileSuffix)
}

// Sink writes each processed participant to its own CSV file.
type Sink struct {
	writer *Writer
	folder string
	study  string
}

// NewSink writes under folder. An empty folder means the parent of each raw file's directory.
func NewSink(w *Writer, folder, study string) *Sink {
	return &Sink{writer: w, folder: folder, study: study}
}

func (s *Sink) Name() string { return "csv" }

func (s *Sink) Save(ctx context.Context, source string, res *preprocess.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	folder := s.folder
	if folder == "" {
		folder = filepath.Dir(filepath.Dir(source))
	}
	path := OutputPath(folder, s.study, source)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".usageprep-*.csv")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := s.writer.Write(tmp, res); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}
