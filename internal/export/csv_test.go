package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"usageprep/internal/event"
	"usageprep/internal/preprocess"
	"usageprep/internal/usage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult(t *testing.T) *preprocess.Result {
	t.Helper()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	start := time.Date(2023, 5, 7, 8, 1, 0, 0, ny) // a Sunday
	stop := start.Add(90 * time.Second)
	d := stop.Sub(start)
	return &preprocess.Result{
		ParticipantID: "P001",
		DeviceModel:   preprocess.DeviceAndroid,
		Rows: []usage.Row{
			{
				Event: event.Event{
					StudyID: "S1", ParticipantID: "P001", Timestamp: start, Timezone: "America/New_York",
					AppPackageName: "com.example.chat", ApplicationLabel: "Chat", Type: event.AppUsage, GapHours: 1.5,
				},
				Start: &start, Stop: &stop, Duration: &d,
				Flags:           []string{">1-HR TIME GAP"},
				ValidEngagement: &usage.Engagement{NewEngage30s: true, NewEngageCustom: true},
				AnyEngagement:   &usage.Engagement{NewEngage30s: true, SwitchedApp: true, UsageTimeGapHours: 2},
			},
			{
				Event: event.Event{
					StudyID: "S1", ParticipantID: "P001", Timestamp: stop, Timezone: "America/New_York",
					AppPackageName: "com.example.chat", Type: event.Unknown, RawType: "Brand New Type",
				},
			},
		},
	}
}

func TestWrite(t *testing.T) {
	w := NewWriter("1.2.0", 300*time.Second)
	w.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	var buf bytes.Buffer
	require.NoError(t, w.Write(&buf, sampleResult(t)))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	header := records[0]
	assert.Contains(t, header, "valid_app_new_engage_custom_300s")
	col := func(rec []string, name string) string {
		for i, h := range header {
			if h == name {
				return rec[i]
			}
		}
		t.Fatalf("no column %s", name)
		return ""
	}
	for _, rec := range records {
		assert.Len(t, rec, len(header))
	}

	row := records[1]
	assert.Equal(t, "2023-05-07 08:01:00.000-04:00", col(row, "event_timestamp"))
	assert.Equal(t, "2023-05-07", col(row, "date"))
	assert.Equal(t, "App Usage", col(row, "interaction_type"))
	assert.Equal(t, "05-07-2023 08:01:00", col(row, "start_timestamp"))
	assert.Equal(t, "90", col(row, "duration_seconds"))
	assert.Equal(t, "1.5", col(row, "duration_minutes"))
	assert.Equal(t, ">1-HR TIME GAP", col(row, "any_app_usage_flags"))
	assert.Equal(t, "1", col(row, "day"))
	assert.Equal(t, "0", col(row, "weekdayMF"))
	assert.Equal(t, "0", col(row, "weekdayMTh"))
	assert.Equal(t, "1", col(row, "weekdaySuTh"))
	assert.Equal(t, "8", col(row, "hour"))
	assert.Equal(t, "2", col(row, "quarter"))
	assert.Equal(t, "1", col(row, "valid_app_new_engage_30s"))
	assert.Equal(t, "1", col(row, "any_app_switched_app"))
	assert.Equal(t, "2", col(row, "any_app_usage_time_gap"))
	assert.Equal(t, "Android", col(row, "possible_device_model"))
	assert.Equal(t, "1.2.0", col(row, "preprocessor_version"))
	assert.Equal(t, "01-02-2024 03:04:05", col(row, "datetime_of_preprocessing"))

	unknown := records[2]
	assert.Equal(t, "Brand New Type", col(unknown, "interaction_type"))
	assert.Empty(t, col(unknown, "start_timestamp"))
	assert.Empty(t, col(unknown, "duration_seconds"))
	assert.Empty(t, col(unknown, "valid_app_switched_app"))
}

func TestWriteEmptyResult(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter("dev", time.Minute).Write(&buf, &preprocess.Result{Empty: true}))
	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestOutputPath(t *testing.T) {
	got := OutputPath("/out", "Sleep Study", "/raw/P001 Raw Data.csv")
	assert.Equal(t, filepath.Join("/out", "Sleep Study Preprocessed Data", "P001 Data Preprocessed.csv"), got)

	got = OutputPath("/out", "", "/raw/P002.csv")
	assert.Equal(t, filepath.Join("/out", "Preprocessed Data", "P002 Preprocessed.csv"), got)
}

func TestSinkSave(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "Raw Data", "P001 Raw Data.csv")
	sink := NewSink(NewWriter("dev", time.Minute), "", "Study")

	require.NoError(t, sink.Save(context.Background(), raw, sampleResult(t)))

	out := filepath.Join(dir, "Study Preprocessed Data", "P001 Data Preprocessed.csv")
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "com.example.chat")

	entries, err := os.ReadDir(filepath.Dir(out))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestSinkCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewSink(NewWriter("dev", time.Minute), t.TempDir(), "S").Save(ctx, "x.csv", &preprocess.Result{})
	assert.ErrorIs(t, err, context.Canceled)
}
