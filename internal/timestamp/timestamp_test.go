package timestamp

import (
	"testing"
	"time"

	"usageprep/internal/event"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"utc suffix", "2023-05-01T12:00:00Z", "2023-05-01T12:00:00.000+00:00", false},
		{"offset without fraction", "2023-05-01 12:00:00-04:00", "2023-05-01 12:00:00.000-04:00", false},
		{"already canonical", "2023-05-01 12:00:00.123+02:00", "2023-05-01 12:00:00.123+02:00", false},
		{"fraction and Z", "2023-05-01 12:00:00.5Z", "2023-05-01 12:00:00.5+00:00", false},
		{"no offset", "2023-05-01 12:00:00", "", true},
		{"date only", "2023-05-01", "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.raw)
			if tt.wantErr {
				var malformed *MalformedTimestampError
				require.ErrorAs(t, err, &malformed)
				assert.Equal(t, tt.raw, malformed.Value)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse(t *testing.T) {
	ts, label, err := Parse("2023-05-01 12:00:00-04:00")
	require.NoError(t, err)
	assert.Equal(t, "UTC-04:00", label)
	assert.True(t, ts.Equal(time.Date(2023, 5, 1, 16, 0, 0, 0, time.UTC)))

	ts, label, err = Parse("2023-05-01T12:00:00.250Z")
	require.NoError(t, err)
	assert.Equal(t, "UTC+00:00", label)
	assert.Equal(t, 250*time.Millisecond, time.Duration(ts.Nanosecond()))

	ts, label, err = Parse("2023-05-01 12:00:00.123456")
	require.NoError(t, err)
	assert.Empty(t, label)
	assert.Equal(t, time.UTC, ts.Location())

	_, _, err = Parse("not a timestamp at all, really")
	assert.Error(t, err)
}

func TestOffsetLabel(t *testing.T) {
	assert.Equal(t, "UTC+00:00", OffsetLabel(0))
	assert.Equal(t, "UTC+05:30", OffsetLabel(5*3600+30*60))
	assert.Equal(t, "UTC-04:00", OffsetLabel(-4*3600))
}

func TestResolveDuplicates(t *testing.T) {
	base := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	events := []event.Event{
		{Timestamp: base.Add(-time.Minute), AppPackageName: "earlier", Type: event.ScreenInteractive},
		{Timestamp: base, AppPackageName: "a", Type: event.ActivityPaused},
		{Timestamp: base, AppPackageName: "x", Type: event.Unknown, RawType: "Mystery"},
		{Timestamp: base, AppPackageName: "b", Type: event.ActivityResumed},
		{Timestamp: base, AppPackageName: "c", Type: event.NotificationSeen},
	}
	stop := event.NewTypeSet(event.ActivityPaused, event.ActivityResumed, event.KeyguardShown)

	out := ResolveDuplicates(events, stop, nil)
	require.Len(t, out, 5)

	for i := 1; i < len(out); i++ {
		assert.True(t, out[i-1].Timestamp.Before(out[i].Timestamp), "instants must be strictly increasing")
	}

	got := make(map[string]time.Time)
	for _, e := range out {
		got[e.AppPackageName] = e.Timestamp
	}
	assert.Equal(t, base.Add(-1), got["b"], "resume keeps the closest instant")
	assert.Equal(t, base.Add(-2), got["c"])
	assert.Equal(t, base.Add(-3), got["a"])
	assert.Equal(t, base.Add(-4), got["x"])
	assert.Equal(t, base.Add(-time.Minute), got["earlier"])

	// input untouched
	assert.Equal(t, base, events[1].Timestamp)
}

func TestResolveDuplicatesCollisionWithNeighbour(t *testing.T) {
	base := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	events := []event.Event{
		{Timestamp: base.Add(-1), AppPackageName: "n", Type: event.NotificationSeen},
		{Timestamp: base, AppPackageName: "a", Type: event.ActivityResumed},
		{Timestamp: base, AppPackageName: "b", Type: event.ActivityPaused},
	}
	out := ResolveDuplicates(events, event.NewTypeSet(event.ActivityPaused), nil)
	require.Len(t, out, 3)
	for i := 1; i < len(out); i++ {
		assert.True(t, out[i-1].Timestamp.Before(out[i].Timestamp))
	}
}

func TestMarkGaps(t *testing.T) {
	base := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	events := []event.Event{
		{Timestamp: base},
		{Timestamp: base.Add(90 * time.Minute)},
		{Timestamp: base.Add(90*time.Minute + 20*time.Second)},
	}
	MarkGaps(events)
	assert.Equal(t, 0.0, events[0].GapHours)
	assert.Equal(t, 1.5, events[1].GapHours)
	assert.Equal(t, 0.01, events[2].GapHours)
}

func TestDisorderedTimestampsError(t *testing.T) {
	err := &DisorderedTimestampsError{Count: 3}
	assert.Contains(t, err.Error(), "3 occurrences")
}
