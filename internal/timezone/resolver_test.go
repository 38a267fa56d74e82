package timezone

import (
	"testing"
	"time"

	"usageprep/internal/config"
	"usageprep/internal/event"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ev(ts time.Time, tz, label string) event.Event {
	return event.Event{Timestamp: ts, Timezone: tz, OffsetLabel: label, ParticipantID: "p1"}
}

func TestLocationsLoad(t *testing.T) {
	l := NewLocations()

	loc, err := l.Load("UTC-04:00")
	require.NoError(t, err)
	_, off := time.Date(2023, 1, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, -4*3600, off)

	loc, err = l.Load("UTC+5:30")
	require.NoError(t, err)
	_, off = time.Date(2023, 1, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, 5*3600+30*60, off)

	loc, err = l.Load("America/Chicago")
	require.NoError(t, err)
	assert.Equal(t, "America/Chicago", loc.String())

	loc, err = l.Load("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	_, err = l.Load("Mars/Olympus_Mons")
	assert.Error(t, err)
	_, err = l.Load("UTC+19:00")
	assert.Error(t, err)
}

func TestNewResolverRequiresSelectedTimezone(t *testing.T) {
	_, err := NewResolver(config.ConvertToSelected, "", nil, nil)
	var missing *config.MissingTimezoneError
	require.ErrorAs(t, err, &missing)

	_, err = NewResolver(config.TimezonePolicy(9), "", nil, nil)
	assert.ErrorIs(t, err, config.ErrInvalidTimezoneOption)

	_, err = NewResolver(config.ConvertToPrimary, "", nil, nil)
	assert.NoError(t, err)
}

func TestPrimaryTimezone(t *testing.T) {
	r, err := NewResolver(config.ConvertToPrimary, "", nil, nil)
	require.NoError(t, err)
	base := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("column mode", func(t *testing.T) {
		tz, src, err := r.PrimaryTimezone([]event.Event{
			ev(base, "America/New_York", ""),
			ev(base, "America/Chicago", ""),
			ev(base, "America/Chicago", ""),
		})
		require.NoError(t, err)
		assert.Equal(t, "America/Chicago", tz)
		assert.Equal(t, SourceColumn, src)
	})
	t.Run("tie is lexicographic", func(t *testing.T) {
		tz, _, err := r.PrimaryTimezone([]event.Event{
			ev(base, "Europe/Paris", ""),
			ev(base, "Asia/Tokyo", ""),
		})
		require.NoError(t, err)
		assert.Equal(t, "Asia/Tokyo", tz)
	})
	t.Run("embedded offset", func(t *testing.T) {
		tz, src, err := r.PrimaryTimezone([]event.Event{
			ev(base, "", "UTC-04:00"),
			ev(base, "", "UTC-04:00"),
			ev(base, "", "UTC-05:00"),
		})
		require.NoError(t, err)
		assert.Equal(t, "UTC-04:00", tz)
		assert.Equal(t, SourceEmbedded, src)
	})
	t.Run("utc fallback", func(t *testing.T) {
		tz, src, err := r.PrimaryTimezone([]event.Event{ev(base, "", "")})
		require.NoError(t, err)
		assert.Equal(t, "UTC", tz)
		assert.Equal(t, SourceFallback, src)
	})
	t.Run("empty", func(t *testing.T) {
		_, _, err := r.PrimaryTimezone(nil)
		assert.ErrorIs(t, err, ErrNoPrimaryTimezone)
	})
}

func TestResolvePolicies(t *testing.T) {
	base := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	events := []event.Event{
		ev(base, "America/New_York", "UTC-04:00"),
		ev(base.Add(time.Hour), "America/Chicago", "UTC-05:00"),
		ev(base.Add(2*time.Hour), "America/New_York", "UTC-04:00"),
	}

	t.Run("remove unless selected", func(t *testing.T) {
		r, err := NewResolver(config.RemoveUnlessSelected, "America/Chicago", nil, nil)
		require.NoError(t, err)
		res, err := r.Resolve(events)
		require.NoError(t, err)
		require.Len(t, res.Events, 1)
		assert.Equal(t, 2, res.Removed)
		assert.Equal(t, "America/Chicago", res.Target)
		assert.Equal(t, "America/Chicago", res.Events[0].Timestamp.Location().String())
	})

	t.Run("convert to selected keeps instants", func(t *testing.T) {
		r, err := NewResolver(config.ConvertToSelected, "Asia/Tokyo", nil, nil)
		require.NoError(t, err)
		res, err := r.Resolve(events)
		require.NoError(t, err)
		require.Len(t, res.Events, 3)
		for i, e := range res.Events {
			assert.True(t, e.Timestamp.Equal(events[i].Timestamp))
			assert.Equal(t, "Asia/Tokyo", e.Timezone)
			assert.Equal(t, 21, e.Timestamp.Hour()-i)
		}
		// input untouched
		assert.Equal(t, "America/New_York", events[0].Timezone)
	})

	t.Run("remove unless primary", func(t *testing.T) {
		r, err := NewResolver(config.RemoveUnlessPrimary, "", nil, nil)
		require.NoError(t, err)
		res, err := r.Resolve(events)
		require.NoError(t, err)
		assert.Equal(t, "America/New_York", res.Primary)
		assert.Len(t, res.Events, 2)
		assert.Equal(t, 1, res.Removed)
	})

	t.Run("empty timezone column is removed", func(t *testing.T) {
		mixed := []event.Event{
			ev(base, "UTC-04:00", "UTC-04:00"),
			ev(base.Add(time.Hour), "", "UTC-04:00"),
		}
		r, err := NewResolver(config.RemoveUnlessSelected, "UTC-04:00", nil, nil)
		require.NoError(t, err)
		res, err := r.Resolve(mixed)
		require.NoError(t, err)
		assert.Len(t, res.Events, 1)
		assert.Equal(t, 1, res.Removed)

		r, err = NewResolver(config.RemoveUnlessPrimary, "", nil, nil)
		require.NoError(t, err)
		res, err = r.Resolve(mixed)
		require.NoError(t, err)
		assert.Len(t, res.Events, 1)
		assert.Equal(t, 1, res.Removed)
	})

	t.Run("remove unless primary with empty column", func(t *testing.T) {
		blank := []event.Event{
			ev(base, "", "UTC-04:00"),
			ev(base.Add(time.Hour), "", "UTC-04:00"),
		}
		r, err := NewResolver(config.RemoveUnlessPrimary, "", nil, nil)
		require.NoError(t, err)
		res, err := r.Resolve(blank)
		require.NoError(t, err)
		assert.Equal(t, "UTC-04:00", res.Primary)
		assert.Equal(t, SourceEmbedded, res.Source)
		assert.Empty(t, res.Events)
		assert.Equal(t, 2, res.Removed)
	})

	t.Run("convert to primary", func(t *testing.T) {
		r, err := NewResolver(config.ConvertToPrimary, "", nil, nil)
		require.NoError(t, err)
		res, err := r.Resolve(events)
		require.NoError(t, err)
		assert.Len(t, res.Events, 3)
		assert.Equal(t, 0, res.Removed)
		assert.Equal(t, 9, res.Events[1].Timestamp.Hour())
	})

	t.Run("unloadable primary", func(t *testing.T) {
		r, err := NewResolver(config.ConvertToPrimary, "", nil, nil)
		require.NoError(t, err)
		_, err = r.Resolve([]event.Event{ev(base, "Not/AZone", "")})
		assert.ErrorIs(t, err, ErrNoPrimaryTimezone)
	})
}

func TestConvertRoundTrip(t *testing.T) {
	orig := time.Date(2023, 11, 5, 5, 30, 0, 0, time.UTC)
	in := []event.Event{ev(orig, "UTC", "")}

	there, err := NewResolver(config.ConvertToSelected, "America/Los_Angeles", nil, nil)
	require.NoError(t, err)
	res, err := there.Resolve(in)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "America/Los_Angeles", res.Events[0].Timezone)

	back, err := NewResolver(config.ConvertToSelected, "UTC", nil, nil)
	require.NoError(t, err)
	res, err = back.Resolve(res.Events)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.True(t, orig.Equal(res.Events[0].Timestamp))
	assert.Equal(t, orig, res.Events[0].Timestamp)
}

func TestDistinct(t *testing.T) {
	got := Distinct([]event.Event{
		{Timezone: "b"}, {Timezone: "a"}, {Timezone: ""}, {Timezone: "b"},
	})
	assert.Equal(t, []string{"a", "b"}, got)
}
