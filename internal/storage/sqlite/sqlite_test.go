package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"usageprep/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) (storage.Storage, func()) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "test_usageprep.db")
	store := NewSQLiteStore(dbPath, nil)
	err := store.Init(context.Background())
	require.NoError(t, err, "Failed to initialize test database")

	cleanup := func() {
		assert.NoError(t, store.Close(), "Failed to close test database")
	}
	return store, cleanup
}

func testRecords(runID string, base time.Time) []storage.Record {
	stop := base.Add(2 * time.Minute)
	dur := 120.0
	return []storage.Record{
		{
			RunID: runID, StudyID: "S1", ParticipantID: "P001", Timestamp: base, Timezone: "America/New_York",
			AppPackageName: "com.example.chat", ApplicationLabel: "Chat", InteractionType: "App Usage",
			Start: &base, Stop: &stop, DurationSeconds: &dur, Flags: ">1-HR TIME GAP", GapHours: 1.25,
		},
		{
			RunID: runID, StudyID: "S1", ParticipantID: "P001", Timestamp: base.Add(5 * time.Minute),
			AppPackageName: "com.example.maps", InteractionType: "End of Usage Missing", Start: &base,
		},
		{
			RunID: runID, StudyID: "S1", ParticipantID: "P001", Timestamp: base.Add(10 * time.Minute),
			AppPackageName: "android", InteractionType: "Device Shutdown",
		},
	}
}

func TestSaveAndGetRecords(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	base := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	run := storage.Run{ID: "run-1", ParticipantID: "P001", StudyID: "S1", ProcessedAt: time.Now(), Rows: 3}

	require.NoError(t, store.SaveRun(ctx, run, testRecords(run.ID, base)))

	got, err := store.GetRecords(ctx, "P001", base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 3)

	first := got[0]
	assert.Greater(t, first.ID, int64(0))
	assert.Equal(t, "run-1", first.RunID)
	assert.Equal(t, base, first.Timestamp)
	assert.Equal(t, "Chat", first.ApplicationLabel)
	require.NotNil(t, first.Stop)
	assert.Equal(t, base.Add(2*time.Minute), *first.Stop)
	require.NotNil(t, first.DurationSeconds)
	assert.InDelta(t, 120.0, *first.DurationSeconds, 0.001)
	assert.InDelta(t, 1.25, first.GapHours, 0.001)

	assert.Nil(t, got[1].Stop)
	assert.Nil(t, got[1].DurationSeconds)
	assert.Nil(t, got[2].Start)
}

func TestGetRecordsFiltering(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	base := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveRun(ctx, storage.Run{ID: "r", ParticipantID: "P001", StudyID: "S1", ProcessedAt: base},
		testRecords("r", base)))

	got, err := store.GetRecords(ctx, "P001", base, base.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = store.GetRecords(ctx, "P001", base.Add(-time.Hour), base.Add(time.Hour), "App Usage")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "com.example.chat", got[0].AppPackageName)

	got, err = store.GetRecords(ctx, "P001", base.Add(-time.Hour), base.Add(time.Hour), "App Usage", "Device Shutdown")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = store.GetRecords(ctx, "P999", base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 0)
}

func TestSaveRunReplacesParticipant(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	base := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveRun(ctx, storage.Run{ID: "first", ParticipantID: "P001", StudyID: "S1", ProcessedAt: base},
		testRecords("first", base)))
	require.NoError(t, store.SaveRun(ctx, storage.Run{ID: "second", ParticipantID: "P001", StudyID: "S1", ProcessedAt: base},
		testRecords("second", base)[:1]))

	got, err := store.GetRecords(ctx, "P001", base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "second", got[0].RunID)
}

func TestSaveRunRollsBack(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	base := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	run := storage.Run{ID: "dup", ParticipantID: "P001", StudyID: "S1", ProcessedAt: base}
	require.NoError(t, store.SaveRun(ctx, run, testRecords(run.ID, base)))

	// same run id violates the primary key after the delete ran
	assert.Error(t, store.SaveRun(ctx, run, testRecords(run.ID, base)))

	got, err := store.GetRecords(ctx, "P001", base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestCloseDB(t *testing.T) {
	store, cleanup := setupTestDB(t)
	cleanup()

	err := store.SaveRun(context.Background(), storage.Run{ID: "x", ParticipantID: "P", ProcessedAt: time.Now()}, nil)
	assert.Error(t, err)
}
