package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"usageprep/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) storage.Storage {
	t.Helper()
	dsn := os.Getenv("USAGEPREP_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("USAGEPREP_TEST_POSTGRES_DSN not set")
	}
	store := NewStore(dsn, nil)
	require.NoError(t, store.Init(context.Background()))
	t.Cleanup(func() { assert.NoError(t, store.Close()) })
	return store
}

func TestSaveAndGetRecords(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	participant := "P-" + uuid.NewString()
	base := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	stop := base.Add(time.Minute)
	dur := 60.0
	run := storage.Run{ID: uuid.NewString(), ParticipantID: participant, StudyID: "S1", ProcessedAt: base, Rows: 2,
		Warnings: []string{"1 usage events without an end"}}
	records := []storage.Record{
		{StudyID: "S1", ParticipantID: participant, Timestamp: base, AppPackageName: "com.example.chat",
			InteractionType: "App Usage", Start: &base, Stop: &stop, DurationSeconds: &dur},
		{StudyID: "S1", ParticipantID: participant, Timestamp: stop, AppPackageName: "com.example.maps",
			InteractionType: "End of Usage Missing", Start: &stop},
	}
	require.NoError(t, store.SaveRun(ctx, run, records))

	got, err := store.GetRecords(ctx, participant, base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, run.ID, got[0].RunID)
	assert.Equal(t, base, got[0].Timestamp)
	require.NotNil(t, got[0].DurationSeconds)
	assert.InDelta(t, 60.0, *got[0].DurationSeconds, 0.001)
	assert.Nil(t, got[1].Stop)

	got, err = store.GetRecords(ctx, participant, base.Add(-time.Hour), base.Add(time.Hour), "End of Usage Missing")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "com.example.maps", got[0].AppPackageName)

	// a second run replaces the participant's rows
	run2 := run
	run2.ID = uuid.NewString()
	require.NoError(t, store.SaveRun(ctx, run2, records[:1]))
	got, err = store.GetRecords(ctx, participant, base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, run2.ID, got[0].RunID)
}

func TestUninitialized(t *testing.T) {
	store := NewStore("postgres://localhost/none", nil)
	assert.Error(t, store.SaveRun(context.Background(), storage.Run{}, nil))
	_, err := store.GetRecords(context.Background(), "P", time.Time{}, time.Now())
	assert.Error(t, err)
	assert.NoError(t, store.Close())
}
