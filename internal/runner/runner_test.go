package runner

import (
	"context"
	"errors"
	"io/fs"
	"sync"
	"testing"
	"time"

	"usageprep/internal/config"
	"usageprep/internal/event"
	"usageprep/internal/metrics"
	"usageprep/internal/preprocess"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

type fakeCollector struct {
	mu       sync.Mutex
	files    map[string][]event.RawEvent
	failures map[string][]error
	calls    map[string]int
}

func (f *fakeCollector) Collect(_ context.Context, path string) ([]event.RawEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[path]++
	if errs := f.failures[path]; len(errs) > 0 {
		f.failures[path] = errs[1:]
		return nil, errs[0]
	}
	events, ok := f.files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return events, nil
}

type recordingSink struct {
	mu    sync.Mutex
	saved []string
	err   error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Save(_ context.Context, source string, _ *preprocess.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, source)
	return nil
}

func participant(id string) []event.RawEvent {
	ev := func(ts, typ string) event.RawEvent {
		return event.RawEvent{
			ParticipantID: id, EventTimestamp: ts, Timezone: "UTC",
			AppPackageName: "com.example.chat", ApplicationLabel: "Chat", InteractionType: typ,
		}
	}
	return []event.RawEvent{
		ev("2023-05-01 08:00:00+00:00", "Move to Foreground"),
		ev("2023-05-01 08:05:00+00:00", "Move to Background"),
	}
}

func newProcessor(t *testing.T) *preprocess.Processor {
	t.Helper()
	p, err := preprocess.NewProcessor(config.DefaultThresholds(config.ConvertToPrimary, ""), nil, nil)
	require.NoError(t, err)
	return p
}

func TestRun(t *testing.T) {
	c := &fakeCollector{
		files: map[string][]event.RawEvent{
			"b.csv": participant("P2"),
			"a.csv": participant("P1"),
			"empty.csv": {{
				ParticipantID: "P3", EventTimestamp: "2023-05-01 08:00:00+00:00", Timezone: "UTC",
				AppPackageName: "x", InteractionType: "Notification Seen",
			}},
			"bad.csv": {{ParticipantID: "P4", EventTimestamp: "garbage", InteractionType: "Move to Foreground"}},
		},
	}
	sink := &recordingSink{}
	m := metrics.New()
	r := New(c, newProcessor(t), WithSinks(sink), WithMetrics(m), WithWorkers(2), WithReadRetry(1, time.Millisecond))

	sum := r.Run(context.Background(), []string{"b.csv", "bad.csv", "a.csv", "empty.csv", "missing.csv"})

	var paths []string
	for _, f := range sum.Files {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{"a.csv", "b.csv", "bad.csv", "empty.csv", "missing.csv"}, paths)

	assert.Equal(t, metrics.OutcomeProcessed, sum.Files[0].Outcome)
	assert.Equal(t, "P1", sum.Files[0].Participant)
	assert.Equal(t, 1, sum.Files[0].Rows)
	assert.Equal(t, metrics.OutcomeFailed, sum.Files[2].Outcome)
	assert.Equal(t, metrics.OutcomeEmpty, sum.Files[3].Outcome)
	assert.ErrorIs(t, sum.Files[4].Err, fs.ErrNotExist)

	assert.Len(t, multierr.Errors(sum.Err), 2)
	assert.Equal(t, 5, sum.Stats.TotalFiles)
	assert.Equal(t, 2, sum.Stats.ProcessedFiles)
	assert.Equal(t, 1, sum.Stats.EmptyFiles)
	assert.Equal(t, 2, sum.Stats.FailedFiles)

	assert.ElementsMatch(t, []string{"a.csv", "b.csv", "empty.csv"}, sink.saved)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Files.WithLabelValues(metrics.OutcomeFailed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Rows.WithLabelValues("App Usage")))
}

func TestReadRetriesTransientErrors(t *testing.T) {
	c := &fakeCollector{
		files:    map[string][]event.RawEvent{"a.csv": participant("P1")},
		failures: map[string][]error{"a.csv": {errors.New("resource busy"), errors.New("resource busy")}},
	}
	r := New(c, newProcessor(t), WithReadRetry(3, time.Millisecond))

	res := r.ProcessFile(context.Background(), "a.csv")
	require.NoError(t, res.Err)
	assert.Equal(t, 3, c.calls["a.csv"])
}

func TestReadDoesNotRetryPermanentErrors(t *testing.T) {
	c := &fakeCollector{}
	r := New(c, newProcessor(t), WithReadRetry(5, time.Millisecond))

	res := r.ProcessFile(context.Background(), "missing.csv")
	assert.ErrorIs(t, res.Err, fs.ErrNotExist)
	assert.Equal(t, 1, c.calls["missing.csv"])
}

func TestSinkFailureMarksFileFailed(t *testing.T) {
	c := &fakeCollector{files: map[string][]event.RawEvent{"a.csv": participant("P1")}}
	sinkErr := errors.New("disk full")
	r := New(c, newProcessor(t), WithSinks(&recordingSink{err: sinkErr}))

	sum := r.Run(context.Background(), []string{"a.csv"})
	require.Len(t, sum.Files, 1)
	assert.ErrorIs(t, sum.Files[0].Err, sinkErr)
	assert.Equal(t, 1, sum.Stats.FailedFiles)
	assert.Equal(t, []string{"a.csv"}, sum.Stats.FailedNames())
}

func TestSharedStats(t *testing.T) {
	stats := preprocess.NewStats()
	c := &fakeCollector{files: map[string][]event.RawEvent{"a.csv": participant("P1")}}
	r := New(c, newProcessor(t), WithStats(stats))
	r.Run(context.Background(), []string{"a.csv"})
	r.Run(context.Background(), []string{"a.csv"})
	assert.Equal(t, 2, stats.Snapshot().ProcessedFiles)
	assert.Same(t, stats, r.Stats())
}
