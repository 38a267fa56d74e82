package runner

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"usageprep/internal/collector"
	"usageprep/internal/collector/csvfile"
	"usageprep/internal/event"
	"usageprep/internal/metrics"
	"usageprep/internal/preprocess"

	"github.com/codeGROOVE-dev/retry"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"
)

// Sink receives every successfully processed participant.
type Sink interface {
	Name() string
	Save(ctx context.Context, source string, res *preprocess.Result) error
}

// FileResult is the outcome of one participant file.
type FileResult struct {
	Path        string
	Participant string
	Outcome     string
	Rows        int
	Warnings    []string
	Err         error
	Elapsed     time.Duration
}

// Summary collects the outcomes of a run, ordered by path. Err combines
// every per-file error.
type Summary struct {
	Files []FileResult
	Stats preprocess.Snapshot
	Err   error
}

type Runner struct {
	collector    collector.Collector
	processor    *preprocess.Processor
	sinks        []Sink
	stats        *preprocess.Stats
	metrics      *metrics.Metrics
	workers      int
	readAttempts uint
	readDelay    time.Duration
	logger       *slog.Logger
}

type Option func(*Runner)

func WithSinks(sinks ...Sink) Option {
	return func(r *Runner) { r.sinks = append(r.sinks, sinks...) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithStats shares a Stats across runs, as the daemon does.
func WithStats(s *preprocess.Stats) Option {
	return func(r *Runner) { r.stats = s }
}

func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

func WithReadRetry(attempts uint, delay time.Duration) Option {
	return func(r *Runner) {
		r.readAttempts = attempts
		r.readDelay = delay
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

func New(c collector.Collector, p *preprocess.Processor, opts ...Option) *Runner {
	r := &Runner{
		collector:    c,
		processor:    p,
		workers:      4,
		readAttempts: 3,
		readDelay:    200 * time.Millisecond,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.stats == nil {
		r.stats = preprocess.NewStats()
	}
	return r
}

func (r *Runner) Stats() *preprocess.Stats { return r.stats }

// Run processes files concurrently. A failing file never stops the others.
func (r *Runner) Run(ctx context.Context, files []string) Summary {
	r.stats.AddTotal(len(files))
	r.logger.Info("starting run", "files", len(files), "workers", r.workers)

	p := pool.NewWithResults[FileResult]().WithMaxGoroutines(r.workers)
	for _, f := range files {
		p.Go(func() FileResult {
			return r.ProcessFile(ctx, f)
		})
	}
	results := p.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })

	var errs error
	for _, res := range results {
		if res.Err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", filepath.Base(res.Path), res.Err))
		}
	}
	snap := r.stats.Snapshot()
	r.logger.Info("run finished",
		"processed", snap.ProcessedFiles, "empty", snap.EmptyFiles, "failed", snap.FailedFiles)
	return Summary{Files: results, Stats: snap, Err: errs}
}

// ProcessFile reads, processes and stores one participant file. Sinks are
// only called once processing succeeded.
func (r *Runner) ProcessFile(ctx context.Context, path string) (res FileResult) {
	started := time.Now()
	res.Path = path
	defer func() {
		res.Elapsed = time.Since(started)
		if r.metrics != nil {
			r.metrics.ObserveFile(res.Outcome, res.Elapsed)
		}
	}()

	fail := func(err error) FileResult {
		res.Outcome = metrics.OutcomeFailed
		res.Err = err
		r.stats.MarkFailed(path, err)
		r.logger.Error("failed to process file", "file", path, "error", err)
		return res
	}

	raw, err := r.read(ctx, path)
	if err != nil {
		return fail(err)
	}
	out, err := r.processor.Process(raw)
	if err != nil {
		return fail(err)
	}
	res.Participant = out.ParticipantID
	res.Rows = len(out.Rows)
	res.Warnings = out.Warnings()

	for _, s := range r.sinks {
		if err := s.Save(ctx, path, out); err != nil {
			return fail(fmt.Errorf("%s sink: %w", s.Name(), err))
		}
	}

	if out.Empty {
		res.Outcome = metrics.OutcomeEmpty
		r.stats.MarkEmpty(path)
		r.logger.Warn("no valid app usage data", "file", path, "participant", out.ParticipantID)
	} else {
		res.Outcome = metrics.OutcomeProcessed
		r.stats.MarkProcessed(path, res.Warnings)
		r.logger.Info("processed file", "file", path, "participant", out.ParticipantID,
			"rows", res.Rows, "warnings", len(res.Warnings))
	}
	r.record(out)
	return res
}

func (r *Runner) read(ctx context.Context, path string) ([]event.RawEvent, error) {
	var raw []event.RawEvent
	err := retry.Do(
		func() error {
			var readErr error
			raw, readErr = r.collector.Collect(ctx, path)
			if readErr != nil && permanent(readErr) {
				return retry.Unrecoverable(readErr)
			}
			return readErr
		},
		retry.Context(ctx),
		retry.Attempts(r.readAttempts),
		retry.Delay(r.readDelay),
		retry.MaxDelay(5*time.Second),
		retry.DelayType(retry.FullJitterBackoffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Debug("retrying read", "attempt", n+1, "file", path, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return raw, nil
}

// permanent reports errors that another read attempt cannot fix.
func permanent(err error) bool {
	var missing *csvfile.MissingColumnsError
	var parse *csv.ParseError
	return errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, context.Canceled) ||
		errors.As(err, &missing) ||
		errors.As(err, &parse)
}

func (r *Runner) record(out *preprocess.Result) {
	if r.metrics == nil {
		return
	}
	for _, row := range out.Rows {
		r.metrics.Rows.WithLabelValues(row.Type.String()).Inc()
	}
	add := func(kind string, n int) {
		if n > 0 {
			r.metrics.Warnings.WithLabelValues(kind).Add(float64(n))
		}
	}
	add("missing_end", out.MissingEnd)
	add("timezone_removed", out.RemovedTimezone)
	add("unknown_type", len(out.UnknownTypes))
	add("label_mismatch", len(out.LabelMismatches))
}
