package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"usageprep/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	dsn    string
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewStore(dsn string, logger *slog.Logger) storage.Storage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dsn: dsn, logger: logger}
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	participant_id TEXT NOT NULL,
	study_id TEXT,
	source TEXT,
	version TEXT,
	timezone TEXT,
	device_model TEXT,
	processed_at TIMESTAMPTZ NOT NULL,
	row_count INTEGER NOT NULL,
	empty BOOLEAN NOT NULL,
	warnings TEXT[]
);
CREATE TABLE IF NOT EXISTS usage_rows (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	study_id TEXT,
	participant_id TEXT NOT NULL,
	event_timestamp TIMESTAMPTZ NOT NULL,
	timezone TEXT,
	app_package_name TEXT,
	application_label TEXT,
	interaction_type TEXT NOT NULL,
	start_timestamp TIMESTAMPTZ,
	stop_timestamp TIMESTAMPTZ,
	duration_seconds DOUBLE PRECISION,
	flags TEXT,
	data_time_gap_hours DOUBLE PRECISION
);
CREATE INDEX IF NOT EXISTS idx_usage_rows_participant ON usage_rows (participant_id, event_timestamp);
CREATE INDEX IF NOT EXISTS idx_usage_rows_type ON usage_rows (interaction_type);
`

var rowColumns = []string{
	"run_id", "study_id", "participant_id", "event_timestamp", "timezone", "app_package_name",
	"application_label", "interaction_type", "start_timestamp", "stop_timestamp", "duration_seconds",
	"flags", "data_time_gap_hours",
}

func (s *Store) Init(ctx context.Context) error {
	cfg, err := pgxpool.ParseConfig(s.dsn)
	if err != nil {
		return fmt.Errorf("failed to parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	s.pool = pool

	if err := s.pool.Ping(ctx); err != nil {
		s.pool.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		s.pool.Close()
		return fmt.Errorf("failed to create tables: %w", err)
	}
	s.logger.Info("postgres storage ready", "host", cfg.ConnConfig.Host, "database", cfg.ConnConfig.Database)
	return nil
}

func (s *Store) SaveRun(ctx context.Context, run storage.Run, records []storage.Record) error {
	if s.pool == nil {
		return errors.New("storage not initialized")
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM usage_rows WHERE participant_id = $1 AND study_id = $2`,
			run.ParticipantID, run.StudyID); err != nil {
			return fmt.Errorf("failed to clear previous rows: %w", err)
		}
		_, err := tx.Exec(ctx, `INSERT INTO runs (id, participant_id, study_id, source, version, timezone,
			device_model, processed_at, row_count, empty, warnings)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			run.ID, run.ParticipantID, run.StudyID, run.Source, run.Version, run.Timezone,
			run.DeviceModel, run.ProcessedAt.UTC(), run.Rows, run.Empty, run.Warnings)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		n, err := tx.CopyFrom(ctx, pgx.Identifier{"usage_rows"}, rowColumns,
			pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
				r := records[i]
				return []any{
					run.ID, r.StudyID, r.ParticipantID, r.Timestamp.UTC(), r.Timezone, r.AppPackageName,
					r.ApplicationLabel, r.InteractionType, r.Start, r.Stop, r.DurationSeconds,
					r.Flags, r.GapHours,
				}, nil
			}))
		if err != nil {
			return fmt.Errorf("failed to copy rows: %w", err)
		}
		s.logger.Debug("saved run", "run", run.ID, "participant", run.ParticipantID, "rows", n)
		return nil
	})
}

func (s *Store) GetRecords(ctx context.Context, participantID string, start, end time.Time, interactionTypes ...string) ([]storage.Record, error) {
	if s.pool == nil {
		return nil, errors.New("storage not initialized")
	}
	query := `SELECT id, run_id, COALESCE(study_id, ''), participant_id, event_timestamp, COALESCE(timezone, ''),
		COALESCE(app_package_name, ''), COALESCE(application_label, ''), interaction_type,
		start_timestamp, stop_timestamp, duration_seconds, COALESCE(flags, ''), COALESCE(data_time_gap_hours, 0)
		FROM usage_rows
		WHERE participant_id = $1 AND event_timestamp >= $2 AND event_timestamp <= $3`
	args := []any{participantID, start.UTC(), end.UTC()}
	if len(interactionTypes) > 0 {
		query += " AND interaction_type = ANY($4)"
		args = append(args, interactionTypes)
	}
	query += " ORDER BY event_timestamp ASC, id ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.Record, error) {
		var r storage.Record
		err := row.Scan(&r.ID, &r.RunID, &r.StudyID, &r.ParticipantID, &r.Timestamp, &r.Timezone,
			&r.AppPackageName, &r.ApplicationLabel, &r.InteractionType, &r.Start, &r.Stop,
			&r.DurationSeconds, &r.Flags, &r.GapHours)
		r.Timestamp = r.Timestamp.UTC()
		if r.Start != nil {
			t := r.Start.UTC()
			r.Start = &t
		}
		if r.Stop != nil {
			t := r.Stop.UTC()
			r.Stop = &t
		}
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan usage rows: %w", err)
	}
	return records, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
