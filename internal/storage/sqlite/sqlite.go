package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"usageprep/internal/storage"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) storage.Storage {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteStore{dbPath: dbPath, logger: logger}
}

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	participant_id TEXT NOT NULL,
	study_id TEXT,
	source TEXT,
	version TEXT,
	timezone TEXT,
	device_model TEXT,
	processed_at DATETIME NOT NULL,
	row_count INTEGER NOT NULL,
	empty INTEGER NOT NULL,
	warnings TEXT
);
CREATE TABLE IF NOT EXISTS usage_rows (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	study_id TEXT,
	participant_id TEXT NOT NULL,
	event_timestamp DATETIME NOT NULL,
	timezone TEXT,
	app_package_name TEXT,
	application_label TEXT,
	interaction_type TEXT NOT NULL,
	start_timestamp DATETIME,
	stop_timestamp DATETIME,
	duration_seconds REAL,
	flags TEXT,
	data_time_gap_hours REAL
);
CREATE INDEX IF NOT EXISTS idx_usage_rows_participant ON usage_rows (participant_id, event_timestamp);
CREATE INDEX IF NOT EXISTS idx_usage_rows_type ON usage_rows (interaction_type);
`

func (s *SQLiteStore) Init(ctx context.Context) error {
	dir := filepath.Dir(s.dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create db directory %s: %w", dir, err)
	}

	s.logger.Info("initializing sqlite database", "path", s.dbPath)
	db, err := sql.Open("sqlite3", s.dbPath+"?_journal=WAL&_timeout=5000&_fk=true")
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	s.db = db

	// single writer
	s.db.SetMaxOpenConns(1)
	s.db.SetMaxIdleConns(1)
	s.db.SetConnMaxLifetime(time.Minute * 5)

	if err := s.db.PingContext(ctx); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, createTablesSQL); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run storage.Run, records []storage.Record) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM usage_rows WHERE participant_id = ? AND study_id = ?`,
		run.ParticipantID, run.StudyID); err != nil {
		return fmt.Errorf("failed to clear previous rows: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO runs (id, participant_id, study_id, source, version, timezone,
	          device_model, processed_at, row_count, empty, warnings)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ParticipantID, run.StudyID, run.Source, run.Version, run.Timezone,
		run.DeviceModel, run.ProcessedAt.UTC(), run.Rows, run.Empty, strings.Join(run.Warnings, "\n"))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO usage_rows (run_id, study_id, participant_id, event_timestamp,
	          timezone, app_package_name, application_label, interaction_type, start_timestamp, stop_timestamp,
	          duration_seconds, flags, data_time_gap_hours)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare row insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err = stmt.ExecContext(ctx, run.ID, r.StudyID, r.ParticipantID, r.Timestamp.UTC(),
			r.Timezone, r.AppPackageName, r.ApplicationLabel, r.InteractionType,
			nullTime(r.Start), nullTime(r.Stop), nullFloat(r.DurationSeconds), r.Flags, r.GapHours)
		if err != nil {
			return fmt.Errorf("failed to insert row: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	s.logger.Debug("saved run", "run", run.ID, "participant", run.ParticipantID, "rows", len(records))
	return nil
}

func (s *SQLiteStore) GetRecords(ctx context.Context, participantID string, start, end time.Time, interactionTypes ...string) ([]storage.Record, error) {
	query := `SELECT id, run_id, study_id, participant_id, event_timestamp, timezone, app_package_name,
	          application_label, interaction_type, start_timestamp, stop_timestamp, duration_seconds,
	          flags, data_time_gap_hours
	          FROM usage_rows
	          WHERE participant_id = ? AND event_timestamp >= ? AND event_timestamp <= ?`
	args := []interface{}{participantID, start.UTC(), end.UTC()}

	if len(interactionTypes) > 0 {
		placeholders := strings.Repeat("?,", len(interactionTypes)-1) + "?"
		query += fmt.Sprintf(" AND interaction_type IN (%s)", placeholders)
		for _, it := range interactionTypes {
			args = append(args, it)
		}
	}

	query += " ORDER BY event_timestamp ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	defer rows.Close()

	var records []storage.Record
	for rows.Next() {
		var r storage.Record
		var studyID, timezone, app, label, flags sql.NullString
		var startTS, stopTS sql.NullTime
		var duration, gap sql.NullFloat64

		if err := rows.Scan(&r.ID, &r.RunID, &studyID, &r.ParticipantID, &r.Timestamp, &timezone, &app,
			&label, &r.InteractionType, &startTS, &stopTS, &duration, &flags, &gap); err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}
		r.StudyID = studyID.String
		r.Timezone = timezone.String
		r.AppPackageName = app.String
		r.ApplicationLabel = label.String
		r.Flags = flags.String
		r.GapHours = gap.Float64
		r.Timestamp = r.Timestamp.UTC()
		if startTS.Valid {
			t := startTS.Time.UTC()
			r.Start = &t
		}
		if stopTS.Valid {
			t := stopTS.Time.UTC()
			r.Stop = &t
		}
		if duration.Valid {
			d := duration.Float64
			r.DurationSeconds = &d
		}
		records = append(records, r)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage rows: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		s.logger.Debug("closing database connection")
		return s.db.Close()
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
