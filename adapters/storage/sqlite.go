package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	apperrors "battery-pricing/internal/errors"
	"battery-pricing/internal/logging"
)

// SQLiteStore persists runs in a single SQLite file
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (and creates if needed) the database at path
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, apperrors.New(apperrors.TypeConfig, "sqlite path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, apperrors.Storage("failed to create storage directory", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, apperrors.Storage("failed to open database", err)
	}
	// single writer
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, apperrors.Storage("failed to initialize schema", err)
	}

	logging.Info("Run store opened", zap.String("backend", string(BackendSQLite)), zap.String("path", path))
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		ruleset_name TEXT NOT NULL,
		ruleset_version TEXT NOT NULL,
		input_hash TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		summary JSON NOT NULL,
		items JSON NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_ruleset ON runs(ruleset_name, ruleset_version);
	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Save(ctx context.Context, run *Run) error {
	if err := prepare(run, s.now()); err != nil {
		return err
	}

	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return apperrors.Storage("failed to encode summary", err)
	}
	items, err := json.Marshal(run.Items)
	if err != nil {
		return apperrors.Storage("failed to encode items", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, ruleset_name, ruleset_version, input_hash, created_at, summary, items)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.RulesetName, run.RulesetVersion, run.InputHash,
		run.CreatedAt.UnixNano(), string(summary), string(items),
	)
	if err != nil {
		return apperrors.Storage("failed to insert run", err).WithContext("id", run.ID)
	}
	logging.Debug("Run saved", logging.RunID(run.ID), logging.Ruleset(run.RulesetName, run.RulesetVersion))
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, ruleset_name, ruleset_version, input_hash, created_at, summary, items
		FROM runs
		WHERE id = ?`, id)

	var (
		run       Run
		createdAt int64
		summary   string
		items     string
	)
	err := row.Scan(&run.ID, &run.RulesetName, &run.RulesetVersion, &run.InputHash, &createdAt, &summary, &items)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("run", id)
	}
	if err != nil {
		return nil, apperrors.Storage("failed to read run", err).WithContext("id", id)
	}

	run.CreatedAt = time.Unix(0, createdAt).UTC()
	if err := json.Unmarshal([]byte(summary), &run.Summary); err != nil {
		return nil, apperrors.Storage("failed to decode summary", err).WithContext("id", id)
	}
	if err := json.Unmarshal([]byte(items), &run.Items); err != nil {
		return nil, apperrors.Storage("failed to decode items", err).WithContext("id", id)
	}
	return &run, nil
}

func (s *SQLiteStore) List(ctx context.Context, filter *ListFilter) ([]*Run, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter != nil {
		if filter.RulesetName != "" {
			where = append(where, "ruleset_name = ?")
			args = append(args, filter.RulesetName)
		}
		if filter.RulesetVersion != "" {
			where = append(where, "ruleset_version = ?")
			args = append(args, filter.RulesetVersion)
		}
		if !filter.Since.IsZero() {
			where = append(where, "created_at >= ?")
			args = append(args, filter.Since.UnixNano())
		}
		if !filter.Until.IsZero() {
			where = append(where, "created_at <= ?")
			args = append(args, filter.Until.UnixNano())
		}
	}

	query := "SELECT id, ruleset_name, ruleset_version, input_hash, created_at, summary FROM runs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if filter != nil && (filter.Limit > 0 || filter.Offset > 0) {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Storage("failed to list runs", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		var (
			run       Run
			createdAt int64
			summary   string
		)
		if err := rows.Scan(&run.ID, &run.RulesetName, &run.RulesetVersion, &run.InputHash, &createdAt, &summary); err != nil {
			return nil, apperrors.Storage("failed to scan run", err)
		}
		run.CreatedAt = time.Unix(0, createdAt).UTC()
		if err := json.Unmarshal([]byte(summary), &run.Summary); err != nil {
			return nil, apperrors.Storage("failed to decode summary", err).WithContext("id", run.ID)
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage("failed to list runs", err)
	}
	return runs, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return apperrors.Storage("failed to delete run", err).WithContext("id", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Storage("failed to delete run", err).WithContext("id", id)
	}
	if n == 0 {
		return apperrors.NotFound("run", id)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
