package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pdnlabs/pdn-chat/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // Serializes writes to prevent SQLITE_BUSY under load
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS assessments (
		user_id TEXT PRIMARY KEY,
		language TEXT NOT NULL DEFAULT '',
		stage TEXT NOT NULL,
		answer_count INTEGER NOT NULL DEFAULT 0,
		completed INTEGER NOT NULL DEFAULT 0,
		completed_at INTEGER,
		turns_json TEXT NOT NULL,
		answers_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assessments_updated ON assessments(updated_at);

	CREATE TABLE IF NOT EXISTS reports (
		user_id TEXT PRIMARY KEY,
		report_json TEXT NOT NULL,
		generated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetAssessment retrieves the assessment for a user.
func (s *SQLiteStore) GetAssessment(ctx context.Context, userID string) (*domain.Assessment, error) {
	query := `
		SELECT user_id, language, stage, answer_count, completed, completed_at,
		       turns_json, answers_json, created_at, updated_at
		FROM assessments WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var a domain.Assessment
	var completed int
	var completedAt sql.NullInt64
	var turnsJSON, answersJSON string
	var createdAt, updatedAt int64

	err := row.Scan(
		&a.UserID, &a.Language, &a.Stage, &a.AnswerCount, &completed, &completedAt,
		&turnsJSON, &answersJSON, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan assessment row: %w", err)
	}

	if err := json.Unmarshal([]byte(turnsJSON), &a.Turns); err != nil {
		return nil, fmt.Errorf("%w: decode turns for %s: %v", domain.ErrCorruptSession, userID, err)
	}
	if err := json.Unmarshal([]byte(answersJSON), &a.Answers); err != nil {
		return nil, fmt.Errorf("%w: decode answers for %s: %v", domain.ErrCorruptSession, userID, err)
	}

	a.Completed = completed != 0
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		a.CompletedAt = &t
	}
	a.CreatedAt = time.Unix(createdAt, 0)
	a.UpdatedAt = time.Unix(updatedAt, 0)

	return &a, nil
}

// SaveAssessment persists the full assessment state.
func (s *SQLiteStore) SaveAssessment(ctx context.Context, a *domain.Assessment) error {
	turnsJSON, err := json.Marshal(a.Turns)
	if err != nil {
		return fmt.Errorf("encode turns: %w", err)
	}
	if a.Turns == nil {
		turnsJSON = []byte("[]")
	}
	answersJSON, err := json.Marshal(a.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	if a.Answers == nil {
		answersJSON = []byte("{}")
	}

	var completed int
	if a.Completed {
		completed = 1
	}
	var completedAt interface{}
	if a.CompletedAt != nil {
		completedAt = a.CompletedAt.Unix()
	}

	query := `
	INSERT INTO assessments (user_id, language, stage, answer_count, completed, completed_at,
		turns_json, answers_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		language = excluded.language,
		stage = excluded.stage,
		answer_count = excluded.answer_count,
		completed = excluded.completed,
		completed_at = excluded.completed_at,
		turns_json = excluded.turns_json,
		answers_json = excluded.answers_json,
		updated_at = excluded.updated_at`

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, query,
		a.UserID, a.Language, string(a.Stage), a.AnswerCount, completed, completedAt,
		string(turnsJSON), string(answersJSON),
		a.CreatedAt.Unix(), a.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert assessment: %w", err)
	}
	return nil
}

// DeleteAssessment discards a user's assessment and report.
func (s *SQLiteStore) DeleteAssessment(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM assessments WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete assessment: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	return nil
}

// GetReport retrieves the finalized report for a user.
func (s *SQLiteStore) GetReport(ctx context.Context, userID string) (*domain.Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT report_json FROM reports WHERE user_id = ?`, userID)

	var reportJSON string
	err := row.Scan(&reportJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan report row: %w", err)
	}

	var r domain.Report
	if err := json.Unmarshal([]byte(reportJSON), &r); err != nil {
		return nil, fmt.Errorf("decode report for %s: %w", userID, err)
	}
	return &r, nil
}

// SaveReport persists a finalized report.
func (s *SQLiteStore) SaveReport(ctx context.Context, r *domain.Report) error {
	reportJSON, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	query := `
	INSERT INTO reports (user_id, report_json, generated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		report_json = excluded.report_json,
		generated_at = excluded.generated_at`

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, query, r.UserID, string(reportJSON), r.GeneratedAt.Unix()); err != nil {
		return fmt.Errorf("upsert report: %w", err)
	}
	return nil
}

// CleanupExpired removes assessments idle longer than ttl.
func (s *SQLiteStore) CleanupExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM assessments WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("delete expired assessments: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return deleted, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
