package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fixmarket/pulse/internal/backoff"
	"github.com/fixmarket/pulse/pkg/models"
)

// SQLiteStore implements Store on a local sqlite database. It is the default
// durable option for single-node deployments.
type SQLiteStore struct {
	db *sql.DB
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		job_id            TEXT PRIMARY KEY,
		hirer_id          TEXT NOT NULL,
		fixer_id          TEXT NOT NULL,
		job_completed     BOOLEAN NOT NULL DEFAULT 0,
		hirer_reviewed    BOOLEAN NOT NULL DEFAULT 0,
		fixer_reviewed    BOOLEAN NOT NULL DEFAULT 0,
		messaging_allowed BOOLEAN NOT NULL DEFAULT 1,
		closed_at         TIMESTAMP,
		created_at        TIMESTAMP NOT NULL,
		updated_at        TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id             TEXT PRIMARY KEY,
		type           TEXT NOT NULL,
		title          TEXT NOT NULL,
		body           TEXT NOT NULL,
		priority       TEXT NOT NULL,
		target_user_id TEXT NOT NULL,
		sender_user_id TEXT,
		data           TEXT,
		created_at     TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_target
		ON notifications (target_user_id, created_at DESC)`,
}

// NewSQLiteStore opens (creating if needed) the database at path and applies
// the schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite serializes writers; a single connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if err := backoff.Retry(ctx, backoff.StorePolicy(), 3, func(int) error {
		return db.PingContext(ctx)
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetOrCreate(ctx context.Context, jobID, hirerID, fixerID string) (*models.ConversationState, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (job_id, hirer_id, fixer_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (job_id) DO NOTHING`,
		jobID, hirerID, fixerID, now, now)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return s.Get(ctx, jobID)
}

func (s *SQLiteStore) Get(ctx context.Context, jobID string) (*models.ConversationState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, hirer_id, fixer_id, job_completed, hirer_reviewed,
		       fixer_reviewed, messaging_allowed, closed_at, created_at, updated_at
		FROM conversations WHERE job_id = ?`, jobID)
	return scanConversation(row)
}

func (s *SQLiteStore) MarkJobCompleted(ctx context.Context, jobID string, at time.Time) (*models.ConversationState, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET job_completed = 1, updated_at = ?
		WHERE job_id = ? AND closed_at IS NULL`,
		at.UTC(), jobID)
	if err != nil {
		return nil, fmt.Errorf("mark completed: %w", err)
	}
	return s.Get(ctx, jobID)
}

func (s *SQLiteStore) RecordReview(ctx context.Context, jobID string, role models.ReviewerRole, at time.Time) (*models.ConversationState, bool, error) {
	column, err := reviewColumn(role)
	if err != nil {
		return nil, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin review: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Closed conversations are terminal; the guard makes late reviews no-ops.
	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET `+column+` = 1, updated_at = ?
		WHERE job_id = ? AND closed_at IS NULL`,
		at.UTC(), jobID); err != nil {
		return nil, false, fmt.Errorf("record review: %w", err)
	}

	// The conditional close is the single authoritative write: exactly one
	// of two concurrent submissions observes both flags set and an open row.
	res, err := tx.ExecContext(ctx, `
		UPDATE conversations SET messaging_allowed = 0, closed_at = ?, updated_at = ?
		WHERE job_id = ? AND closed_at IS NULL AND hirer_reviewed AND fixer_reviewed`,
		at.UTC(), at.UTC(), jobID)
	if err != nil {
		return nil, false, fmt.Errorf("close conversation: %w", err)
	}
	closedRows, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("close conversation: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		SELECT job_id, hirer_id, fixer_id, job_completed, hirer_reviewed,
		       fixer_reviewed, messaging_allowed, closed_at, created_at, updated_at
		FROM conversations WHERE job_id = ?`, jobID)
	state, err := scanConversation(row)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit review: %w", err)
	}
	return state, closedRows == 1, nil
}

func (s *SQLiteStore) Append(ctx context.Context, n *models.Notification) error {
	data, err := encodeData(n.Data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, type, title, body, priority, target_user_id, sender_user_id, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Type, n.Title, n.Body, string(n.Priority), n.TargetUserID,
		nullable(n.SenderUserID), data, n.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("append notification: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListForUser(ctx context.Context, userID string, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, title, body, priority, target_user_id, sender_user_id, data, created_at
		FROM notifications WHERE target_user_id = ?
		ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

func (s *SQLiteStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge notifications: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
