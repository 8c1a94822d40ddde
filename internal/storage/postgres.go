package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/fixmarket/pulse/internal/backoff"
	"github.com/fixmarket/pulse/pkg/models"
)

// PostgresStore implements Store on PostgreSQL for multi-node deployments,
// where the conditional close relies on row locking to pick a single winner.
type PostgresStore struct {
	db *sql.DB
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		job_id            TEXT PRIMARY KEY,
		hirer_id          TEXT NOT NULL,
		fixer_id          TEXT NOT NULL,
		job_completed     BOOLEAN NOT NULL DEFAULT FALSE,
		hirer_reviewed    BOOLEAN NOT NULL DEFAULT FALSE,
		fixer_reviewed    BOOLEAN NOT NULL DEFAULT FALSE,
		messaging_allowed BOOLEAN NOT NULL DEFAULT TRUE,
		closed_at         TIMESTAMPTZ,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id             TEXT PRIMARY KEY,
		type           TEXT NOT NULL,
		title          TEXT NOT NULL,
		body           TEXT NOT NULL,
		priority       TEXT NOT NULL,
		target_user_id TEXT NOT NULL,
		sender_user_id TEXT,
		data           JSONB,
		created_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_target
		ON notifications (target_user_id, created_at DESC)`,
}

// NewPostgresStore connects to the database at dsn and applies the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := backoff.Retry(ctx, backoff.StorePolicy(), 5, func(int) error {
		return db.PingContext(ctx)
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	for _, stmt := range postgresSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetOrCreate(ctx context.Context, jobID, hirerID, fixerID string) (*models.ConversationState, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (job_id, hirer_id, fixer_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (job_id) DO NOTHING`,
		jobID, hirerID, fixerID, now)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return s.Get(ctx, jobID)
}

func (s *PostgresStore) Get(ctx context.Context, jobID string) (*models.ConversationState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, hirer_id, fixer_id, job_completed, hirer_reviewed,
		       fixer_reviewed, messaging_allowed, closed_at, created_at, updated_at
		FROM conversations WHERE job_id = $1`, jobID)
	return scanConversation(row)
}

func (s *PostgresStore) MarkJobCompleted(ctx context.Context, jobID string, at time.Time) (*models.ConversationState, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET job_completed = TRUE, updated_at = $2
		WHERE job_id = $1 AND closed_at IS NULL`,
		jobID, at.UTC())
	if err != nil {
		return nil, fmt.Errorf("mark completed: %w", err)
	}
	return s.Get(ctx, jobID)
}

func (s *PostgresStore) RecordReview(ctx context.Context, jobID string, role models.ReviewerRole, at time.Time) (*models.ConversationState, bool, error) {
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
		UPDATE conversations SET `+column+` = TRUE, updated_at = $2
		WHERE job_id = $1 AND closed_at IS NULL`,
		jobID, at.UTC()); err != nil {
		return nil, false, fmt.Errorf("record review: %w", err)
	}

	// The conditional close is the single authoritative write: the row lock
	// taken above serializes concurrent submissions, so exactly one of them
	// sees both flags set against a still-open row.
	res, err := tx.ExecContext(ctx, `
		UPDATE conversations SET messaging_allowed = FALSE, closed_at = $2, updated_at = $2
		WHERE job_id = $1 AND closed_at IS NULL AND hirer_reviewed AND fixer_reviewed`,
		jobID, at.UTC())
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
		FROM conversations WHERE job_id = $1`, jobID)
	state, err := scanConversation(row)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit review: %w", err)
	}
	return state, closedRows == 1, nil
}

func (s *PostgresStore) Append(ctx context.Context, n *models.Notification) error {
	data, err := encodeData(n.Data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, type, title, body, priority, target_user_id, sender_user_id, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		n.ID, n.Type, n.Title, n.Body, string(n.Priority), n.TargetUserID,
		nullable(n.SenderUserID), data, n.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("append notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListForUser(ctx context.Context, userID string, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, title, body, priority, target_user_id, sender_user_id, data, created_at
		FROM notifications WHERE target_user_id = $1
		ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

func (s *PostgresStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge notifications: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }
