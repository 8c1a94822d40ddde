package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fixmarket/pulse/pkg/models"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func reviewColumn(role models.ReviewerRole) (string, error) {
	switch role {
	case models.RoleHirer:
		return "hirer_reviewed", nil
	case models.RoleFixer:
		return "fixer_reviewed", nil
	default:
		return "", fmt.Errorf("unknown reviewer role %q", role)
	}
}

func scanConversation(row rowScanner) (*models.ConversationState, error) {
	var state models.ConversationState
	var closedAt sql.NullTime
	err := row.Scan(
		&state.JobID, &state.HirerID, &state.FixerID,
		&state.JobCompleted, &state.HirerReviewed, &state.FixerReviewed,
		&state.MessagingAllowed, &closedAt, &state.CreatedAt, &state.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	if closedAt.Valid {
		t := closedAt.Time.UTC()
		state.ClosedAt = &t
	}
	return &state, nil
}

func scanNotifications(rows *sql.Rows) ([]*models.Notification, error) {
	var out []*models.Notification
	for rows.Next() {
		var n models.Notification
		var priority string
		var sender sql.NullString
		var data sql.NullString
		if err := rows.Scan(&n.ID, &n.Type, &n.Title, &n.Body, &priority,
			&n.TargetUserID, &sender, &data, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Priority = models.Priority(priority)
		n.SenderUserID = sender.String
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &n.Data); err != nil {
				return nil, fmt.Errorf("decode notification data: %w", err)
			}
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

func encodeData(data map[string]any) (sql.NullString, error) {
	if len(data) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode notification data: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
