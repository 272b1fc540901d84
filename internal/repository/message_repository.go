// Package repository implements PostgreSQL persistence for synchronized
// messages and sync run history.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Repository errors
var (
	ErrMessageNotFound = errors.New("message not found")
)

// messageColumns is the column list shared by message queries
const messageColumns = `message_id, subject, body_preview, body, body_type, sender, sender_name,
	recipients, cc_recipients, received_at, has_attachments, importance, is_read,
	attachments, processed_at, updated_at`

// MessageRepo persists synchronized messages keyed by provider message id
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo creates a new MessageRepo instance
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// GetByMessageID retrieves a message by its provider-assigned id
func (r *MessageRepo) GetByMessageID(ctx context.Context, messageID string) (*StoredMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE message_id = $1`

	var msg StoredMessage
	if err := r.db.GetContext(ctx, &msg, query, messageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

// Create inserts a new message. The unique index on message_id makes a
// concurrent duplicate insert fail rather than create a second row.
func (r *MessageRepo) Create(ctx context.Context, msg *StoredMessage) error {
	query := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES (:message_id, :subject, :body_preview, :body, :body_type, :sender, :sender_name,
			:recipients, :cc_recipients, :received_at, :has_attachments, :importance, :is_read,
			:attachments, :processed_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, msg); err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// UpdateReadStatus updates the read flag of an existing message. Read
// status is the only field re-sync is allowed to change.
func (r *MessageRepo) UpdateReadStatus(ctx context.Context, messageID string, isRead bool) error {
	query := `UPDATE messages SET is_read = $2, updated_at = $3 WHERE message_id = $1`

	result, err := r.db.ExecContext(ctx, query, messageID, isRead, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update read status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// List retrieves messages with pagination and filtering, returning the
// page and the total count matching the filters
func (r *MessageRepo) List(ctx context.Context, params ListMessageParams) ([]StoredMessage, int, error) {
	if params.Limit < 1 {
		params.Limit = 20
	}
	if params.Limit > 100 {
		params.Limit = 100
	}
	if params.Skip < 0 {
		params.Skip = 0
	}

	where := " WHERE 1=1"
	args := []interface{}{}
	argIdx := 1

	if params.UnreadOnly {
		where += " AND is_read = false"
	}
	if params.HasAttachments != nil {
		where += fmt.Sprintf(" AND has_attachments = $%d", argIdx)
		args = append(args, *params.HasAttachments)
		argIdx++
	}
	if params.Sender != "" {
		where += fmt.Sprintf(" AND sender ILIKE $%d", argIdx)
		args = append(args, "%"+params.Sender+"%")
		argIdx++
	}
	if params.DateFrom != nil {
		where += fmt.Sprintf(" AND received_at >= $%d", argIdx)
		args = append(args, *params.DateFrom)
		argIdx++
	}
	if params.DateTo != nil {
		where += fmt.Sprintf(" AND received_at <= $%d", argIdx)
		args = append(args, *params.DateTo)
		argIdx++
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM messages"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	sortField := "received_at"
	if params.SortBy == "processed_at" {
		sortField = "processed_at"
	}
	sortOrder := "DESC"
	if params.SortOrder == "asc" {
		sortOrder = "ASC"
	}

	query := fmt.Sprintf("SELECT %s FROM messages%s ORDER BY %s %s LIMIT $%d OFFSET $%d",
		messageColumns, where, sortField, sortOrder, argIdx, argIdx+1)
	args = append(args, params.Limit, params.Skip)

	var messages []StoredMessage
	if err := r.db.SelectContext(ctx, &messages, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, total, nil
}

// GetSince retrieves messages received at or after the given time,
// newest first
func (r *MessageRepo) GetSince(ctx context.Context, since time.Time, unreadOnly bool) ([]StoredMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE received_at >= $1`
	if unreadOnly {
		query += " AND is_read = false"
	}
	query += " ORDER BY received_at DESC"

	var messages []StoredMessage
	if err := r.db.SelectContext(ctx, &messages, query, since); err != nil {
		return nil, fmt.Errorf("failed to get messages since %s: %w", since.Format(time.RFC3339), err)
	}
	return messages, nil
}

// Search matches text against subject, body, preview, sender and sender
// name, newest first. The trigram indexes added in the migrations serve
// the ILIKE patterns.
func (r *MessageRepo) Search(ctx context.Context, text string, limit int) ([]StoredMessage, error) {
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE subject ILIKE $1
		   OR body ILIKE $1
		   OR body_preview ILIKE $1
		   OR sender ILIKE $1
		   OR sender_name ILIKE $1
		ORDER BY received_at DESC
		LIMIT $2
	`

	var messages []StoredMessage
	if err := r.db.SelectContext(ctx, &messages, query, "%"+text+"%", limit); err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	return messages, nil
}

// Stats aggregates totals, top senders, and a per-day histogram over
// the last seven days
func (r *MessageRepo) Stats(ctx context.Context) (*MailboxStats, error) {
	stats := &MailboxStats{
		TopSenders:   []SenderCount{},
		EmailsPerDay: []DayCount{},
	}

	summaryQuery := `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN is_read = false THEN 1 ELSE 0 END), 0) AS unread,
			COALESCE(SUM(CASE WHEN has_attachments THEN 1 ELSE 0 END), 0) AS with_attachments
		FROM messages
	`
	row := r.db.QueryRowContext(ctx, summaryQuery)
	if err := row.Scan(&stats.TotalCount, &stats.UnreadCount, &stats.AttachmentCount); err != nil {
		return nil, fmt.Errorf("failed to get message totals: %w", err)
	}

	topSendersQuery := `
		SELECT sender, COUNT(*) AS count
		FROM messages
		WHERE sender <> ''
		GROUP BY sender
		ORDER BY count DESC
		LIMIT 5
	`
	if err := r.db.SelectContext(ctx, &stats.TopSenders, topSendersQuery); err != nil {
		return nil, fmt.Errorf("failed to get top senders: %w", err)
	}

	perDayQuery := `
		SELECT to_char(received_at, 'YYYY-MM-DD') AS day, COUNT(*) AS count
		FROM messages
		GROUP BY day
		ORDER BY day DESC
		LIMIT 7
	`
	if err := r.db.SelectContext(ctx, &stats.EmailsPerDay, perDayQuery); err != nil {
		return nil, fmt.Errorf("failed to get per-day counts: %w", err)
	}

	return stats, nil
}
