package repository

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StringList is an ordered list of addresses stored as a JSONB column
type StringList []string

// Value implements driver.Valuer
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal([]string(l))
}

// Scan implements sql.Scanner
func (l *StringList) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// AttachmentMeta is attachment metadata captured during enrichment
type AttachmentMeta struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	IsInline    bool   `json:"is_inline"`
}

// AttachmentList is stored as a nullable JSONB column; nil means
// attachment metadata was never fetched for the message
type AttachmentList []AttachmentMeta

// Value implements driver.Valuer
func (l AttachmentList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal([]AttachmentMeta(l))
}

// Scan implements sql.Scanner
func (l *AttachmentList) Scan(src interface{}) error {
	if src == nil {
		*l = nil
		return nil
	}
	return scanJSON(src, l)
}

func scanJSON(src, dst interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported scan source %T", src)
	}
}

// StoredMessage is a synchronized message persisted in the messages
// table, keyed by the provider-assigned message id
type StoredMessage struct {
	MessageID      string         `db:"message_id" json:"message_id"`
	Subject        string         `db:"subject" json:"subject"`
	BodyPreview    string         `db:"body_preview" json:"body_preview"`
	Body           *string        `db:"body" json:"body,omitempty"`
	BodyType       *string        `db:"body_type" json:"body_type,omitempty"`
	Sender         string         `db:"sender" json:"sender"`
	SenderName     string         `db:"sender_name" json:"sender_name"`
	Recipients     StringList     `db:"recipients" json:"recipients"`
	CcRecipients   StringList     `db:"cc_recipients" json:"cc_recipients"`
	ReceivedAt     time.Time      `db:"received_at" json:"received_at"`
	HasAttachments bool           `db:"has_attachments" json:"has_attachments"`
	Importance     string         `db:"importance" json:"importance"`
	IsRead         bool           `db:"is_read" json:"is_read"`
	Attachments    AttachmentList `db:"attachments" json:"attachments,omitempty"`
	ProcessedAt    time.Time      `db:"processed_at" json:"processed_at"`
	UpdatedAt      *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
}

// ListMessageParams holds parameters for listing stored messages
type ListMessageParams struct {
	Limit          int
	Skip           int
	Sender         string
	DateFrom       *time.Time
	DateTo         *time.Time
	UnreadOnly     bool
	HasAttachments *bool
	SortBy         string
	SortOrder      string
}

// SenderCount is a sender with its message count
type SenderCount struct {
	Sender string `db:"sender" json:"sender"`
	Count  int    `db:"count" json:"count"`
}

// DayCount is a day with its message count
type DayCount struct {
	Day   string `db:"day" json:"day"`
	Count int    `db:"count" json:"count"`
}

// MailboxStats aggregates statistics over stored messages
type MailboxStats struct {
	TotalCount      int           `json:"total_count"`
	UnreadCount     int           `json:"unread_count"`
	AttachmentCount int           `json:"attachment_count"`
	TopSenders      []SenderCount `json:"top_senders"`
	EmailsPerDay    []DayCount    `json:"emails_per_day"`
}

// SyncRun records one execution of the sync pipeline
type SyncRun struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	Trigger         string     `db:"trigger" json:"trigger"`
	WindowHours     int        `db:"window_hours" json:"window_hours"`
	StartedAt       time.Time  `db:"started_at" json:"started_at"`
	FinishedAt      *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	PagesFetched    int        `db:"pages_fetched" json:"pages_fetched"`
	MessagesSeen    int        `db:"messages_seen" json:"messages_seen"`
	MessagesNew     int        `db:"messages_new" json:"messages_new"`
	MessagesUpdated int        `db:"messages_updated" json:"messages_updated"`
	ErrorCount      int        `db:"error_count" json:"error_count"`
	LastError       *string    `db:"last_error" json:"last_error,omitempty"`
	Status          string     `db:"status" json:"status"`
}

// Sync run status values
const (
	RunStatusSucceeded = "succeeded"
	RunStatusPartial   = "partial"
	RunStatusFailed    = "failed"
	RunStatusSkipped   = "skipped"
)

// Sync run trigger values
const (
	RunTriggerScheduled = "scheduled"
	RunTriggerManual    = "manual"
)
