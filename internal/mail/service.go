package mail

import (
	"context"
	"log/slog"
	"time"

	"github.com/adityaankur/graphmail/internal/graph"
	"github.com/adityaankur/graphmail/internal/repository"
)

// Sender sends messages through the provider
type Sender interface {
	Send(ctx context.Context, req graph.SendRequest) error
}

// AttachmentSource fetches attachment content from the provider
type AttachmentSource interface {
	GetAttachmentContent(ctx context.Context, messageID, attachmentID string) (*graph.Attachment, error)
}

// MessageReader is the read surface over stored messages
type MessageReader interface {
	GetByMessageID(ctx context.Context, messageID string) (*repository.StoredMessage, error)
	List(ctx context.Context, params repository.ListMessageParams) ([]repository.StoredMessage, int, error)
	Search(ctx context.Context, text string, limit int) ([]repository.StoredMessage, error)
	GetSince(ctx context.Context, since time.Time, unreadOnly bool) ([]repository.StoredMessage, error)
	Stats(ctx context.Context) (*repository.MailboxStats, error)
}

// RunLister reads sync run history
type RunLister interface {
	ListRecent(ctx context.Context, limit int) ([]repository.SyncRun, error)
}

// Runner triggers on-demand sync runs
type Runner interface {
	Run(ctx context.Context, hoursAgo int, force bool, trigger string) (*SyncResult, error)
}

// AttachmentCache caches fetched attachment content in object storage.
// Get returns (nil, nil) on a cache miss.
type AttachmentCache interface {
	Get(ctx context.Context, messageID, attachmentID string) (*graph.Attachment, error)
	Put(ctx context.Context, messageID, attachmentID string, att *graph.Attachment) error
}

// Service exposes the mail archive operations consumed by the HTTP
// handlers: sending, on-demand retrieval, and reads over the store.
type Service struct {
	sender      Sender
	attachments AttachmentSource
	store       MessageReader
	runs        RunLister
	pipeline    Runner
	cache       AttachmentCache
	logger      *slog.Logger
}

// NewService creates a mail service. cache may be nil to disable the
// attachment content cache.
func NewService(sender Sender, attachments AttachmentSource, store MessageReader, runs RunLister, pipeline Runner, cache AttachmentCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sender:      sender,
		attachments: attachments,
		store:       store,
		runs:        runs,
		pipeline:    pipeline,
		cache:       cache,
		logger:      logger,
	}
}

// Send sends a message through the provider
func (s *Service) Send(ctx context.Context, req graph.SendRequest) error {
	return s.sender.Send(ctx, req)
}

// Retrieve returns messages from the lookback window. When force is
// set, a sync run executes first so the response reflects the provider;
// a partial run still returns whatever is stored.
func (s *Service) Retrieve(ctx context.Context, hoursAgo int, force, unreadOnly bool) ([]repository.StoredMessage, *SyncResult, error) {
	var result *SyncResult
	if force {
		res, err := s.pipeline.Run(ctx, hoursAgo, true, repository.RunTriggerManual)
		if err != nil {
			return nil, res, err
		}
		result = res
	}

	since := time.Now().Add(-time.Duration(hoursAgo) * time.Hour).UTC()
	messages, err := s.store.GetSince(ctx, since, unreadOnly)
	if err != nil {
		return nil, result, err
	}
	return messages, result, nil
}

// List returns stored messages with pagination and filters
func (s *Service) List(ctx context.Context, params repository.ListMessageParams) ([]repository.StoredMessage, int, error) {
	return s.store.List(ctx, params)
}

// Search matches stored messages against free text
func (s *Service) Search(ctx context.Context, text string, limit int) ([]repository.StoredMessage, error) {
	return s.store.Search(ctx, text, limit)
}

// Stats aggregates mailbox statistics
func (s *Service) Stats(ctx context.Context) (*repository.MailboxStats, error) {
	return s.store.Stats(ctx)
}

// Get returns a single stored message by provider message id
func (s *Service) Get(ctx context.Context, messageID string) (*repository.StoredMessage, error) {
	return s.store.GetByMessageID(ctx, messageID)
}

// GetAttachment returns attachment content, serving from the object
// storage cache when possible and falling back to the provider. A nil
// attachment means not found.
func (s *Service) GetAttachment(ctx context.Context, messageID, attachmentID string) (*graph.Attachment, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, messageID, attachmentID)
		if err != nil {
			s.logger.Warn("attachment cache read failed", "message_id", messageID, "attachment_id", attachmentID, "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	att, err := s.attachments.GetAttachmentContent(ctx, messageID, attachmentID)
	if err != nil || att == nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, messageID, attachmentID, att); err != nil {
			s.logger.Warn("attachment cache write failed", "message_id", messageID, "attachment_id", attachmentID, "error", err)
		}
	}
	return att, nil
}

// SyncRuns returns recent sync run history
func (s *Service) SyncRuns(ctx context.Context, limit int) ([]repository.SyncRun, error) {
	return s.runs.ListRecent(ctx, limit)
}
