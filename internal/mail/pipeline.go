package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adityaankur/graphmail/internal/graph"
	"github.com/adityaankur/graphmail/internal/metrics"
	"github.com/adityaankur/graphmail/internal/repository"
)

// ErrRunInProgress is returned by TryRun when another run holds the
// pipeline lock
var ErrRunInProgress = errors.New("sync run already in progress")

// PageIterator yields pages of provider messages
type PageIterator interface {
	Next(ctx context.Context) bool
	Page() []graph.Message
	Err() error
}

// Fetcher is the provider surface the pipeline needs
type Fetcher interface {
	ListMessages(since time.Time) PageIterator
	GetMessageDetail(ctx context.Context, messageID string) (*graph.Message, error)
	GetAttachments(ctx context.Context, messageID string) ([]graph.Attachment, error)
}

// MessageStore is the persistence surface the pipeline needs
type MessageStore interface {
	GetByMessageID(ctx context.Context, messageID string) (*repository.StoredMessage, error)
	Create(ctx context.Context, msg *repository.StoredMessage) error
	UpdateReadStatus(ctx context.Context, messageID string, isRead bool) error
}

// RunStore records sync run history. Recording is best-effort: a
// history write failure never fails the run itself.
type RunStore interface {
	Create(ctx context.Context, run *repository.SyncRun) error
	Finish(ctx context.Context, run *repository.SyncRun) error
}

// graphSource adapts *graph.Client to the Fetcher interface
type graphSource struct {
	c *graph.Client
}

// NewGraphSource wraps a Graph client as a pipeline Fetcher
func NewGraphSource(c *graph.Client) Fetcher {
	return graphSource{c: c}
}

func (s graphSource) ListMessages(since time.Time) PageIterator {
	return s.c.ListMessages(since)
}

func (s graphSource) GetMessageDetail(ctx context.Context, messageID string) (*graph.Message, error) {
	return s.c.GetMessageDetail(ctx, messageID)
}

func (s graphSource) GetAttachments(ctx context.Context, messageID string) ([]graph.Attachment, error) {
	return s.c.GetAttachments(ctx, messageID)
}

// SyncResult summarizes one pipeline run
type SyncResult struct {
	Status          string   `json:"status"`
	PagesFetched    int      `json:"pages_fetched"`
	MessagesSeen    int      `json:"messages_seen"`
	MessagesNew     int      `json:"messages_new"`
	MessagesUpdated int      `json:"messages_updated"`
	Errors          []string `json:"errors,omitempty"`
}

// PipelineConfig holds pipeline tuning knobs
type PipelineConfig struct {
	RetrieveAttachments bool
	// MinRefresh is the staleness window: a non-forced run starting
	// within this window of the last successful run is skipped
	MinRefresh time.Duration
}

// Pipeline orchestrates one retrieval run: paginated fetch, per-message
// enrichment and normalization, and idempotent upsert into the store.
// Runs are serialized; concurrent callers block in Run while the
// scheduler skips via TryRun.
type Pipeline struct {
	fetcher    Fetcher
	store      MessageStore
	runs       RunStore
	normalizer *Normalizer
	cfg        PipelineConfig
	logger     *slog.Logger

	mu          sync.Mutex
	lastSuccess time.Time
}

// NewPipeline creates a sync pipeline
func NewPipeline(fetcher Fetcher, store MessageStore, runs RunStore, normalizer *Normalizer, cfg PipelineConfig, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		fetcher:    fetcher,
		store:      store,
		runs:       runs,
		normalizer: normalizer,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run executes one sync run over the lookback window, blocking until
// any in-progress run finishes. force bypasses the staleness check.
func (p *Pipeline) Run(ctx context.Context, hoursAgo int, force bool, trigger string) (*SyncResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.run(ctx, hoursAgo, force, trigger)
}

// TryRun executes one sync run unless another is already in progress,
// in which case it returns ErrRunInProgress immediately. Used by the
// scheduler so overlapping ticks are skipped, never queued.
func (p *Pipeline) TryRun(ctx context.Context, hoursAgo int, trigger string) (*SyncResult, error) {
	if !p.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer p.mu.Unlock()
	return p.run(ctx, hoursAgo, false, trigger)
}

// run executes the pipeline. Caller must hold p.mu.
func (p *Pipeline) run(ctx context.Context, hoursAgo int, force bool, trigger string) (*SyncResult, error) {
	start := time.Now()

	if !force && !p.lastSuccess.IsZero() && start.Sub(p.lastSuccess) < p.cfg.MinRefresh {
		p.logger.Debug("skipping sync run, last run is fresh enough",
			"last_success", p.lastSuccess, "min_refresh", p.cfg.MinRefresh)
		metrics.SyncRunsTotal.WithLabelValues(trigger, repository.RunStatusSkipped).Inc()
		return &SyncResult{Status: repository.RunStatusSkipped}, nil
	}

	since := start.Add(-time.Duration(hoursAgo) * time.Hour).UTC()
	p.logger.Info("starting sync run",
		"trigger", trigger, "hours_ago", hoursAgo, "since", since.Format(time.RFC3339))

	run := &repository.SyncRun{
		ID:          uuid.New(),
		Trigger:     trigger,
		WindowHours: hoursAgo,
		StartedAt:   start.UTC(),
		Status:      repository.RunStatusPartial,
	}
	if err := p.runs.Create(ctx, run); err != nil {
		p.logger.Warn("failed to record sync run start", "run_id", run.ID, "error", err)
	}

	result := &SyncResult{}
	var runErr error

	it := p.fetcher.ListMessages(since)
	for it.Next(ctx) {
		result.PagesFetched++
		metrics.SyncPagesFetched.Inc()
		page := it.Page()
		for i := range page {
			p.processMessage(ctx, &page[i], result)
		}
	}

	if err := it.Err(); err != nil {
		var authErr *graph.AuthError
		if errors.As(err, &authErr) && result.PagesFetched == 0 {
			// Nothing fetched and no token: the whole run failed.
			result.Status = repository.RunStatusFailed
			runErr = err
		} else {
			// Pages already processed stay valid; the run is truncated,
			// not discarded.
			result.Status = repository.RunStatusPartial
		}
		result.Errors = append(result.Errors, err.Error())
		p.logger.Error("sync run stopped early", "run_id", run.ID, "error", err)
	} else if len(result.Errors) > 0 {
		result.Status = repository.RunStatusPartial
	} else {
		result.Status = repository.RunStatusSucceeded
		p.lastSuccess = time.Now()
	}

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.PagesFetched = result.PagesFetched
	run.MessagesSeen = result.MessagesSeen
	run.MessagesNew = result.MessagesNew
	run.MessagesUpdated = result.MessagesUpdated
	run.ErrorCount = len(result.Errors)
	run.Status = result.Status
	if len(result.Errors) > 0 {
		last := result.Errors[len(result.Errors)-1]
		run.LastError = &last
	}
	if err := p.runs.Finish(ctx, run); err != nil {
		p.logger.Warn("failed to record sync run result", "run_id", run.ID, "error", err)
	}

	metrics.SyncRunsTotal.WithLabelValues(trigger, result.Status).Inc()
	metrics.SyncRunDuration.Observe(time.Since(start).Seconds())

	p.logger.Info("sync run finished",
		"run_id", run.ID,
		"status", result.Status,
		"pages", result.PagesFetched,
		"seen", result.MessagesSeen,
		"new", result.MessagesNew,
		"updated", result.MessagesUpdated,
		"errors", len(result.Errors),
		"duration", time.Since(start))

	return result, runErr
}

// processMessage enriches, normalizes and upserts one message. Errors
// are recorded on the result but never abort the run: one malformed
// message must not lose the rest of the batch.
func (p *Pipeline) processMessage(ctx context.Context, m *graph.Message, result *SyncResult) {
	result.MessagesSeen++

	if m.ID == "" {
		result.Errors = append(result.Errors, "message without id skipped")
		metrics.SyncMessagesTotal.WithLabelValues("error").Inc()
		return
	}

	var detail *graph.Message
	if p.normalizer.ShouldFetchBody(m) {
		d, err := p.fetcher.GetMessageDetail(ctx, m.ID)
		if err != nil {
			p.logger.Warn("body enrichment failed", "message_id", m.ID, "error", err)
		} else {
			detail = d
		}
	}

	var attachments []graph.Attachment
	if m.HasAttachments && p.cfg.RetrieveAttachments {
		atts, err := p.fetcher.GetAttachments(ctx, m.ID)
		if err != nil {
			p.logger.Warn("attachment enrichment failed", "message_id", m.ID, "error", err)
		} else {
			attachments = atts
		}
	}

	msg := p.normalizer.Normalize(m, detail, attachments)

	existing, err := p.store.GetByMessageID(ctx, m.ID)
	switch {
	case errors.Is(err, repository.ErrMessageNotFound):
		if err := p.store.Create(ctx, &msg); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("store %s: %v", m.ID, err))
			metrics.SyncMessagesTotal.WithLabelValues("error").Inc()
			return
		}
		p.logger.Info("stored new message", "message_id", m.ID, "subject", msg.Subject, "sender", msg.Sender)
		result.MessagesNew++
		metrics.SyncMessagesTotal.WithLabelValues("new").Inc()

	case err != nil:
		result.Errors = append(result.Errors, fmt.Sprintf("lookup %s: %v", m.ID, err))
		metrics.SyncMessagesTotal.WithLabelValues("error").Inc()

	case existing.IsRead != m.IsRead:
		if err := p.store.UpdateReadStatus(ctx, m.ID, m.IsRead); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("update %s: %v", m.ID, err))
			metrics.SyncMessagesTotal.WithLabelValues("error").Inc()
			return
		}
		p.logger.Debug("updated read status", "message_id", m.ID, "is_read", m.IsRead)
		result.MessagesUpdated++
		metrics.SyncMessagesTotal.WithLabelValues("updated").Inc()

	default:
		metrics.SyncMessagesTotal.WithLabelValues("skipped").Inc()
	}
}
