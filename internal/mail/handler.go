package mail

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/adityaankur/graphmail/internal/graph"
	"github.com/adityaankur/graphmail/internal/repository"
)

const (
	defaultRetrieveHours = 24
	maxRetrieveHours     = 168
	minSearchLength      = 2
)

// SendEmailRequest is the payload for POST /email/send
type SendEmailRequest struct {
	To          []string            `json:"to" validate:"required,min=1,dive,email"`
	Subject     string              `json:"subject" validate:"required"`
	Body        string              `json:"body" validate:"required"`
	Cc          []string            `json:"cc" validate:"omitempty,dive,email"`
	Bcc         []string            `json:"bcc" validate:"omitempty,dive,email"`
	Attachments []AttachmentPayload `json:"attachments" validate:"omitempty,dive"`
}

// AttachmentPayload is one outgoing attachment, content base64-encoded
type AttachmentPayload struct {
	Name        string `json:"name" validate:"required"`
	ContentType string `json:"content_type"`
	Content     string `json:"content" validate:"required"`
}

// Handler handles HTTP requests for the mail endpoints
type Handler struct {
	service  *Service
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler creates a new Handler instance
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:  service,
		validate: validator.New(),
		logger:   logger,
	}
}

// Send handles POST /email/send
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "invalid request body",
		})
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": validationMessage(err),
		})
		return
	}

	sendReq := graph.SendRequest{
		To:      req.To,
		Subject: req.Subject,
		Body:    req.Body,
		Cc:      req.Cc,
		Bcc:     req.Bcc,
	}
	for _, att := range req.Attachments {
		content, err := base64.StdEncoding.DecodeString(att.Content)
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"success": false,
				"message": "attachment " + att.Name + " is not valid base64",
			})
			return
		}
		sendReq.Attachments = append(sendReq.Attachments, graph.OutgoingAttachment{
			Name:        att.Name,
			ContentType: att.ContentType,
			Content:     content,
		})
	}

	if err := h.service.Send(r.Context(), sendReq); err != nil {
		h.logger.Error("failed to send email", "subject", req.Subject, "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "Failed to send email: " + err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Email sent successfully",
	})
}

// Retrieve handles GET /email/retrieve
func (h *Handler) Retrieve(w http.ResponseWriter, r *http.Request) {
	hoursAgo := defaultRetrieveHours
	if v := r.URL.Query().Get("hours_ago"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			hoursAgo = n
			if hoursAgo > maxRetrieveHours {
				hoursAgo = maxRetrieveHours
			}
		}
	}
	force := r.URL.Query().Get("force_refresh") == "true"
	unreadOnly := r.URL.Query().Get("unread_only") == "true"

	messages, sync, err := h.service.Retrieve(r.Context(), hoursAgo, force, unreadOnly)
	if err != nil {
		var authErr *graph.AuthError
		if errors.As(err, &authErr) {
			h.logger.Error("email retrieval failed: authentication", "error", err)
			h.writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error": "Failed to authenticate with mail provider",
			})
			return
		}
		h.logger.Error("email retrieval failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "Failed to retrieve emails",
		})
		return
	}

	resp := map[string]any{
		"emails": messages,
		"count":  len(messages),
	}
	if sync != nil {
		resp["sync"] = sync
		if len(sync.Errors) > 0 {
			resp["error"] = sync.Errors[len(sync.Errors)-1]
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// List handles GET /email/list
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	params := repository.ListMessageParams{
		Limit: 50,
	}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			params.Limit = n
		}
	}
	if v := q.Get("skip"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			params.Skip = n
		}
	}
	if v := q.Get("sender"); v != "" {
		params.Sender = v
	}
	if v := q.Get("unread_only"); v == "true" {
		params.UnreadOnly = true
	}
	if v := q.Get("has_attachments"); v != "" {
		has := v == "true"
		params.HasAttachments = &has
	}
	if v := q.Get("date_from"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			params.DateFrom = &t
		}
	}
	if v := q.Get("date_to"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			// Inclusive: cover the whole day
			end := t.Add(24*time.Hour - time.Nanosecond)
			params.DateTo = &end
		}
	}
	if v := q.Get("sort_by"); v == "received_at" || v == "processed_at" {
		params.SortBy = v
	}
	if v := q.Get("sort_order"); v == "asc" || v == "desc" {
		params.SortOrder = v
	}

	messages, total, err := h.service.List(r.Context(), params)
	if err != nil {
		h.logger.Error("failed to list emails", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "Failed to list emails",
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(messages),
		"total":  total,
		"skip":   params.Skip,
		"limit":  params.Limit,
		"emails": messages,
	})
}

// Search handles GET /email/search
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("q")
	if len(text) < minSearchLength {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "query parameter q must be at least 2 characters",
		})
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	messages, err := h.service.Search(r.Context(), text, limit)
	if err != nil {
		h.logger.Error("email search failed", "query", text, "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "Failed to search emails",
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(messages),
		"emails": messages,
	})
}

// Stats handles GET /email/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to compute mailbox stats", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "Failed to compute statistics",
		})
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// GetByID handles GET /email/{id}
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "id")

	msg, err := h.service.Get(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			h.writeJSON(w, http.StatusNotFound, map[string]any{
				"error": "Email not found",
			})
			return
		}
		h.logger.Error("failed to load email", "message_id", messageID, "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "Failed to load email",
		})
		return
	}

	h.writeJSON(w, http.StatusOK, msg)
}

// GetAttachment handles GET /email/{id}/attachment/{attachmentId}
func (h *Handler) GetAttachment(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "id")
	attachmentID := chi.URLParam(r, "attachmentId")

	att, err := h.service.GetAttachment(r.Context(), messageID, attachmentID)
	if err != nil {
		h.logger.Error("failed to fetch attachment",
			"message_id", messageID, "attachment_id", attachmentID, "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "Failed to fetch attachment",
		})
		return
	}
	if att == nil {
		h.writeJSON(w, http.StatusNotFound, map[string]any{
			"error": "Attachment not found",
		})
		return
	}

	size := att.Size
	if decoded, err := base64.StdEncoding.DecodeString(att.ContentBytes); err == nil {
		size = int64(len(decoded))
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Attachment retrieved successfully",
		"data": map[string]any{
			"name":         att.Name,
			"content_type": att.ContentType,
			"size":         size,
			"content":      att.ContentBytes,
		},
	})
}

// SyncRuns handles GET /email/sync/runs
func (h *Handler) SyncRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	runs, err := h.service.SyncRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list sync runs", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "Failed to list sync runs",
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"count": len(runs),
		"runs":  runs,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// validationMessage flattens a validator error into a single message
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must contain valid email addresses"
	case "min":
		return fe.Field() + " must not be empty"
	default:
		return fe.Field() + " is invalid"
	}
}
