package mail

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the mail endpoints with the Chi router
func RegisterRoutes(r chi.Router, handler *Handler) {
	r.Route("/email", func(r chi.Router) {
		// POST /email/send - Send an email through the provider
		r.Post("/send", handler.Send)

		// GET /email/retrieve - Fetch recent inbox messages, optionally forcing a sync
		r.Get("/retrieve", handler.Retrieve)

		// GET /email/list - List stored messages with pagination and filters
		r.Get("/list", handler.List)

		// GET /email/search - Free-text search over stored messages
		r.Get("/search", handler.Search)

		// GET /email/stats - Mailbox statistics
		r.Get("/stats", handler.Stats)

		// GET /email/sync/runs - Recent sync run history
		r.Get("/sync/runs", handler.SyncRuns)

		// GET /email/:id - Get one stored message
		r.Get("/{id}", handler.GetByID)

		// GET /email/:id/attachment/:attachmentId - Attachment content
		r.Get("/{id}/attachment/{attachmentId}", handler.GetAttachment)
	})
}
