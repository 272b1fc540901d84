// Package mail implements the email synchronization pipeline: message
// normalization, the paginated sync run, its scheduler, and the HTTP
// surface over the archive.
package mail

import (
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/adityaankur/graphmail/internal/graph"
	"github.com/adityaankur/graphmail/internal/repository"
)

// shortPreviewLength is the preview size below which an unread message
// is considered to need its full body
const shortPreviewLength = 50

// Normalizer converts provider-shaped messages into the persisted
// schema, applying the body-fetch policy and sanitizing HTML bodies.
type Normalizer struct {
	retrieveBody bool
	sanitizer    *bluemonday.Policy
}

// NewNormalizer creates a Normalizer. retrieveBody globally enables or
// disables full body fetching.
func NewNormalizer(retrieveBody bool) *Normalizer {
	return &Normalizer{
		retrieveBody: retrieveBody,
		sanitizer:    bluemonday.UGCPolicy(),
	}
}

// ShouldFetchBody decides whether a message needs a detail call for its
// full body: high-importance messages always, unread messages only when
// the preview is too short to be useful. This bounds enrichment calls
// to messages likely to need full content.
func (n *Normalizer) ShouldFetchBody(m *graph.Message) bool {
	if !n.retrieveBody {
		return false
	}
	if m.Importance == "high" {
		return true
	}
	return !m.IsRead && len(m.BodyPreview) < shortPreviewLength
}

// Normalize maps a provider message to the persisted schema. detail and
// attachments are optional enrichment data; nil means the fetch was
// skipped or failed and the message is stored with reduced fidelity.
func (n *Normalizer) Normalize(m *graph.Message, detail *graph.Message, attachments []graph.Attachment) repository.StoredMessage {
	msg := repository.StoredMessage{
		MessageID:      m.ID,
		Subject:        m.Subject,
		BodyPreview:    m.BodyPreview,
		Sender:         m.SenderAddress(),
		SenderName:     m.SenderName(),
		Recipients:     recipientAddresses(m.ToRecipients),
		CcRecipients:   recipientAddresses(m.CcRecipients),
		ReceivedAt:     m.ReceivedDateTime,
		HasAttachments: m.HasAttachments,
		Importance:     m.Importance,
		IsRead:         m.IsRead,
		ProcessedAt:    time.Now().UTC(),
	}

	if msg.Importance == "" {
		msg.Importance = "normal"
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = msg.ProcessedAt
	}

	if detail != nil && detail.Body != nil {
		body, bodyType := detail.Body.Content, "text"
		if strings.Contains(strings.ToLower(detail.Body.ContentType), "html") {
			body = n.sanitizer.Sanitize(body)
			bodyType = "html"
		}
		msg.Body = &body
		msg.BodyType = &bodyType
	}

	if attachments != nil {
		msg.Attachments = make(repository.AttachmentList, 0, len(attachments))
		for _, att := range attachments {
			msg.Attachments = append(msg.Attachments, repository.AttachmentMeta{
				ID:          att.ID,
				Name:        att.Name,
				ContentType: att.ContentType,
				Size:        att.Size,
				IsInline:    att.IsInline,
			})
		}
	}

	return msg
}

func recipientAddresses(recipients []graph.Recipient) repository.StringList {
	out := make(repository.StringList, 0, len(recipients))
	for _, r := range recipients {
		out = append(out, r.EmailAddress.Address)
	}
	return out
}
