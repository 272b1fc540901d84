package mail

import (
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/adityaankur/graphmail/internal/graph"
)

func TestShouldFetchBody(t *testing.T) {
	tests := []struct {
		name         string
		retrieveBody bool
		importance   string
		isRead       bool
		preview      string
		want         bool
	}{
		{"disabled globally", false, "high", false, "", false},
		{"high importance always fetches", true, "high", true, strings.Repeat("x", 200), true},
		{"unread with short preview", true, "normal", false, "short", true},
		{"unread with long preview", true, "normal", false, strings.Repeat("x", 50), false},
		{"read with short preview", true, "normal", true, "short", false},
		{"unread empty preview", true, "low", false, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NewNormalizer(tt.retrieveBody)
			m := &graph.Message{
				Importance:  tt.importance,
				IsRead:      tt.isRead,
				BodyPreview: tt.preview,
			}
			if got := n.ShouldFetchBody(m); got != tt.want {
				t.Errorf("ShouldFetchBody = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeMapsFields(t *testing.T) {
	n := NewNormalizer(true)
	received := time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)

	m := &graph.Message{
		ID:          "msg-1",
		Subject:     "Quarterly report",
		BodyPreview: "Please find attached",
		From: &graph.Recipient{EmailAddress: graph.EmailAddress{
			Name: "Alice Example", Address: "alice@example.com",
		}},
		ToRecipients: []graph.Recipient{
			{EmailAddress: graph.EmailAddress{Address: "me@example.com"}},
			{EmailAddress: graph.EmailAddress{Address: "team@example.com"}},
		},
		CcRecipients:     []graph.Recipient{{EmailAddress: graph.EmailAddress{Address: "cc@example.com"}}},
		ReceivedDateTime: received,
		HasAttachments:   true,
		Importance:       "high",
		IsRead:           false,
	}

	msg := n.Normalize(m, nil, nil)

	if msg.MessageID != "msg-1" {
		t.Errorf("MessageID = %q", msg.MessageID)
	}
	if msg.Sender != "alice@example.com" || msg.SenderName != "Alice Example" {
		t.Errorf("sender = %q / %q", msg.Sender, msg.SenderName)
	}
	if len(msg.Recipients) != 2 || msg.Recipients[0] != "me@example.com" {
		t.Errorf("recipients = %v", msg.Recipients)
	}
	if len(msg.CcRecipients) != 1 {
		t.Errorf("cc recipients = %v", msg.CcRecipients)
	}
	if !msg.ReceivedAt.Equal(received) {
		t.Errorf("ReceivedAt = %v", msg.ReceivedAt)
	}
	if msg.Body != nil || msg.BodyType != nil {
		t.Error("body should be absent without detail")
	}
	if msg.Attachments != nil {
		t.Error("attachments should be absent without enrichment")
	}
}

func TestNormalizeDefaults(t *testing.T) {
	n := NewNormalizer(true)

	msg := n.Normalize(&graph.Message{ID: "msg-2"}, nil, nil)

	if msg.Importance != "normal" {
		t.Errorf("Importance = %q, want normal", msg.Importance)
	}
	if msg.ReceivedAt.IsZero() {
		t.Error("zero ReceivedAt should fall back to ProcessedAt")
	}
	if !msg.ReceivedAt.Equal(msg.ProcessedAt) {
		t.Errorf("ReceivedAt = %v, want ProcessedAt %v", msg.ReceivedAt, msg.ProcessedAt)
	}
}

func TestNormalizeSanitizesHTMLBody(t *testing.T) {
	n := NewNormalizer(true)

	detail := &graph.Message{
		ID: "msg-3",
		Body: &graph.ItemBody{
			ContentType: "HTML",
			Content:     `<p>hello</p><script>alert("xss")</script>`,
		},
	}

	msg := n.Normalize(&graph.Message{ID: "msg-3"}, detail, nil)

	if msg.Body == nil || msg.BodyType == nil {
		t.Fatal("body should be populated from detail")
	}
	if *msg.BodyType != "html" {
		t.Errorf("BodyType = %q, want html", *msg.BodyType)
	}
	if strings.Contains(*msg.Body, "<script>") {
		t.Errorf("script tag survived sanitization: %q", *msg.Body)
	}
	if !strings.Contains(*msg.Body, "<p>hello</p>") {
		t.Errorf("safe markup stripped: %q", *msg.Body)
	}
}

func TestNormalizeTextBodyIsNotSanitized(t *testing.T) {
	n := NewNormalizer(true)

	detail := &graph.Message{
		ID: "msg-4",
		Body: &graph.ItemBody{
			ContentType: "text",
			Content:     "plain content with <brackets>",
		},
	}

	msg := n.Normalize(&graph.Message{ID: "msg-4"}, detail, nil)

	if msg.Body == nil || *msg.Body != "plain content with <brackets>" {
		t.Errorf("text body altered: %v", msg.Body)
	}
	if *msg.BodyType != "text" {
		t.Errorf("BodyType = %q, want text", *msg.BodyType)
	}
}

func TestNormalizeAttachmentMetadata(t *testing.T) {
	n := NewNormalizer(true)

	atts := []graph.Attachment{
		{ID: "att-1", Name: "report.pdf", ContentType: "application/pdf", Size: 2048},
		{ID: "att-2", Name: "logo.png", ContentType: "image/png", Size: 512, IsInline: true},
	}

	msg := n.Normalize(&graph.Message{ID: "msg-5", HasAttachments: true}, nil, atts)

	if len(msg.Attachments) != 2 {
		t.Fatalf("got %d attachments, want 2", len(msg.Attachments))
	}
	if msg.Attachments[0].Name != "report.pdf" || msg.Attachments[0].Size != 2048 {
		t.Errorf("attachment meta = %+v", msg.Attachments[0])
	}
	if !msg.Attachments[1].IsInline {
		t.Error("inline flag lost")
	}
}

func TestShouldFetchBodyProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := NewNormalizer(true)
		m := &graph.Message{
			Importance:  rapid.SampledFrom([]string{"low", "normal", "high", ""}).Draw(t, "importance"),
			IsRead:      rapid.Bool().Draw(t, "isRead"),
			BodyPreview: rapid.StringN(0, 120, 120).Draw(t, "preview"),
		}

		got := n.ShouldFetchBody(m)

		if m.Importance == "high" && !got {
			t.Fatal("high importance must always fetch the body")
		}
		if m.IsRead && m.Importance != "high" && got {
			t.Fatal("read non-high messages must never fetch the body")
		}
		if got && m.Importance != "high" && len(m.BodyPreview) >= 50 {
			t.Fatal("long previews must not trigger a body fetch")
		}
	})
}
