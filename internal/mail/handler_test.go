package mail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/adityaankur/graphmail/internal/graph"
	"github.com/adityaankur/graphmail/internal/repository"
)

type fakeSender struct {
	sent []graph.SendRequest
	err  error
}

func (f *fakeSender) Send(ctx context.Context, req graph.SendRequest) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, req)
	return nil
}

type fakeAttachmentSource struct {
	atts map[string]*graph.Attachment
}

func (f *fakeAttachmentSource) GetAttachmentContent(ctx context.Context, messageID, attachmentID string) (*graph.Attachment, error) {
	return f.atts[messageID+"/"+attachmentID], nil
}

type fakeReader struct {
	messages []repository.StoredMessage
}

func (f *fakeReader) GetByMessageID(ctx context.Context, messageID string) (*repository.StoredMessage, error) {
	for i := range f.messages {
		if f.messages[i].MessageID == messageID {
			return &f.messages[i], nil
		}
	}
	return nil, repository.ErrMessageNotFound
}

func (f *fakeReader) List(ctx context.Context, params repository.ListMessageParams) ([]repository.StoredMessage, int, error) {
	end := params.Skip + params.Limit
	if end > len(f.messages) {
		end = len(f.messages)
	}
	start := params.Skip
	if start > len(f.messages) {
		start = len(f.messages)
	}
	return f.messages[start:end], len(f.messages), nil
}

func (f *fakeReader) Search(ctx context.Context, text string, limit int) ([]repository.StoredMessage, error) {
	var out []repository.StoredMessage
	for _, m := range f.messages {
		if strings.Contains(strings.ToLower(m.Subject), strings.ToLower(text)) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeReader) GetSince(ctx context.Context, since time.Time, unreadOnly bool) ([]repository.StoredMessage, error) {
	var out []repository.StoredMessage
	for _, m := range f.messages {
		if m.ReceivedAt.Before(since) {
			continue
		}
		if unreadOnly && m.IsRead {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeReader) Stats(ctx context.Context) (*repository.MailboxStats, error) {
	return &repository.MailboxStats{TotalCount: len(f.messages)}, nil
}

type fakeRunLister struct {
	runs []repository.SyncRun
}

func (f *fakeRunLister) ListRecent(ctx context.Context, limit int) ([]repository.SyncRun, error) {
	return f.runs, nil
}

type fakeRunner struct {
	result   *SyncResult
	err      error
	lastArgs struct {
		hoursAgo int
		force    bool
		trigger  string
	}
}

func (f *fakeRunner) Run(ctx context.Context, hoursAgo int, force bool, trigger string) (*SyncResult, error) {
	f.lastArgs.hoursAgo = hoursAgo
	f.lastArgs.force = force
	f.lastArgs.trigger = trigger
	return f.result, f.err
}

type handlerFixture struct {
	sender *fakeSender
	atts   *fakeAttachmentSource
	reader *fakeReader
	runner *fakeRunner
	router chi.Router
}

func newHandlerFixture() *handlerFixture {
	f := &handlerFixture{
		sender: &fakeSender{},
		atts:   &fakeAttachmentSource{atts: make(map[string]*graph.Attachment)},
		reader: &fakeReader{},
		runner: &fakeRunner{result: &SyncResult{Status: repository.RunStatusSucceeded}},
	}
	service := NewService(f.sender, f.atts, f.reader, &fakeRunLister{}, f.runner, nil, nil)
	f.router = chi.NewRouter()
	RegisterRoutes(f.router, NewHandler(service, nil))
	return f
}

func (f *handlerFixture) request(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON response: %v (%s)", err, rec.Body.String())
	}
	return out
}

func TestSendEmail(t *testing.T) {
	f := newHandlerFixture()

	rec := f.request(t, http.MethodPost, "/email/send",
		`{"to":["dest@example.com"],"subject":"hello","body":"<p>hi</p>"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Errorf("success = %v", body["success"])
	}
	if len(f.sender.sent) != 1 || f.sender.sent[0].Subject != "hello" {
		t.Errorf("sent = %+v", f.sender.sent)
	}
}

func TestSendEmailValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing recipients", `{"subject":"s","body":"b"}`},
		{"empty recipients", `{"to":[],"subject":"s","body":"b"}`},
		{"invalid address", `{"to":["not-an-email"],"subject":"s","body":"b"}`},
		{"missing subject", `{"to":["a@example.com"],"body":"b"}`},
		{"missing body", `{"to":["a@example.com"],"subject":"s"}`},
		{"malformed json", `{`},
		{"bad attachment base64", `{"to":["a@example.com"],"subject":"s","body":"b","attachments":[{"name":"f.txt","content":"%%%"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture()
			rec := f.request(t, http.MethodPost, "/email/send", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (%s)", rec.Code, rec.Body.String())
			}
			if len(f.sender.sent) != 0 {
				t.Error("invalid request must not reach the provider")
			}
		})
	}
}

func TestSendEmailProviderFailure(t *testing.T) {
	f := newHandlerFixture()
	f.sender.err = &graph.SendError{Status: 403, Detail: "ErrorAccessDenied: denied"}

	rec := f.request(t, http.MethodPost, "/email/send",
		`{"to":["dest@example.com"],"subject":"s","body":"b"}`)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != false {
		t.Errorf("success = %v, want false", body["success"])
	}
	if msg, _ := body["message"].(string); !strings.Contains(msg, "ErrorAccessDenied") {
		t.Errorf("message = %q, want provider detail", msg)
	}
}

func TestRetrieveEmails(t *testing.T) {
	f := newHandlerFixture()
	f.reader.messages = []repository.StoredMessage{
		{MessageID: "m1", ReceivedAt: time.Now().Add(-time.Hour), IsRead: false},
		{MessageID: "m2", ReceivedAt: time.Now().Add(-2 * time.Hour), IsRead: true},
	}

	rec := f.request(t, http.MethodGet, "/email/retrieve", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["count"] != float64(2) {
		t.Errorf("count = %v, want 2", body["count"])
	}
	if _, ok := body["sync"]; ok {
		t.Error("non-forced retrieve must not include a sync result")
	}
}

func TestRetrieveUnreadOnly(t *testing.T) {
	f := newHandlerFixture()
	f.reader.messages = []repository.StoredMessage{
		{MessageID: "m1", ReceivedAt: time.Now().Add(-time.Hour), IsRead: false},
		{MessageID: "m2", ReceivedAt: time.Now().Add(-2 * time.Hour), IsRead: true},
	}

	rec := f.request(t, http.MethodGet, "/email/retrieve?unread_only=true", "")
	body := decodeBody(t, rec)
	if body["count"] != float64(1) {
		t.Errorf("count = %v, want 1", body["count"])
	}
}

func TestRetrieveForceRefreshRunsSync(t *testing.T) {
	f := newHandlerFixture()
	f.runner.result = &SyncResult{Status: repository.RunStatusSucceeded, MessagesNew: 5}

	rec := f.request(t, http.MethodGet, "/email/retrieve?force_refresh=true&hours_ago=48", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if _, ok := body["sync"]; !ok {
		t.Fatal("forced retrieve must include the sync result")
	}
	if f.runner.lastArgs.hoursAgo != 48 || !f.runner.lastArgs.force {
		t.Errorf("runner args = %+v", f.runner.lastArgs)
	}
	if f.runner.lastArgs.trigger != repository.RunTriggerManual {
		t.Errorf("trigger = %q, want manual", f.runner.lastArgs.trigger)
	}
}

func TestRetrieveAuthFailure(t *testing.T) {
	f := newHandlerFixture()
	f.runner.err = &graph.AuthError{Err: http.ErrHandlerTimeout}

	rec := f.request(t, http.MethodGet, "/email/retrieve?force_refresh=true", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] == nil {
		t.Error("error field missing")
	}
}

func TestListEmails(t *testing.T) {
	f := newHandlerFixture()
	for i := 0; i < 5; i++ {
		f.reader.messages = append(f.reader.messages, repository.StoredMessage{
			MessageID: uuid.NewString(), ReceivedAt: time.Now(),
		})
	}

	rec := f.request(t, http.MethodGet, "/email/list?limit=2&skip=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["count"] != float64(2) || body["total"] != float64(5) {
		t.Errorf("count = %v total = %v", body["count"], body["total"])
	}
	if body["skip"] != float64(1) || body["limit"] != float64(2) {
		t.Errorf("skip = %v limit = %v", body["skip"], body["limit"])
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	f := newHandlerFixture()

	for _, target := range []string{"/email/search", "/email/search?q=x"} {
		rec := f.request(t, http.MethodGet, target, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
	}
}

func TestSearchEmails(t *testing.T) {
	f := newHandlerFixture()
	f.reader.messages = []repository.StoredMessage{
		{MessageID: "m1", Subject: "invoice overdue"},
		{MessageID: "m2", Subject: "lunch plans"},
	}

	rec := f.request(t, http.MethodGet, "/email/search?q=invoice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["count"] != float64(1) {
		t.Errorf("count = %v, want 1", body["count"])
	}
}

func TestGetEmailByID(t *testing.T) {
	f := newHandlerFixture()
	f.reader.messages = []repository.StoredMessage{{MessageID: "m1", Subject: "found"}}

	rec := f.request(t, http.MethodGet, "/email/m1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["subject"] != "found" {
		t.Errorf("subject = %v", body["subject"])
	}

	rec = f.request(t, http.MethodGet, "/email/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetAttachment(t *testing.T) {
	f := newHandlerFixture()
	content := base64.StdEncoding.EncodeToString([]byte("file data"))
	f.atts.atts["m1/att-1"] = &graph.Attachment{
		ID: "att-1", Name: "doc.pdf", ContentType: "application/pdf", ContentBytes: content,
	}

	rec := f.request(t, http.MethodGet, "/email/m1/attachment/att-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	data, _ := body["data"].(map[string]any)
	if data == nil {
		t.Fatalf("data missing: %v", body)
	}
	if data["name"] != "doc.pdf" || data["content"] != content {
		t.Errorf("data = %v", data)
	}
	if data["size"] != float64(len("file data")) {
		t.Errorf("size = %v, want decoded length", data["size"])
	}

	rec = f.request(t, http.MethodGet, "/email/m1/attachment/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestStats(t *testing.T) {
	f := newHandlerFixture()
	f.reader.messages = []repository.StoredMessage{{MessageID: "m1"}}

	rec := f.request(t, http.MethodGet, "/email/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["total_count"] != float64(1) {
		t.Errorf("total_count = %v", body["total_count"])
	}
}

func TestSyncRuns(t *testing.T) {
	f := newHandlerFixture()

	rec := f.request(t, http.MethodGet, "/email/sync/runs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["count"] != float64(0) {
		t.Errorf("count = %v", body["count"])
	}
}
