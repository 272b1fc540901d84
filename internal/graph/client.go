// Package graph implements a Microsoft Graph mail client: sending,
// filtered message listing with cursor pagination, and enrichment
// fetches for message bodies and attachments.
package graph

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/adityaankur/graphmail/internal/metrics"
)

const selectFields = "id,subject,bodyPreview,from,toRecipients,ccRecipients,receivedDateTime,hasAttachments,importance,isRead"

// ClientConfig holds the client's endpoint and retry settings
type ClientConfig struct {
	// BaseURL is the versioned Graph endpoint, e.g. https://graph.microsoft.com/v1.0
	BaseURL   string
	UserEmail string
	// Timeout bounds each individual API call
	Timeout time.Duration
	// MaxRetries bounds retries of transient network failures. Distinct
	// from the single invalidate-and-retry on 401.
	MaxRetries int
	// PageSize is the $top value for list calls
	PageSize int
	// RetryBackoff is the wait between transient retries
	RetryBackoff time.Duration
}

// Client is an authenticated Microsoft Graph mail client
type Client struct {
	http      *http.Client
	tokens    TokenSource
	baseURL   string
	userEmail string

	maxRetries int
	pageSize   int
	backoff    time.Duration
	logger     *slog.Logger
}

// NewClient creates a Graph mail client
func NewClient(cfg ClientConfig, tokens TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	backoff := cfg.RetryBackoff
	if backoff == 0 {
		backoff = time.Second
	}
	return &Client{
		http:       &http.Client{Timeout: timeout},
		tokens:     tokens,
		baseURL:    cfg.BaseURL,
		userEmail:  cfg.UserEmail,
		maxRetries: cfg.MaxRetries,
		pageSize:   pageSize,
		backoff:    backoff,
		logger:     logger,
	}
}

// TestConnection verifies API access and returns the mailbox owner's
// display name
func (c *Client) TestConnection(ctx context.Context) (string, error) {
	status, body, err := c.do(ctx, http.MethodGet, c.userURL(""), nil, "test_connection")
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", &FetchError{Status: status, Detail: errorDetail(body)}
	}
	var user userResponse
	if err := json.Unmarshal(body, &user); err != nil {
		return "", fmt.Errorf("decode user response: %w", err)
	}
	if user.DisplayName != "" {
		return user.DisplayName, nil
	}
	return c.userEmail, nil
}

// Send sends a message through the sendMail endpoint. The body is sent
// as HTML. Raw attachments are base64-encoded into fileAttachment
// objects; provider-shaped attachments pass through unchanged.
func (c *Client) Send(ctx context.Context, req SendRequest) error {
	payload := sendMailRequest{
		Message: sendMailMessage{
			Subject:       req.Subject,
			Body:          ItemBody{ContentType: "HTML", Content: req.Body},
			ToRecipients:  toRecipients(req.To),
			CcRecipients:  toRecipients(req.Cc),
			BccRecipients: toRecipients(req.Bcc),
		},
		SaveToSentItem: true,
	}

	for _, att := range req.Attachments {
		if att.Raw != nil {
			payload.Message.Attachments = append(payload.Message.Attachments, att.Raw)
			continue
		}
		shaped, err := json.Marshal(fileAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         att.Name,
			ContentType:  att.ContentType,
			ContentBytes: base64.StdEncoding.EncodeToString(att.Content),
		})
		if err != nil {
			return fmt.Errorf("encode attachment %q: %w", att.Name, err)
		}
		payload.Message.Attachments = append(payload.Message.Attachments, shaped)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode send request: %w", err)
	}

	c.logger.Info("sending email", "to", req.To, "subject", req.Subject)

	status, respBody, err := c.do(ctx, http.MethodPost, c.userURL("/sendMail"), body, "send")
	if err != nil {
		return err
	}
	if status != http.StatusAccepted {
		return &SendError{Status: status, Detail: errorDetail(respBody)}
	}
	return nil
}

// ListMessages returns a page iterator over inbox messages received at
// or after since, newest first. The iterator is not restartable; a new
// call re-issues the filtered query from the start.
func (c *Client) ListMessages(since time.Time) *MessagePages {
	q := url.Values{}
	q.Set("$filter", "receivedDateTime ge "+since.UTC().Format("2006-01-02T15:04:05Z"))
	q.Set("$orderby", "receivedDateTime desc")
	q.Set("$top", strconv.Itoa(c.pageSize))
	q.Set("$select", selectFields)

	return &MessagePages{
		client: c,
		next:   c.userURL("/mailFolders/inbox/messages") + "?" + q.Encode(),
	}
}

// GetMessageDetail fetches the full message including its body. A
// non-200 response yields (nil, nil): the caller stores the message
// with reduced fidelity rather than dropping it.
func (c *Client) GetMessageDetail(ctx context.Context, messageID string) (*Message, error) {
	status, body, err := c.do(ctx, http.MethodGet, c.userURL("/messages/"+url.PathEscape(messageID)), nil, "get_detail")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		c.logger.Warn("failed to get message detail", "message_id", messageID, "status", status)
		return nil, nil
	}
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("decode message detail: %w", err)
	}
	return &msg, nil
}

// GetAttachments lists attachment metadata for a message. Same
// nil-on-failure contract as GetMessageDetail.
func (c *Client) GetAttachments(ctx context.Context, messageID string) ([]Attachment, error) {
	status, body, err := c.do(ctx, http.MethodGet, c.userURL("/messages/"+url.PathEscape(messageID)+"/attachments"), nil, "get_attachments")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		c.logger.Warn("failed to get attachments", "message_id", messageID, "status", status)
		return nil, nil
	}
	var resp attachmentsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode attachments: %w", err)
	}
	return resp.Value, nil
}

// GetAttachmentContent fetches a single attachment including its
// base64 content. Same nil-on-failure contract as GetMessageDetail.
func (c *Client) GetAttachmentContent(ctx context.Context, messageID, attachmentID string) (*Attachment, error) {
	path := "/messages/" + url.PathEscape(messageID) + "/attachments/" + url.PathEscape(attachmentID)
	status, body, err := c.do(ctx, http.MethodGet, c.userURL(path), nil, "get_attachment_content")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		c.logger.Warn("failed to get attachment content", "message_id", messageID, "attachment_id", attachmentID, "status", status)
		return nil, nil
	}
	var att Attachment
	if err := json.Unmarshal(body, &att); err != nil {
		return nil, fmt.Errorf("decode attachment content: %w", err)
	}
	return &att, nil
}

// MessagePages iterates over paged list results following
// @odata.nextLink cursors. Usage follows the scanner pattern:
//
//	it := client.ListMessages(since)
//	for it.Next(ctx) {
//		process(it.Page())
//	}
//	if err := it.Err(); err != nil { ... }
type MessagePages struct {
	client *Client
	next   string
	page   []Message
	err    error
}

// Next fetches the next page. It returns false when pagination is
// exhausted or a page fetch failed; pages already yielded remain valid.
func (it *MessagePages) Next(ctx context.Context) bool {
	if it.err != nil || it.next == "" {
		return false
	}

	status, body, err := it.client.do(ctx, http.MethodGet, it.next, nil, "list_messages")
	if err != nil {
		it.err = err
		return false
	}
	if status != http.StatusOK {
		it.err = &FetchError{Status: status, Detail: errorDetail(body)}
		return false
	}

	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		it.err = fmt.Errorf("decode message page: %w", err)
		return false
	}

	it.page = resp.Value
	it.next = resp.NextLink
	return true
}

// Page returns the most recently fetched page
func (it *MessagePages) Page() []Message {
	return it.page
}

// Err returns the error that stopped pagination, if any
func (it *MessagePages) Err() error {
	return it.err
}

func (c *Client) userURL(path string) string {
	return c.baseURL + "/users/" + url.PathEscape(c.userEmail) + path
}

// do executes one authenticated request. Transient network failures are
// retried up to maxRetries times with backoff; a 401 triggers exactly
// one token invalidation and retry before the status is returned as-is.
func (c *Client) do(ctx context.Context, method, rawurl string, body []byte, operation string) (int, []byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, nil, err
	}

	authRetried := false
	attempts := 0
	for {
		req, err := http.NewRequestWithContext(ctx, method, rawurl, bytes.NewReader(body))
		if err != nil {
			return 0, nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Prefer", `outlook.timezone="UTC"`)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return 0, nil, ctx.Err()
			}
			attempts++
			if attempts > c.maxRetries {
				metrics.GraphRequestsTotal.WithLabelValues(operation, "error").Inc()
				return 0, nil, fmt.Errorf("graph request failed after %d attempts: %w", attempts, err)
			}
			c.logger.Warn("transient graph request failure, retrying",
				"operation", operation, "attempt", attempts, "error", err)
			select {
			case <-time.After(c.backoff):
			case <-ctx.Done():
				return 0, nil, ctx.Err()
			}
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return 0, nil, fmt.Errorf("read response body: %w", err)
		}

		if resp.StatusCode == http.StatusUnauthorized && !authRetried {
			authRetried = true
			c.logger.Warn("token rejected, refreshing and retrying", "operation", operation)
			c.tokens.Invalidate()
			token, err = c.tokens.Token(ctx)
			if err != nil {
				return 0, nil, err
			}
			continue
		}

		metrics.GraphRequestsTotal.WithLabelValues(operation, strconv.Itoa(resp.StatusCode)).Inc()
		return resp.StatusCode, respBody, nil
	}
}

// errorDetail extracts the human-readable message from a Graph error
// envelope, falling back to the raw body
func errorDetail(body []byte) string {
	var envelope graphErrorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		if envelope.Error.Code != "" {
			return envelope.Error.Code + ": " + envelope.Error.Message
		}
		return envelope.Error.Message
	}
	return string(body)
}
