package graph

import (
	"encoding/json"
	"time"
)

// EmailAddress is a Graph emailAddress object
type EmailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// Recipient is a Graph recipient object
type Recipient struct {
	EmailAddress EmailAddress `json:"emailAddress"`
}

// ItemBody is a Graph itemBody object
type ItemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// Message is the provider-shaped message record returned by list and
// detail calls. List responses carry only the $select projection; Body
// is populated by detail calls.
type Message struct {
	ID               string      `json:"id"`
	Subject          string      `json:"subject"`
	BodyPreview      string      `json:"bodyPreview"`
	Body             *ItemBody   `json:"body,omitempty"`
	From             *Recipient  `json:"from,omitempty"`
	ToRecipients     []Recipient `json:"toRecipients"`
	CcRecipients     []Recipient `json:"ccRecipients"`
	ReceivedDateTime time.Time   `json:"receivedDateTime"`
	HasAttachments   bool        `json:"hasAttachments"`
	Importance       string      `json:"importance"`
	IsRead           bool        `json:"isRead"`
}

// SenderAddress returns the sender's address, empty when absent
func (m *Message) SenderAddress() string {
	if m.From == nil {
		return ""
	}
	return m.From.EmailAddress.Address
}

// SenderName returns the sender's display name, empty when absent
func (m *Message) SenderName() string {
	if m.From == nil {
		return ""
	}
	return m.From.EmailAddress.Name
}

// Attachment is a Graph attachment object. ContentBytes is base64 and
// only present on attachment content calls.
type Attachment struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	Size         int64  `json:"size"`
	IsInline     bool   `json:"isInline"`
	ContentBytes string `json:"contentBytes,omitempty"`
}

// SendRequest describes an outgoing message
type SendRequest struct {
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	Body        string
	Attachments []OutgoingAttachment
}

// OutgoingAttachment is either raw content (Name + Content) that gets
// base64-encoded into a fileAttachment, or an already provider-shaped
// object (Raw) passed through unchanged.
type OutgoingAttachment struct {
	Name        string
	ContentType string
	Content     []byte
	Raw         json.RawMessage
}

// listResponse is a paged Graph collection response
type listResponse struct {
	Value    []Message `json:"value"`
	NextLink string    `json:"@odata.nextLink"`
}

// attachmentsResponse is the attachments collection response
type attachmentsResponse struct {
	Value []Attachment `json:"value"`
}

// graphErrorResponse is the standard Graph error envelope
type graphErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// fileAttachment is the provider shape for an uploaded attachment
type fileAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType,omitempty"`
	ContentBytes string `json:"contentBytes"`
}

// sendMailRequest is the sendMail endpoint payload
type sendMailRequest struct {
	Message        sendMailMessage `json:"message"`
	SaveToSentItem bool            `json:"saveToSentItems"`
}

type sendMailMessage struct {
	Subject       string            `json:"subject"`
	Body          ItemBody          `json:"body"`
	ToRecipients  []Recipient       `json:"toRecipients"`
	CcRecipients  []Recipient       `json:"ccRecipients"`
	BccRecipients []Recipient       `json:"bccRecipients"`
	Attachments   []json.RawMessage `json:"attachments,omitempty"`
}

// userResponse is the subset of the Graph user object used by TestConnection
type userResponse struct {
	DisplayName string `json:"displayName"`
	Mail        string `json:"mail"`
}

func toRecipients(addresses []string) []Recipient {
	out := make([]Recipient, 0, len(addresses))
	for _, addr := range addresses {
		out = append(out, Recipient{EmailAddress: EmailAddress{Address: addr}})
	}
	return out
}
