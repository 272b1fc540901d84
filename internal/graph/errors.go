package graph

import "fmt"

// AuthError indicates the client-credentials token exchange failed.
// Fatal for the current sync run; the next cycle retries from scratch.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("graph auth failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// FetchError indicates a non-2xx response from a list, detail or
// attachment call. Run-truncating for list pagination, non-fatal for
// enrichment calls.
type FetchError struct {
	Status int
	Detail string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("graph fetch failed: %d - %s", e.Status, e.Detail)
}

// SendError indicates a non-2xx response from sendMail, surfaced to the
// API caller with the provider's status and detail text.
type SendError struct {
	Status int
	Detail string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("graph send failed: %d - %s", e.Status, e.Detail)
}
