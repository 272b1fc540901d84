package graph

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/adityaankur/graphmail/internal/config"
)

// TokenSource supplies bearer tokens for Graph API calls. Invalidate
// drops any cached token so the next Token call re-authenticates; the
// client calls it after a 401 before its single auth retry.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// TokenProvider acquires and caches client-credentials tokens. The
// underlying oauth2 source refreshes on expiry by itself; Invalidate
// covers tokens revoked before their advertised expiry.
type TokenProvider struct {
	conf clientcredentials.Config

	mu     sync.Mutex
	source oauth2.TokenSource
}

// NewTokenProvider creates a TokenProvider for the configured tenant
func NewTokenProvider(cfg *config.GraphConfig) *TokenProvider {
	return &TokenProvider{
		conf: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.Authority() + "/oauth2/v2.0/token",
			Scopes:       []string{strings.TrimSuffix(cfg.Endpoint, "/") + "/.default"},
		},
	}
}

// NewTokenProviderWithURL creates a TokenProvider against an explicit
// token endpoint. Used by tests and non-standard clouds.
func NewTokenProviderWithURL(clientID, clientSecret, tokenURL string, scopes []string) *TokenProvider {
	return &TokenProvider{
		conf: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       scopes,
		},
	}
}

// Token returns a valid access token, acquiring one lazily on first use
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.source == nil {
		p.source = p.conf.TokenSource(context.Background())
	}
	src := p.source
	p.mu.Unlock()

	tok, err := src.Token()
	if err != nil {
		return "", &AuthError{Err: err}
	}
	return tok.AccessToken, nil
}

// Invalidate discards the cached token source
func (p *TokenProvider) Invalidate() {
	p.mu.Lock()
	p.source = nil
	p.mu.Unlock()
}
