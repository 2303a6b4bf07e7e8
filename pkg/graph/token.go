package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// refreshMargin renews the cached token this long before its expiry so
// requests never race the deadline.
const refreshMargin = 5 * time.Minute

// tokenProvider caches an app-only bearer token and serialises acquisition:
// two goroutines hitting an expired cache refresh the token at most once.
type tokenProvider struct {
	conf *clientcredentials.Config

	mu    sync.Mutex
	token *oauth2.Token
}

func newTokenProvider(tenantID, clientID, clientSecret string) *tokenProvider {
	return &tokenProvider{
		conf: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID),
			Scopes:       []string{"https://graph.microsoft.com/.default"},
		},
	}
}

// Token returns a valid bearer token, refreshing when the cached one is
// within the refresh margin of expiry.
func (p *tokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != nil && p.token.Valid() && time.Until(p.token.Expiry) > refreshMargin {
		return p.token.AccessToken, nil
	}

	token, err := p.conf.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("acquiring graph token: %w", err)
	}
	p.token = token
	return token.AccessToken, nil
}

// Invalidate drops the cached token so the next call fetches a fresh one.
// Used for the single forced refresh after a 401.
func (p *tokenProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = nil
}
