package transport

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

// TokenProvider supplies the bearer token sent with each stream request.
// An empty token means no Authorization header.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

// Token implements TokenProvider.
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// TokenProviderFunc adapts a function to TokenProvider.
type TokenProviderFunc func(ctx context.Context) (string, error)

// Token implements TokenProvider.
func (f TokenProviderFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

type tokenSourceProvider struct {
	ts oauth2.TokenSource
}

// FromTokenSource adapts an oauth2.TokenSource, which handles refresh, to a
// TokenProvider.
func FromTokenSource(ts oauth2.TokenSource) TokenProvider {
	return &tokenSourceProvider{ts: ts}
}

func (p *tokenSourceProvider) Token(context.Context) (string, error) {
	tok, err := p.ts.Token()
	if err != nil {
		return "", fmt.Errorf("fetch bearer token: %w", err)
	}
	return tok.AccessToken, nil
}
