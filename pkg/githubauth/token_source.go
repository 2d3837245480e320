// Package githubauth provides bearer token sources for outbound GitHub API
// calls: a fixed personal access token, and a self-refreshing GitHub App
// installation token derived from short-lived JWT assertions.
package githubauth

import (
	"context"
)

// TokenSource supplies bearer tokens for outbound requests. Implementations
// must be safe for concurrent use. The refreshing and fixed variants are
// interchangeable at the call site.
type TokenSource interface {
	// Token returns a currently valid bearer token, refreshing if needed.
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a fixed token, typically a personal access
// token. It never refreshes and never expires.
type StaticTokenSource struct {
	token string
}

// NewStaticTokenSource creates a token source around a fixed token.
func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

// Token returns the fixed token.
func (s *StaticTokenSource) Token(_ context.Context) (string, error) {
	return s.token, nil
}
