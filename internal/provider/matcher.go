// Package provider turns user supplied tokens (links, arXiv ids, local paths)
// into something that can be stored: a file name and a byte source.
package provider

import (
	"context"

	"github.com/Lllllllleong/paperdrop/internal/models"
)

// Matcher is one way of understanding a token. Matches must be cheap and
// free of I/O; Resolve may go to the network.
type Matcher interface {
	Name() string
	Matches(token string) bool
	Resolve(ctx context.Context, token string) (models.Uploadable, error)
}

// ResolveFunc is a Matcher's Resolve bound to nothing but its token.
type ResolveFunc func(ctx context.Context, token string) (models.Uploadable, error)

type funcMatcher struct {
	name    string
	match   func(string) bool
	resolve ResolveFunc
}

// NewMatcher builds a Matcher from a predicate and a resolve function.
func NewMatcher(name string, match func(string) bool, resolve ResolveFunc) Matcher {
	return &funcMatcher{name: name, match: match, resolve: resolve}
}

func (m *funcMatcher) Name() string { return m.name }

func (m *funcMatcher) Matches(token string) bool { return m.match(token) }

func (m *funcMatcher) Resolve(ctx context.Context, token string) (models.Uploadable, error) {
	return m.resolve(ctx, token)
}
