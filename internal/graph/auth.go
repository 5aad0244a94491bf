package graph

import "context"

// TokenProvider yields a valid bearer token for Graph requests. The OAuth2 +
// PKCE acquisition flow that implements it lives outside this module (spec
// §1); the sync engine only ever consumes this interface.
type TokenProvider interface {
	// Token returns a currently-valid access token, refreshing it first if needed.
	Token(ctx context.Context) (string, error)
	// Invalidate discards any cached token, forcing the next Token call to refresh.
	Invalidate()
}
