package tools

import "context"

// Scope identifies whose data a tool call may touch.
type Scope struct {
	UserID     string
	BusinessID string
}

type scopeKey struct{}

// WithScope attaches the caller's scope to ctx.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the scope stored in ctx, or the zero Scope.
func ScopeFrom(ctx context.Context) Scope {
	s, _ := ctx.Value(scopeKey{}).(Scope)
	return s
}
