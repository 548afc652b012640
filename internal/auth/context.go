package auth

import "context"

type contextKey string

const claimsKey contextKey = "momentum-auth-claims"

// WithClaims stores claims on the context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// FromContext retrieves claims stored by WithClaims.
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}

// SubjectFromContext returns the authenticated subject, or "" when the request carries
// none.
func SubjectFromContext(ctx context.Context) string {
	claims, ok := FromContext(ctx)
	if !ok || claims == nil {
		return ""
	}
	return claims.Subject
}
