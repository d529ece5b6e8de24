package domain

import "context"

type ctxKey string

const authorizationKey ctxKey = "authorization"

// WithAuthorization stores the caller's Authorization header so outbound
// calls can forward it unchanged.
func WithAuthorization(ctx context.Context, header string) context.Context {
	if header == "" {
		return ctx
	}
	return context.WithValue(ctx, authorizationKey, header)
}

// AuthorizationFrom returns the forwarded Authorization header, if any.
func AuthorizationFrom(ctx context.Context) string {
	v, _ := ctx.Value(authorizationKey).(string)
	return v
}
