package auth

import "context"

type requestAuthKey struct{}

// requestAuth is what the gateway attaches to a forwarded request.
type requestAuth struct {
	principal Principal
	token     string
}

// ContextWithPrincipal attaches the authenticated principal and the bearer
// token that represents it downstream. For API-key callers the token is the
// synthesized short-lived bearer.
func ContextWithPrincipal(ctx context.Context, principal Principal, token string) context.Context {
	return context.WithValue(ctx, requestAuthKey{}, &requestAuth{principal: principal, token: token})
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	ra := fromContext(ctx)
	if ra == nil {
		return Principal{}, false
	}
	return ra.principal, true
}

// TokenFromContext returns the bearer token attached alongside the principal.
func TokenFromContext(ctx context.Context) (string, bool) {
	ra := fromContext(ctx)
	if ra == nil || ra.token == "" {
		return "", false
	}
	return ra.token, true
}

func fromContext(ctx context.Context) *requestAuth {
	if ctx == nil {
		return nil
	}
	ra, _ := ctx.Value(requestAuthKey{}).(*requestAuth)
	return ra
}
