package gateway

import (
	"net"
	"net/http"
	"strings"

	"authgate.org/internal/auth"
)

const (
	headerAuthorization = "Authorization"
	headerAPIKey        = "X-API-Key"
	bearerScheme        = "bearer"
)

type credentialKind int

const (
	credentialNone credentialKind = iota
	credentialBearer
	credentialAPIKey
)

type credential struct {
	kind  credentialKind
	value string
	err   error
}

// extractCredential reads the presented credential. A bearer token wins
// over an API key when both are sent.
func extractCredential(h http.Header) credential {
	if raw := strings.TrimSpace(h.Get(headerAuthorization)); raw != "" {
		token, err := extractBearerToken(raw)
		return credential{kind: credentialBearer, value: token, err: err}
	}
	if key := strings.TrimSpace(h.Get(headerAPIKey)); key != "" {
		return credential{kind: credentialAPIKey, value: key}
	}
	return credential{kind: credentialNone, err: auth.ErrMissingCredential}
}

func extractBearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return "", auth.ErrMalformedCredential
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", auth.ErrMissingCredential
	}
	return token, nil
}

// ClientIP returns the caller address of r. X-Forwarded-For is honoured only
// when trustProxy is set.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	return hostOnly(r.RemoteAddr)
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
