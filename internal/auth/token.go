package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the typed payload of an access token. Unknown payload members
// survive a decode in Extensions.
type Claims struct {
	ID         string
	Subject    string
	Issuer     string
	Role       string
	TenantID   string
	Kind       PrincipalKind
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Extensions map[string]any
}

// Token time fields carry millisecond precision so a token lives for its
// full ttl regardless of where in the second it was issued.
func init() {
	jwt.TimePrecision = time.Millisecond
}

var reservedClaims = map[string]struct{}{
	"jti": {}, "sub": {}, "iss": {}, "aud": {}, "iat": {}, "nbf": {}, "exp": {},
	"role": {}, "tenant": {}, "kind": {},
}

// TokenCodec issues and verifies signed, time-limited access tokens. The
// signing algorithm is fixed at construction and never read from the token.
type TokenCodec struct {
	secret []byte
	method jwt.SigningMethod
	issuer string
	now    func() time.Time
}

// CodecOption configures a TokenCodec.
type CodecOption func(*TokenCodec)

// WithCodecClock overrides the time source used for issuing and verifying.
func WithCodecClock(fn func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewTokenCodec returns a codec signing with the HMAC algorithm alg.
func NewTokenCodec(secret, alg, issuer string, opts ...CodecOption) (*TokenCodec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("%w: token secret is empty", ErrInvalidInput)
	}
	var method jwt.SigningMethod
	switch strings.ToUpper(alg) {
	case "", "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("%w: unsupported signing algorithm %q", ErrInvalidInput, alg)
	}
	c := &TokenCodec{
		secret: []byte(secret),
		method: method,
		issuer: issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Algorithm returns the configured signing algorithm name.
func (c *TokenCodec) Algorithm() string { return c.method.Alg() }

// Issue signs a token for subjectID valid for ttl.
func (c *TokenCodec) Issue(subjectID, role, tenant string, ttl time.Duration) (string, time.Time, error) {
	return c.IssueClaims(Claims{Subject: subjectID, Role: role, TenantID: tenant, Kind: KindUser}, ttl)
}

// IssueClaims signs the typed claims. ID, Issuer, IssuedAt and ExpiresAt are
// filled in by the codec. The returned expiry is the one encoded in the token.
func (c *TokenCodec) IssueClaims(claims Claims, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(claims.Subject) == "" {
		return "", time.Time{}, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: ttl must be positive", ErrInvalidInput)
	}
	issuedAt := c.now().UTC()
	expiresAt := issuedAt.Add(ttl).Truncate(jwt.TimePrecision)

	payload := jwt.MapClaims{}
	for k, v := range claims.Extensions {
		if _, reserved := reservedClaims[k]; reserved {
			continue
		}
		payload[k] = v
	}
	payload["jti"] = uuid.NewString()
	payload["sub"] = claims.Subject
	payload["iat"] = jwt.NewNumericDate(issuedAt)
	payload["exp"] = jwt.NewNumericDate(expiresAt)
	if c.issuer != "" {
		payload["iss"] = c.issuer
	}
	if claims.Role != "" {
		payload["role"] = claims.Role
	}
	if claims.TenantID != "" {
		payload["tenant"] = claims.TenantID
	}
	kind := claims.Kind
	if kind == "" {
		kind = KindUser
	}
	payload["kind"] = string(kind)

	signed, err := jwt.NewWithClaims(c.method, payload).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Decode verifies token and returns its claims. Failures wrap
// ErrExpiredCredential, ErrBadSignature or ErrMalformedCredential.
func (c *TokenCodec) Decode(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingCredential
	}
	// Time claims are checked below against exact decimal values; the
	// library's float conversion can move them by a millisecond.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithoutClaimsValidation(),
		jwt.WithStrictDecoding(),
	)
	payload := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(token, payload, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, classifyJWTError(err)
	}
	times, err := decodeTimes(parser, token)
	if err != nil {
		return nil, err
	}
	now := c.now()
	switch {
	case times.exp.IsZero():
		return nil, fmt.Errorf("%w: exp is required", ErrMalformedCredential)
	case !now.Before(times.exp):
		return nil, ErrExpiredCredential
	case !times.iat.IsZero() && now.Before(times.iat):
		return nil, fmt.Errorf("%w: issued in the future", ErrMalformedCredential)
	case !times.nbf.IsZero() && now.Before(times.nbf):
		return nil, fmt.Errorf("%w: not yet valid", ErrMalformedCredential)
	}
	if c.issuer != "" {
		if iss, err := payload.GetIssuer(); err != nil || iss != c.issuer {
			return nil, fmt.Errorf("%w: issuer mismatch", ErrMalformedCredential)
		}
	}
	claims, err := claimsFromMap(payload)
	if err != nil {
		return nil, err
	}
	claims.IssuedAt = times.iat
	claims.ExpiresAt = times.exp
	return claims, nil
}

type tokenTimes struct {
	exp, iat, nbf time.Time
}

// decodeTimes reads exp, iat and nbf from an already verified token.
func decodeTimes(p *jwt.Parser, token string) (tokenTimes, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return tokenTimes{}, ErrMalformedCredential
	}
	raw, err := p.DecodeSegment(parts[1])
	if err != nil {
		return tokenTimes{}, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}
	var fields struct {
		Exp json.Number `json:"exp"`
		Iat json.Number `json:"iat"`
		Nbf json.Number `json:"nbf"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return tokenTimes{}, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}
	var out tokenTimes
	for _, f := range []struct {
		n   json.Number
		dst *time.Time
	}{{fields.Exp, &out.exp}, {fields.Iat, &out.iat}, {fields.Nbf, &out.nbf}} {
		if f.n == "" {
			continue
		}
		t, err := numericDate(f.n)
		if err != nil {
			return tokenTimes{}, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
		}
		*f.dst = t
	}
	return out, nil
}

// numericDate parses a JSON NumericDate without a float round trip when the
// value is plain decimal.
func numericDate(n json.Number) (time.Time, error) {
	whole, frac, _ := strings.Cut(string(n), ".")
	sec, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil {
			return time.Time{}, ferr
		}
		secs, fr := math.Modf(f)
		return time.Unix(int64(secs), int64(fr*1e9)).UTC(), nil
	}
	var nsec uint64
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		frac += strings.Repeat("0", 9-len(frac))
		if nsec, err = strconv.ParseUint(frac, 10, 32); err != nil {
			return time.Time{}, fmt.Errorf("invalid numeric date %q", n)
		}
	}
	if sec < 0 && nsec > 0 {
		return time.Time{}, fmt.Errorf("invalid numeric date %q", n)
	}
	return time.Unix(sec, int64(nsec)).UTC(), nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpiredCredential
	default:
		return fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}
}

func claimsFromMap(m jwt.MapClaims) (*Claims, error) {
	sub, err := m.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return nil, fmt.Errorf("%w: subject missing", ErrMalformedCredential)
	}
	claims := &Claims{Subject: sub}
	claims.Issuer, _ = m.GetIssuer()
	var ok bool
	if v, present := m["jti"]; present {
		if claims.ID, ok = v.(string); !ok {
			return nil, fmt.Errorf("%w: jti is not a string", ErrMalformedCredential)
		}
	}
	if v, present := m["role"]; present {
		if claims.Role, ok = v.(string); !ok {
			return nil, fmt.Errorf("%w: role is not a string", ErrMalformedCredential)
		}
	}
	if v, present := m["tenant"]; present {
		if claims.TenantID, ok = v.(string); !ok {
			return nil, fmt.Errorf("%w: tenant is not a string", ErrMalformedCredential)
		}
	}
	claims.Kind = KindUser
	if v, present := m["kind"]; present {
		kind, _ := v.(string)
		switch PrincipalKind(kind) {
		case KindUser, KindService:
			claims.Kind = PrincipalKind(kind)
		default:
			return nil, fmt.Errorf("%w: unknown principal kind", ErrMalformedCredential)
		}
	}
	for k, v := range m {
		if _, reserved := reservedClaims[k]; reserved {
			continue
		}
		if claims.Extensions == nil {
			claims.Extensions = make(map[string]any)
		}
		claims.Extensions[k] = v
	}
	return claims, nil
}
