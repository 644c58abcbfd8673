package auth

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestCodec(t *testing.T, clock *fakeClock) *TokenCodec {
	t.Helper()
	codec, err := NewTokenCodec(testSecret, "HS256", "authgate-test", WithCodecClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	return codec
}

func TestTokenCodecRoundTrip(t *testing.T) {
	clock := newFakeClock()
	codec := newTestCodec(t, clock)

	token, expiresAt, err := codec.IssueClaims(Claims{
		Subject:    "user-42",
		Role:       "institution_admin",
		TenantID:   "tenant-1",
		Extensions: map[string]any{"device": "cli", "exp": 1},
	}, time.Minute)
	if err != nil {
		t.Fatalf("IssueClaims: %v", err)
	}
	if !expiresAt.Equal(clock.Now().Add(time.Minute)) {
		t.Fatalf("unexpected expiry %v", expiresAt)
	}

	claims, err := codec.Decode(token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if claims.Subject != "user-42" || claims.Role != "institution_admin" || claims.TenantID != "tenant-1" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.Kind != KindUser {
		t.Fatalf("expected user kind, got %q", claims.Kind)
	}
	if claims.Issuer != "authgate-test" || claims.ID == "" {
		t.Fatalf("issuer or id missing: %+v", claims)
	}
	if claims.Extensions["device"] != "cli" {
		t.Fatalf("extension not preserved: %v", claims.Extensions)
	}
	if _, ok := claims.Extensions["exp"]; ok {
		t.Fatalf("reserved claim leaked into extensions")
	}
	if !claims.ExpiresAt.Equal(expiresAt) {
		t.Fatalf("expiry mismatch %v != %v", claims.ExpiresAt, expiresAt)
	}
}

func TestTokenCodecExpiryBoundary(t *testing.T) {
	clock := newFakeClock()
	codec := newTestCodec(t, clock)
	ttl := 30 * time.Second

	token, _, err := codec.Issue("user-1", "user", "", ttl)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clock.Advance(ttl - time.Millisecond)
	if _, err := codec.Decode(token); err != nil {
		t.Fatalf("expected token valid just before ttl, got %v", err)
	}

	clock.Advance(time.Millisecond)
	if _, err := codec.Decode(token); !errors.Is(err, ErrExpiredCredential) {
		t.Fatalf("expected expired at ttl, got %v", err)
	}

	clock.Advance(time.Hour)
	if _, err := codec.Decode(token); !errors.Is(err, ErrExpiredCredential) {
		t.Fatalf("expected expired after ttl, got %v", err)
	}
}

func TestTokenCodecFullLifetimeFromFractionalSecond(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 900*int(time.Millisecond), time.UTC)}
	codec := newTestCodec(t, clock)
	ttl := 30 * time.Second
	issued := clock.Now()

	token, expiresAt, err := codec.Issue("user-1", "user", "", ttl)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !expiresAt.Equal(issued.Add(ttl)) {
		t.Fatalf("expected expiry %v, got %v", issued.Add(ttl), expiresAt)
	}

	clock.Advance(ttl - 500*time.Millisecond)
	if _, err := codec.Decode(token); err != nil {
		t.Fatalf("expected token valid at ttl-500ms, got %v", err)
	}
	clock.Advance(499 * time.Millisecond)
	claims, err := codec.Decode(token)
	if err != nil {
		t.Fatalf("expected token valid at ttl-1ms, got %v", err)
	}
	if !claims.ExpiresAt.Equal(expiresAt) || !claims.IssuedAt.Equal(issued) {
		t.Fatalf("time claims drifted: iat=%v exp=%v", claims.IssuedAt, claims.ExpiresAt)
	}
	clock.Advance(time.Millisecond)
	if _, err := codec.Decode(token); !errors.Is(err, ErrExpiredCredential) {
		t.Fatalf("expected expired at ttl, got %v", err)
	}
}

func TestNumericDateParsesExactly(t *testing.T) {
	cases := map[string]time.Time{
		"1772366430":       time.Unix(1772366430, 0).UTC(),
		"1772366430.9":     time.Unix(1772366430, 900_000_000).UTC(),
		"1772366430.123":   time.Unix(1772366430, 123_000_000).UTC(),
		"1772366430.00100": time.Unix(1772366430, 1_000_000).UTC(),
		"1.7e9":            time.Unix(1_700_000_000, 0).UTC(),
	}
	for raw, want := range cases {
		got, err := numericDate(json.Number(raw))
		if err != nil {
			t.Fatalf("%s: %v", raw, err)
		}
		if !got.Equal(want) {
			t.Fatalf("%s: expected %v, got %v", raw, want, got)
		}
	}
	if _, err := numericDate(json.Number("12.+5")); err == nil {
		t.Fatal("expected signed fraction rejected")
	}
}

func TestTokenCodecRejectsTamperedBytes(t *testing.T) {
	clock := newFakeClock()
	codec := newTestCodec(t, clock)
	token, _, err := codec.Issue("user-1", "user", "t1", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	for i := 0; i < len(token); i++ {
		b := []byte(token)
		if b[i] == 'A' {
			b[i] = 'B'
		} else {
			b[i] = 'A'
		}
		_, err := codec.Decode(string(b))
		if err == nil {
			t.Fatalf("tampered byte %d decoded successfully", i)
		}
		if !errors.Is(err, ErrMalformedCredential) {
			t.Fatalf("byte %d: expected malformed or bad signature, got %v", i, err)
		}
	}
}

func TestTokenCodecBadSignature(t *testing.T) {
	clock := newFakeClock()
	codec := newTestCodec(t, clock)
	other, err := NewTokenCodec(strings.Repeat("x", 32), "HS256", "authgate-test", WithCodecClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	token, _, err := other.Issue("user-1", "user", "", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := codec.Decode(token); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected bad signature, got %v", err)
	}
}

func TestTokenCodecPinsAlgorithm(t *testing.T) {
	clock := newFakeClock()
	codec := newTestCodec(t, clock)
	claims := jwt.MapClaims{
		"sub": "user-1",
		"iss": "authgate-test",
		"iat": jwt.NewNumericDate(clock.Now()),
		"exp": jwt.NewNumericDate(clock.Now().Add(time.Minute)),
	}
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := codec.Decode(hs512); !errors.Is(err, ErrMalformedCredential) {
		t.Fatalf("expected algorithm mismatch to fail, got %v", err)
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := codec.Decode(none); !errors.Is(err, ErrMalformedCredential) {
		t.Fatalf("expected alg=none to fail, got %v", err)
	}
}

func TestTokenCodecRejectsForeignIssuerAndGarbage(t *testing.T) {
	clock := newFakeClock()
	codec := newTestCodec(t, clock)
	foreign, err := NewTokenCodec(testSecret, "HS256", "someone-else", WithCodecClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	token, _, err := foreign.Issue("user-1", "user", "", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := codec.Decode(token); !errors.Is(err, ErrMalformedCredential) {
		t.Fatalf("expected issuer mismatch to fail, got %v", err)
	}
	for _, raw := range []string{"not-a-token", "a.b.c", "...."} {
		if _, err := codec.Decode(raw); !errors.Is(err, ErrMalformedCredential) {
			t.Fatalf("%q: expected malformed, got %v", raw, err)
		}
	}
	if _, err := codec.Decode("  "); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected missing credential, got %v", err)
	}
}

func TestNewTokenCodecValidation(t *testing.T) {
	if _, err := NewTokenCodec("", "HS256", "x"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected empty secret rejected, got %v", err)
	}
	if _, err := NewTokenCodec(testSecret, "RS256", "x"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected unsupported algorithm rejected, got %v", err)
	}
	codec, err := NewTokenCodec(testSecret, "hs384", "x")
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	if codec.Algorithm() != "HS384" {
		t.Fatalf("unexpected algorithm %s", codec.Algorithm())
	}
}
