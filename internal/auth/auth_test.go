package auth

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signToken(t *testing.T, secret string, roles []string, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"roles": roles,
		"exp":   time.Now().Add(expiresIn).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func TestOpenGateWithoutSecret(t *testing.T) {
	g := NewGate("", "", []string{"admin"}, testLogger())
	if !g.AuthorizeToken("") {
		t.Error("gate without secret should allow empty token")
	}
	if !g.AuthorizeToken("not-even-a-jwt") {
		t.Error("gate without secret should allow any token")
	}
}

func TestTokenWithAllowedRole(t *testing.T) {
	g := NewGate("s3cret", "", []string{"admin", "orchestrate"}, testLogger())

	if !g.AuthorizeToken(signToken(t, "s3cret", []string{"Admin"}, time.Hour)) {
		t.Error("role match should be case-insensitive")
	}
	if g.AuthorizeToken(signToken(t, "s3cret", []string{"viewer"}, time.Hour)) {
		t.Error("token without an allowed role should be rejected")
	}
	if g.AuthorizeToken("") {
		t.Error("empty token should be rejected when a secret is set")
	}
}

func TestTokenSignatureAndExpiry(t *testing.T) {
	g := NewGate("s3cret", "", []string{"admin"}, testLogger())

	if g.AuthorizeToken(signToken(t, "wrong-secret", []string{"admin"}, time.Hour)) {
		t.Error("token signed with another secret should be rejected")
	}
	if g.AuthorizeToken(signToken(t, "s3cret", []string{"admin"}, -time.Minute)) {
		t.Error("expired token should be rejected")
	}
}

func TestAuthorizeRequest(t *testing.T) {
	g := NewGate("s3cret", "key-123", []string{"admin"}, testLogger())

	r := httptest.NewRequest("POST", "/api/services/api/restart", nil)
	if g.AuthorizeRequest(r) {
		t.Error("request without credentials should be rejected")
	}

	r = httptest.NewRequest("POST", "/api/services/api/restart", nil)
	r.Header.Set("x-api-key", "key-123")
	if !g.AuthorizeRequest(r) {
		t.Error("matching api key should be accepted")
	}

	r = httptest.NewRequest("POST", "/api/services/api/restart", nil)
	r.Header.Set("x-api-key", "wrong")
	if g.AuthorizeRequest(r) {
		t.Error("wrong api key without token should be rejected")
	}

	r = httptest.NewRequest("POST", "/api/services/api/restart", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, "s3cret", []string{"admin"}, time.Hour))
	if !g.AuthorizeRequest(r) {
		t.Error("valid bearer token should be accepted")
	}
}
