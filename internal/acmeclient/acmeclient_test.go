package acmeclient

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/acme"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPickChallengeSelectsRequestedType(t *testing.T) {
	challenges := []*acme.Challenge{
		{Type: "tls-alpn-01", Token: "tls-token"},
		{Type: "http-01", Token: "http-token"},
		{Type: "dns-01", Token: "dns-token"},
	}

	if got := pickChallenge(challenges, ChallengeHTTP01); got == nil || got.Token != "http-token" {
		t.Fatalf("got %+v, want http-01 challenge", got)
	}
	if got := pickChallenge(challenges, ChallengeDNS01); got == nil || got.Token != "dns-token" {
		t.Fatalf("got %+v, want dns-01 challenge", got)
	}
}

func TestPickChallengeReturnsNilWhenAbsent(t *testing.T) {
	challenges := []*acme.Challenge{{Type: "tls-alpn-01", Token: "tls-token"}}
	if got := pickChallenge(challenges, ChallengeDNS01); got != nil {
		t.Fatalf("got %+v, want nil", got)
	}
}

func TestLoadOrCreateAccountKeyPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "account.pem")

	key1, err := loadOrCreateAccountKey(path)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}

	key2, err := loadOrCreateAccountKey(path)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}

	if key1.D.Cmp(key2.D) != 0 {
		t.Fatal("expected the same account key to be reloaded, got a different key")
	}
}

func TestHTTPHandlerServesActiveChallenge(t *testing.T) {
	c := &Client{logger: testLogger(), keyAuths: map[string]string{"tok123": "tok123.thumbprint"}}
	handler := c.HTTPHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/acme-challenge/tok123", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "tok123.thumbprint" {
		t.Fatalf("body = %q, want key authorization", rec.Body.String())
	}
}

func TestHTTPHandlerFallsBackForUnknownToken(t *testing.T) {
	c := &Client{logger: testLogger(), keyAuths: map[string]string{}}

	fallbackHit := false
	fallback := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackHit = true
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/.well-known/acme-challenge/unknown", nil)
	rec := httptest.NewRecorder()
	c.HTTPHandler(fallback).ServeHTTP(rec, req)

	if !fallbackHit {
		t.Fatal("expected fallback handler to be invoked for an unknown token")
	}
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want 418 from fallback", rec.Code)
	}
}
