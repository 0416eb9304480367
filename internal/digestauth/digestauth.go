// Package digestauth implements RFC 2617 HTTP Digest Authentication as
// adapted for SIP: challenge generation, nonce lifecycle (expiry and replay
// rejection), and response validation, guarded by a brute-force blocker.
package digestauth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/icholy/digest"

	"github.com/rustalk/sbc/internal/clock"
)

const (
	algoMD5 = "MD5"

	// nonceExpiry bounds how long an issued nonce may be used before it is
	// considered stale, matching the 300-second window used throughout the
	// security perimeter's nonce/session lifetimes.
	nonceExpiry = 5 * time.Minute
)

var (
	// ErrNonceUnknown is returned when a response references a nonce this
	// authenticator never issued (or has already swept).
	ErrNonceUnknown = errors.New("digestauth: unknown nonce")
	// ErrNonceExpired is returned when a nonce is presented after its
	// validity window has elapsed.
	ErrNonceExpired = errors.New("digestauth: nonce expired")
	// ErrNonceReplayed is returned when a nonce that has already been
	// consumed by a successful authentication is presented again.
	ErrNonceReplayed = errors.New("digestauth: nonce replayed")
	// ErrBadCredentials is returned when the computed digest does not match
	// the one presented by the client.
	ErrBadCredentials = errors.New("digestauth: credential mismatch")
	// ErrBlocked is returned when the source is currently blocked by the
	// brute-force guard and was not evaluated at all.
	ErrBlocked = errors.New("digestauth: source is blocked")
)

// CredentialLookup resolves a username to its plaintext password for digest
// computation. The SIP core supplies this from whatever extension/trunk
// store it owns; digestauth has no opinion on storage.
type CredentialLookup func(username string) (password string, ok bool)

type nonceEntry struct {
	issuedAt time.Time
	used     bool
}

// Authenticator issues digest challenges and validates responses for a
// single realm, tracking outstanding nonces and delegating repeated
// failures to a Guard.
type Authenticator struct {
	Realm   string
	Lookup  CredentialLookup
	Guard   *Guard
	clock   clock.Clock
	logger  *slog.Logger
	mu      sync.Mutex
	nonces  map[string]*nonceEntry
}

// NewAuthenticator creates an Authenticator for the given realm. lookup
// resolves usernames to passwords; guard may be nil to disable brute-force
// tracking.
func NewAuthenticator(realm string, lookup CredentialLookup, guard *Guard, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		Realm:  realm,
		Lookup: lookup,
		Guard:  guard,
		clock:  clock.System,
		logger: logger.With("subsystem", "digestauth"),
		nonces: make(map[string]*nonceEntry),
	}
}

// WithClock overrides the time source, for deterministic tests of nonce
// expiry and brute-force backoff.
func (a *Authenticator) WithClock(c clock.Clock) *Authenticator {
	a.clock = c
	if a.Guard != nil {
		a.Guard.clock = c
	}
	return a
}

// Challenge generates a fresh nonce and returns the WWW-Authenticate /
// Proxy-Authenticate header value for a 401/407 response, along with the
// raw nonce (useful for tests and logging; callers normally only need the
// header value).
func (a *Authenticator) Challenge() (header, nonce string, err error) {
	nonce, err = generateNonce()
	if err != nil {
		return "", "", fmt.Errorf("digestauth: generating nonce: %w", err)
	}

	a.mu.Lock()
	a.nonces[nonce] = &nonceEntry{issuedAt: a.clock.Now()}
	a.mu.Unlock()

	chal := digest.Challenge{
		Realm:     a.Realm,
		Nonce:     nonce,
		Opaque:    nonce,
		Algorithm: algoMD5,
	}
	return chal.String(), nonce, nil
}

// Validate parses an Authorization header value, checks the brute-force
// guard, validates the referenced nonce, and verifies the response digest
// against the expected value for (method, uri). source identifies the
// caller for brute-force accounting (typically "ip:port").
func (a *Authenticator) Validate(source, method, authHeader string) (username string, err error) {
	if a.Guard != nil && a.Guard.IsBlocked(source) {
		return "", ErrBlocked
	}

	cred, err := digest.ParseCredentials(authHeader)
	if err != nil {
		a.recordFailure(source)
		return "", fmt.Errorf("digestauth: parsing credentials: %w", err)
	}

	if err := a.consumeNonce(cred.Nonce); err != nil {
		a.recordFailure(source)
		return "", err
	}

	password, ok := a.Lookup(cred.Username)
	if !ok {
		a.recordFailure(source)
		return "", ErrBadCredentials
	}

	chal := digest.Challenge{Realm: a.Realm, Nonce: cred.Nonce, Algorithm: algoMD5}
	expected, err := digest.Digest(&chal, digest.Options{
		Method:   method,
		URI:      cred.URI,
		Username: cred.Username,
		Password: password,
	})
	if err != nil {
		a.recordFailure(source)
		return "", fmt.Errorf("digestauth: computing expected digest: %w", err)
	}

	if cred.Response != expected.Response {
		a.recordFailure(source)
		return "", ErrBadCredentials
	}

	if a.Guard != nil {
		a.Guard.RecordSuccess(source)
	}
	return cred.Username, nil
}

func (a *Authenticator) recordFailure(source string) {
	if a.Guard != nil {
		a.Guard.RecordFailure(source)
	}
}

// consumeNonce validates a presented nonce and marks it used, rejecting
// replays and stale nonces outright.
func (a *Authenticator) consumeNonce(nonce string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.nonces[nonce]
	if !ok {
		return ErrNonceUnknown
	}
	if a.clock.Now().Sub(entry.issuedAt) > nonceExpiry {
		delete(a.nonces, nonce)
		return ErrNonceExpired
	}
	if entry.used {
		return ErrNonceReplayed
	}
	entry.used = true
	return nil
}

// CleanExpiredNonces sweeps nonces past their expiry window. Intended to be
// called periodically (e.g. every minute) by the owning server loop.
func (a *Authenticator) CleanExpiredNonces() {
	now := a.clock.Now()

	a.mu.Lock()
	for nonce, entry := range a.nonces {
		if now.Sub(entry.issuedAt) > nonceExpiry {
			delete(a.nonces, nonce)
		}
	}
	a.mu.Unlock()

	if a.Guard != nil {
		a.Guard.Cleanup()
	}
}

func generateNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
