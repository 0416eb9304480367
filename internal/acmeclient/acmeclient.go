// Package acmeclient drives the RFC 8555 ACME protocol directly against
// golang.org/x/crypto/acme's low-level Client, rather than relying on
// autocert's opaque automatic manager: this core needs explicit control
// over authorization/challenge selection and an on-disk cert layout that
// certstore (not autocert's cache) owns.
package acmeclient

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/acme"
)

// StagingDirectoryURL is Let's Encrypt's staging environment, used while
// testing a deployment's ACME wiring without burning production rate
// limits. acme.LetsEncryptURL (the production directory) is the default.
const StagingDirectoryURL = "https://acme-staging-v02.api.letsencrypt.org/directory"

// ChallengeType selects which ACME challenge this client completes.
type ChallengeType string

const (
	ChallengeHTTP01 ChallengeType = "http-01"
	ChallengeDNS01  ChallengeType = "dns-01"
)

// ErrDNSConfirmationRequired is returned when a dns-01 challenge is
// requested but the caller supplied no DNSRecordConfirm hook. DNS-01 is
// never completed silently: an operator must provision the TXT record and
// confirm it.
var ErrDNSConfirmationRequired = errors.New("acmeclient: dns-01 challenge requires an operator confirmation hook")

// ErrAuthorizationInvalid is returned when the ACME server marks an
// authorization or order invalid rather than timing out, distinguishing a
// rejected challenge (not worth blind retrying) from a transient timeout.
var ErrAuthorizationInvalid = errors.New("acmeclient: authorization rejected by acme server")

// DNSRecordConfirm is called with the TXT record name and value the
// operator must publish for a dns-01 challenge, and should block until the
// operator confirms the record is live (or return an error to abort).
type DNSRecordConfirm func(ctx context.Context, fqdn, value string) error

// Config bundles everything a Client needs to obtain and renew
// certificates for one set of domains.
type Config struct {
	DirectoryURL      string // "" defaults to acme.LetsEncryptURL
	Email             string
	AccountKeyPath    string // PEM EC private key; created on first use if absent
	ChallengeType     ChallengeType
	DNSRecordConfirm  DNSRecordConfirm // required when ChallengeType is dns-01
	AuthorizationPoll time.Duration    // poll interval while waiting on authorizations/orders, default 2s
	AuthorizationWait time.Duration    // overall bound per authorization/order, default 60s
}

// Client obtains and renews certificates for a set of domains via ACME.
type Client struct {
	cfg    Config
	acme   *acme.Client
	logger *slog.Logger

	mu         sync.Mutex
	keyAuths   map[string]string // http-01 token -> key authorization, for HTTPHandler
}

// New loads (or creates) the ACME account key at cfg.AccountKeyPath and
// constructs a Client. It does not contact the ACME server; call Bootstrap
// before the first ObtainCertificate.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.AuthorizationPoll == 0 {
		cfg.AuthorizationPoll = 2 * time.Second
	}
	if cfg.AuthorizationWait == 0 {
		cfg.AuthorizationWait = 60 * time.Second
	}

	key, err := loadOrCreateAccountKey(cfg.AccountKeyPath)
	if err != nil {
		return nil, fmt.Errorf("acmeclient: loading account key: %w", err)
	}

	directoryURL := cfg.DirectoryURL
	if directoryURL == "" {
		directoryURL = acme.LetsEncryptURL
	}

	return &Client{
		cfg: cfg,
		acme: &acme.Client{
			Key:          key,
			DirectoryURL: directoryURL,
		},
		logger:   logger.With("component", "acmeclient"),
		keyAuths: make(map[string]string),
	}, nil
}

// Bootstrap registers the ACME account if it does not already exist.
// Calling it against an already-registered key is a no-op: the ACME server
// returns the existing account for the same key.
func (c *Client) Bootstrap(ctx context.Context) error {
	account := &acme.Account{Contact: []string{"mailto:" + c.cfg.Email}}
	if _, err := c.acme.Register(ctx, account, acme.AcceptTOS); err != nil {
		var acmeErr *acme.Error
		if errors.Is(err, acme.ErrAccountAlreadyExists) || (errors.As(err, &acmeErr) && acmeErr.StatusCode == http.StatusConflict) {
			c.logger.Info("acme account already registered")
			return nil
		}
		return fmt.Errorf("acmeclient: registering account: %w", err)
	}
	c.logger.Info("acme account registered", "email", c.cfg.Email)
	return nil
}

// ObtainCertificate runs the full authorize/challenge/finalize flow for
// domains and returns a PEM-encoded certificate chain and private key. The
// first entry in domains becomes the certificate's primary (leaf) identity.
func (c *Client) ObtainCertificate(ctx context.Context, domains []string) (certPEM, keyPEM []byte, err error) {
	if len(domains) == 0 {
		return nil, nil, fmt.Errorf("acmeclient: no domains given")
	}

	order, err := c.acme.AuthorizeOrder(ctx, acme.DomainIDs(domains...))
	if err != nil {
		return nil, nil, fmt.Errorf("acmeclient: creating order: %w", err)
	}
	c.logger.Info("acme order created", "domains", domains, "status", order.Status)

	for _, zurl := range order.AuthzURLs {
		if err := c.completeAuthorization(ctx, zurl); err != nil {
			return nil, nil, err
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.AuthorizationWait)
	order, err = c.acme.WaitOrder(waitCtx, order.URI)
	cancel()
	if err != nil {
		var orderErr *acme.OrderError
		if errors.As(err, &orderErr) {
			return nil, nil, fmt.Errorf("%w: order for %v: %v", ErrAuthorizationInvalid, domains, err)
		}
		return nil, nil, fmt.Errorf("acmeclient: waiting for order to become ready: %w", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("acmeclient: generating certificate key: %w", err)
	}
	csr, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: domains[0]},
		DNSNames: domains,
	}, key)
	if err != nil {
		return nil, nil, fmt.Errorf("acmeclient: creating csr: %w", err)
	}

	finalizeCtx, cancel := context.WithTimeout(ctx, c.cfg.AuthorizationWait)
	der, _, err := c.acme.CreateOrderCert(finalizeCtx, order.FinalizeURL, csr, true)
	cancel()
	if err != nil {
		return nil, nil, fmt.Errorf("acmeclient: finalizing order: %w", err)
	}

	var chain []byte
	for _, block := range der {
		chain = append(chain, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: block})...)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("acmeclient: marshaling certificate key: %w", err)
	}
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	c.logger.Info("certificate issued", "domains", domains)
	return chain, keyPEM, nil
}

// completeAuthorization selects, satisfies, and waits out a single
// authorization's challenge.
func (c *Client) completeAuthorization(ctx context.Context, authzURL string) error {
	authz, err := c.acme.GetAuthorization(ctx, authzURL)
	if err != nil {
		return fmt.Errorf("acmeclient: fetching authorization: %w", err)
	}
	if authz.Status == acme.StatusValid {
		return nil
	}

	domain := authz.Identifier.Value
	chal := pickChallenge(authz.Challenges, c.cfg.ChallengeType)
	if chal == nil {
		return fmt.Errorf("acmeclient: no %s challenge offered for %s", c.cfg.ChallengeType, domain)
	}

	keyAuth, err := c.acme.HTTP01ChallengeResponse(chal.Token)
	if err != nil && c.cfg.ChallengeType == ChallengeHTTP01 {
		return fmt.Errorf("acmeclient: computing key authorization: %w", err)
	}

	switch c.cfg.ChallengeType {
	case ChallengeHTTP01:
		c.mu.Lock()
		c.keyAuths[chal.Token] = keyAuth
		c.mu.Unlock()
		defer func() {
			c.mu.Lock()
			delete(c.keyAuths, chal.Token)
			c.mu.Unlock()
		}()
	case ChallengeDNS01:
		if c.cfg.DNSRecordConfirm == nil {
			return ErrDNSConfirmationRequired
		}
		record, err := c.acme.DNS01ChallengeRecord(chal.Token)
		if err != nil {
			return fmt.Errorf("acmeclient: computing dns-01 record: %w", err)
		}
		fqdn := "_acme-challenge." + domain
		if err := c.cfg.DNSRecordConfirm(ctx, fqdn, record); err != nil {
			return fmt.Errorf("acmeclient: dns-01 record not confirmed: %w", err)
		}
	default:
		return fmt.Errorf("acmeclient: unsupported challenge type %q", c.cfg.ChallengeType)
	}

	if _, err := c.acme.Accept(ctx, chal); err != nil {
		return fmt.Errorf("acmeclient: accepting challenge: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.AuthorizationWait)
	defer cancel()
	if _, err := c.acme.WaitAuthorization(waitCtx, authzURL); err != nil {
		var authzErr *acme.AuthorizationError
		if errors.As(err, &authzErr) {
			return fmt.Errorf("%w: %s: %v", ErrAuthorizationInvalid, domain, err)
		}
		return fmt.Errorf("acmeclient: authorization for %s did not become valid: %w", domain, err)
	}
	c.logger.Info("authorization valid", "domain", domain, "challenge", c.cfg.ChallengeType)
	return nil
}

func pickChallenge(challenges []*acme.Challenge, want ChallengeType) *acme.Challenge {
	for _, chal := range challenges {
		if chal.Type == string(want) {
			return chal
		}
	}
	return nil
}

// HTTPHandler returns an http.Handler that answers http-01 challenge
// requests at /.well-known/acme-challenge/<token> for tokens currently in
// flight, and otherwise delegates to fallback (which may be nil).
func (c *Client) HTTPHandler(fallback http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.URL.Path, "/.well-known/acme-challenge/")
		if token != r.URL.Path {
			c.mu.Lock()
			keyAuth, ok := c.keyAuths[token]
			c.mu.Unlock()
			if ok {
				w.Header().Set("Content-Type", "text/plain")
				w.Write([]byte(keyAuth))
				return
			}
		}
		if fallback != nil {
			fallback.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	})
}

func loadOrCreateAccountKey(path string) (*ecdsa.PrivateKey, error) {
	if raw, err := os.ReadFile(path); err == nil {
		block, _ := pem.Decode(raw)
		if block == nil {
			return nil, fmt.Errorf("no PEM block in %s", path)
		}
		return x509.ParseECPrivateKey(block.Bytes)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating account key: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshaling account key: %w", err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), 0o600); err != nil {
		return nil, fmt.Errorf("writing %s: %w", path, err)
	}
	return key, nil
}
