// Package certstore manages the on-disk PEM layout for the certificates
// this core presents on its TLS/mTLS listener (most notably the one Teams
// Direct Routing dials). It never negotiates a certificate itself; that is
// acmeclient's job. certstore only persists, introspects, and lists what it
// is handed.
package certstore

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rustalk/sbc/internal/clock"
)

// ErrNotFound is returned when no certificate is stored for a domain.
var ErrNotFound = errors.New("certstore: certificate not found")

// Info summarizes a stored certificate without exposing the raw PEM.
type Info struct {
	Domain          string
	Domains         []string // SANs, or the subject CN if the cert carries no SAN
	NotAfter        time.Time
	DaysUntilExpiry int
	Serial          string
}

// Store persists certificate/key pairs as "<domain>.pem" and
// "<domain>-key.pem" under a single directory.
type Store struct {
	dir   string
	clock clock.Clock
}

// New creates a Store rooted at dir. dir is created on first Save if it
// does not already exist.
func New(dir string) *Store {
	return &Store{dir: dir, clock: clock.System}
}

// WithClock overrides the time source used to compute DaysUntilExpiry, for
// deterministic renewal-threshold tests.
func (s *Store) WithClock(c clock.Clock) *Store {
	s.clock = c
	return s
}

// CertPath returns the path this store uses for domain's certificate chain.
func (s *Store) CertPath(domain string) string {
	return filepath.Join(s.dir, domain+".pem")
}

// KeyPath returns the path this store uses for domain's private key.
func (s *Store) KeyPath(domain string) string {
	return filepath.Join(s.dir, domain+"-key.pem")
}

// Save writes a freshly issued certificate chain and private key for
// domain, backing up whatever was there before rather than clobbering it
// silently. Both files land via write-to-temp-then-rename so a failure
// partway through (e.g. disk full writing the key) leaves the previous
// pair — or nothing, on a first save — in place rather than a mismatched
// cert/key pair.
func (s *Store) Save(domain string, certPEM, keyPEM []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("certstore: creating %s: %w", s.dir, err)
	}

	certPath := s.CertPath(domain)
	keyPath := s.KeyPath(domain)

	certTmp, err := writeTemp(s.dir, certPEM, 0o644)
	if err != nil {
		return fmt.Errorf("certstore: staging %s: %w", certPath, err)
	}
	keyTmp, err := writeTemp(s.dir, keyPEM, 0o600)
	if err != nil {
		os.Remove(certTmp)
		return fmt.Errorf("certstore: staging %s: %w", keyPath, err)
	}

	backup(certPath)
	backup(keyPath)

	if err := os.Rename(certTmp, certPath); err != nil {
		os.Remove(certTmp)
		os.Remove(keyTmp)
		return fmt.Errorf("certstore: writing %s: %w", certPath, err)
	}
	if err := os.Rename(keyTmp, keyPath); err != nil {
		os.Remove(keyTmp)
		return fmt.Errorf("certstore: writing %s: %w", keyPath, err)
	}
	return nil
}

// writeTemp writes data to a new temp file under dir and returns its path.
func writeTemp(dir string, data []byte, mode os.FileMode) (string, error) {
	f, err := os.CreateTemp(dir, "certstore-*.tmp")
	if err != nil {
		return "", err
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	if err := os.Chmod(name, mode); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

// backup renames an existing file to "<name>.backup", best-effort: a
// missing file is not an error, and a failed rename is not fatal to the
// caller's Save (it still gets a fresh certificate written).
func backup(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	os.Rename(path, path+".backup")
}

// Exists reports whether both halves of a domain's cert/key pair are
// present on disk.
func (s *Store) Exists(domain string) bool {
	_, certErr := os.Stat(s.CertPath(domain))
	_, keyErr := os.Stat(s.KeyPath(domain))
	return certErr == nil && keyErr == nil
}

// Info loads and parses the leaf certificate stored for domain.
func (s *Store) Info(domain string) (Info, error) {
	raw, err := os.ReadFile(s.CertPath(domain))
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, ErrNotFound
		}
		return Info{}, fmt.Errorf("certstore: reading %s: %w", domain, err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return Info{}, fmt.Errorf("certstore: %s: no PEM block found", domain)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return Info{}, fmt.Errorf("certstore: %s: parsing certificate: %w", domain, err)
	}

	domains := cert.DNSNames
	if len(domains) == 0 && cert.Subject.CommonName != "" {
		domains = []string{cert.Subject.CommonName}
	}

	now := s.clock.Now()
	days := int(cert.NotAfter.Sub(now).Hours() / 24)

	return Info{
		Domain:          domain,
		Domains:         domains,
		NotAfter:        cert.NotAfter,
		DaysUntilExpiry: days,
		Serial:          cert.SerialNumber.String(),
	}, nil
}

// NeedsRenewal reports whether the stored certificate for domain is within
// threshold of expiring, or does not exist at all.
func (s *Store) NeedsRenewal(domain string, threshold time.Duration) (bool, error) {
	info, err := s.Info(domain)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return info.NotAfter.Sub(s.clock.Now()) < threshold, nil
}

// List returns the domains this store currently holds a certificate for.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("certstore: reading %s: %w", s.dir, err)
	}

	var domains []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".pem") || strings.HasSuffix(name, "-key.pem") || strings.HasSuffix(name, ".backup") {
			continue
		}
		domains = append(domains, strings.TrimSuffix(name, ".pem"))
	}
	return domains, nil
}

// Delete removes both halves of domain's cert/key pair. Missing files are
// not an error.
func (s *Store) Delete(domain string) error {
	if err := os.Remove(s.CertPath(domain)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("certstore: deleting %s: %w", s.CertPath(domain), err)
	}
	if err := os.Remove(s.KeyPath(domain)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("certstore: deleting %s: %w", s.KeyPath(domain), err)
	}
	return nil
}
