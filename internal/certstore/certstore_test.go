package certstore

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/rustalk/sbc/internal/clock"
)

// selfSigned builds a minimal self-signed cert/key pair PEM-encoded for
// domain, expiring in ttl.
func selfSigned(t *testing.T, domain string, ttl time.Duration) (certPEM, keyPEM []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: domain},
		DNSNames:     []string{domain},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(ttl),
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshaling key: %v", err)
	}
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}

func TestSaveAndInfoRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	certPEM, keyPEM := selfSigned(t, "sbc.example.com", 90*24*time.Hour)
	if err := store.Save("sbc.example.com", certPEM, keyPEM); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if !store.Exists("sbc.example.com") {
		t.Fatal("expected certificate to exist after Save")
	}

	info, err := store.Info("sbc.example.com")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Domains[0] != "sbc.example.com" {
		t.Fatalf("got domains %v, want [sbc.example.com]", info.Domains)
	}
	if info.DaysUntilExpiry < 80 {
		t.Fatalf("got DaysUntilExpiry=%d, want ~90", info.DaysUntilExpiry)
	}
}

func TestSaveBacksUpExistingFiles(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	cert1, key1 := selfSigned(t, "sbc.example.com", 90*24*time.Hour)
	if err := store.Save("sbc.example.com", cert1, key1); err != nil {
		t.Fatalf("first Save: %v", err)
	}

	cert2, key2 := selfSigned(t, "sbc.example.com", 90*24*time.Hour)
	if err := store.Save("sbc.example.com", cert2, key2); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	if _, err := os.Stat(store.CertPath("sbc.example.com") + ".backup"); err != nil {
		t.Fatalf("expected backup of previous certificate, stat error: %v", err)
	}
}

func TestInfoMissingCertificateReturnsErrNotFound(t *testing.T) {
	store := New(t.TempDir())
	if _, err := store.Info("missing.example.com"); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestNeedsRenewalWhenMissing(t *testing.T) {
	store := New(t.TempDir())
	needs, err := store.NeedsRenewal("missing.example.com", 30*24*time.Hour)
	if err != nil {
		t.Fatalf("NeedsRenewal: %v", err)
	}
	if !needs {
		t.Fatal("expected a missing certificate to need renewal")
	}
}

func TestNeedsRenewalNearExpiry(t *testing.T) {
	dir := t.TempDir()
	store := New(dir).WithClock(clock.Fixed(time.Now()))

	certPEM, keyPEM := selfSigned(t, "sbc.example.com", 10*24*time.Hour)
	if err := store.Save("sbc.example.com", certPEM, keyPEM); err != nil {
		t.Fatalf("Save: %v", err)
	}

	needs, err := store.NeedsRenewal("sbc.example.com", 30*24*time.Hour)
	if err != nil {
		t.Fatalf("NeedsRenewal: %v", err)
	}
	if !needs {
		t.Fatal("expected a certificate expiring in 10 days to need renewal at a 30-day threshold")
	}
}

func TestListAndDelete(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	certPEM, keyPEM := selfSigned(t, "sbc.example.com", 90*24*time.Hour)
	if err := store.Save("sbc.example.com", certPEM, keyPEM); err != nil {
		t.Fatalf("Save: %v", err)
	}

	domains, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(domains) != 1 || domains[0] != "sbc.example.com" {
		t.Fatalf("got %v, want [sbc.example.com]", domains)
	}

	if err := store.Delete("sbc.example.com"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if store.Exists("sbc.example.com") {
		t.Fatal("expected certificate to be gone after Delete")
	}
}
