package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rustalk/sbc/internal/acmeclient"
	"github.com/rustalk/sbc/internal/certstore"
	"github.com/rustalk/sbc/internal/digestauth"
	"github.com/rustalk/sbc/internal/metrics"
)

// confirmDNSRecordInteractively is the acmeclient.DNSRecordConfirm hook
// wired in when an operator launches with -acme-dns-interactive: it prints
// the TXT record to provision and blocks on stdin until the operator
// confirms it is live. dns-01 is never completed without this explicit,
// per-launch opt-in.
func confirmDNSRecordInteractively(ctx context.Context, fqdn, value string) error {
	fmt.Fprintf(os.Stderr, "\nacme dns-01 challenge: publish this TXT record, then press Enter:\n  %s  TXT  %q\n> ", fqdn, value)
	reader := bufio.NewReader(os.Stdin)
	_, err := reader.ReadString('\n')
	return err
}

// ensureCertificates obtains a certificate for any configured domain the
// store does not already hold one for. Renewal of existing certificates is
// left to startRenewalTicker.
func ensureCertificates(ctx context.Context, client *acmeclient.Client, store *certstore.Store, domains []string, logger *slog.Logger) error {
	for _, domain := range domains {
		if store.Exists(domain) {
			continue
		}
		logger.Info("obtaining initial certificate", "domain", domain)
		certPEM, keyPEM, err := client.ObtainCertificate(ctx, []string{domain})
		if err != nil {
			metrics.CertificateErrors.WithLabelValues("order").Inc()
			return err
		}
		if err := store.Save(domain, certPEM, keyPEM); err != nil {
			metrics.CertificateErrors.WithLabelValues("storage").Inc()
			return err
		}
	}
	return nil
}

// startRenewalTicker runs a background renewal scan once every 24 hours,
// requesting a fresh certificate for any domain certstore reports
// within its renewal threshold. It stops when ctx is cancelled.
func startRenewalTicker(ctx context.Context, client *acmeclient.Client, store *certstore.Store, domains []string, threshold time.Duration, logger *slog.Logger) {
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				renewDueCertificates(ctx, client, store, domains, threshold, logger)
			}
		}
	}()
}

func renewDueCertificates(ctx context.Context, client *acmeclient.Client, store *certstore.Store, domains []string, threshold time.Duration, logger *slog.Logger) {
	for _, domain := range domains {
		due, err := store.NeedsRenewal(domain, threshold)
		if err != nil {
			logger.Warn("renewal check failed", "domain", domain, "error", err)
			metrics.CertificateErrors.WithLabelValues("renewal_check").Inc()
			continue
		}
		if !due {
			continue
		}
		logger.Info("renewing certificate", "domain", domain)
		certPEM, keyPEM, err := client.ObtainCertificate(ctx, []string{domain})
		if err != nil {
			logger.Error("certificate renewal failed", "domain", domain, "error", err)
			metrics.CertificateErrors.WithLabelValues("order").Inc()
			continue
		}
		if err := store.Save(domain, certPEM, keyPEM); err != nil {
			logger.Error("saving renewed certificate failed", "domain", domain, "error", err)
			metrics.CertificateErrors.WithLabelValues("storage").Inc()
		}
	}
}

// startNonceSweepTicker periodically clears expired digest-auth nonces so
// the authenticator's nonce table does not grow without bound. It stops
// when ctx is cancelled.
func startNonceSweepTicker(ctx context.Context, auth *digestauth.Authenticator, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				auth.CleanExpiredNonces()
			}
		}
	}()
}
