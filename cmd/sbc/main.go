// Command sbc runs the B2BUA/SBC core: it loads configuration, opens the
// config overlay store, wires the security perimeter and routing engine,
// and serves SIP on the configured transports until signalled to stop.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rustalk/sbc/internal/acmeclient"
	"github.com/rustalk/sbc/internal/b2bua"
	"github.com/rustalk/sbc/internal/certstore"
	"github.com/rustalk/sbc/internal/config"
	"github.com/rustalk/sbc/internal/database"
	"github.com/rustalk/sbc/internal/digestauth"
	"github.com/rustalk/sbc/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	logger.Info("starting sbc",
		"bind_addr", fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.BindPort),
		"sip_domain", cfg.SIP.Domain,
		"data_dir", cfg.DataDir,
		"protocols", cfg.Transport.Protocols,
	)

	db, err := database.Open(cfg.DataDir, cfg.Database.URL)
	if err != nil {
		logger.Error("failed to open config overlay store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	aclMgr, err := loadACLManager(appCtx, db, logger)
	if err != nil {
		logger.Error("failed to load acls", "error", err)
		os.Exit(1)
	}

	router, err := loadRoutingEngine(appCtx, db, logger)
	if err != nil {
		logger.Error("failed to load routing engine", "error", err)
		os.Exit(1)
	}

	codecs, err := loadCodecCatalog(appCtx, db, logger)
	if err != nil {
		logger.Error("failed to load codec catalog", "error", err)
		os.Exit(1)
	}

	guard := digestauth.NewGuard(logger)
	authenticator := digestauth.NewAuthenticator(cfg.SIP.Domain, credentialLookup(db), guard, logger)

	b2buaCfg := b2bua.Config{
		Domain:    cfg.SIP.Domain,
		BindAddr:  fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Transport.UDPPort),
		MediaAddr: cfg.Server.BindAddress,
	}

	var certs *certstore.Store
	var acmeClient *acmeclient.Client

	if cfg.ACME.Enabled {
		certs = certstore.New(cfg.ACME.CertDir)

		directoryURL := ""
		if cfg.ACME.UseStaging {
			directoryURL = acmeclient.StagingDirectoryURL
		}

		acmeConfig := acmeclient.Config{
			DirectoryURL:   directoryURL,
			Email:          cfg.ACME.Email,
			AccountKeyPath: filepath.Join(cfg.ACME.AccountDir, "account_key.pem"),
			ChallengeType:  acmeclient.ChallengeType(cfg.ACME.ChallengeType),
		}
		if acmeConfig.ChallengeType == acmeclient.ChallengeDNS01 && cfg.ACME.DNSInteractive {
			acmeConfig.DNSRecordConfirm = confirmDNSRecordInteractively
		}

		acmeClient, err = acmeclient.New(acmeConfig, logger)
		if err != nil {
			logger.Error("failed to create acme client", "error", err)
			os.Exit(1)
		}

		if err := acmeClient.Bootstrap(appCtx); err != nil {
			logger.Error("failed to bootstrap acme account", "error", err)
			os.Exit(1)
		}

		if err := ensureCertificates(appCtx, acmeClient, certs, cfg.ACME.Domains, logger); err != nil {
			logger.Error("failed to obtain initial certificates", "error", err)
			os.Exit(1)
		}

		startRenewalTicker(appCtx, acmeClient, certs, cfg.ACME.Domains, time.Duration(cfg.ACME.AutoRenewDays)*24*time.Hour, logger)

		if tlsRequested(cfg.Transport.Protocols) && len(cfg.ACME.Domains) > 0 {
			b2buaCfg.TLSAddr = fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Transport.TLSPort)
			b2buaCfg.TLSCertFile = certs.CertPath(cfg.ACME.Domains[0])
			b2buaCfg.TLSKeyFile = certs.KeyPath(cfg.ACME.Domains[0])
		}
	} else if cfg.Transport.TLSCert != "" {
		b2buaCfg.TLSAddr = fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Transport.TLSPort)
		b2buaCfg.TLSCertFile = cfg.Transport.TLSCert
		b2buaCfg.TLSKeyFile = cfg.Transport.TLSKey
	}

	core, err := b2bua.New(b2buaCfg, codecs, logger)
	if err != nil {
		logger.Error("failed to create b2bua core", "error", err)
		os.Exit(1)
	}
	core.ACLs = aclMgr
	core.Auth = authenticator
	core.Router = router

	if err := core.Start(appCtx); err != nil {
		logger.Error("failed to start b2bua core", "error", err)
		os.Exit(1)
	}

	startNonceSweepTicker(appCtx, authenticator, time.Minute)

	var certProvider metrics.CertificateExpiryProvider
	if certs != nil {
		certProvider = certExpiryAdapter{store: certs}
	}
	metrics.Register(logger, metrics.NewCollector(core.Sessions, certProvider))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.BindPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics http server listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	var challengeSrv *http.Server
	if acmeClient != nil && cfg.ACME.ChallengeType == string(acmeclient.ChallengeHTTP01) {
		challengeSrv = &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.ACME.HTTPChallengePort),
			Handler:      acmeClient.HTTPHandler(nil),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  30 * time.Second,
		}
		go func() {
			logger.Info("acme http-01 challenge server listening", "addr", challengeSrv.Addr)
			if err := challengeSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		logger.Error("http server error", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down")
	core.Stop()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}
	if challengeSrv != nil {
		if err := challengeSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("acme challenge server shutdown error", "error", err)
		}
	}
	appCancel()
	logger.Info("shutdown complete")
}

func tlsRequested(protocols []string) bool {
	for _, p := range protocols {
		if p == "tls" {
			return true
		}
	}
	return false
}
