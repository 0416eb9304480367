// Package config loads this core's configuration from a JSON document and
// overlays a small set of operator-facing CLI flags and environment
// variables on top of it, in the teacher's flag-takes-precedence-over-env
// pattern. The JSON document is the source of truth for domain
// configuration (SIP, transport, database, Teams, ACME); only the handful
// of process-level knobs an operator needs at launch time are overridable
// without editing the file.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Server holds the process's own listen configuration.
type Server struct {
	BindAddress string `json:"bind_address"`
	BindPort    int    `json:"bind_port"`
	Workers     int    `json:"workers"`
}

// SIP holds the identity and protocol-level defaults the B2BUA core
// presents on both legs of every call.
type SIP struct {
	Domain         string `json:"domain"`
	UserAgent      string `json:"user_agent"`
	MaxForwards    int    `json:"max_forwards"`
	SessionExpires int    `json:"session_expires"`
}

// Transport holds the SIP transport settings. The UDP and TCP listeners
// always start, both on UDPPort; TCPPort is not read. Protocols is only
// consulted to decide whether an ACME-issued certificate is served on
// TLSPort; with ACME disabled, a non-empty TLSCert alone enables TLS.
type Transport struct {
	Protocols []string `json:"protocols"` // subset of "udp", "tcp", "tls"
	UDPPort   int      `json:"udp_port"`
	TCPPort   int      `json:"tcp_port"`
	TLSPort   int      `json:"tls_port"`
	TLSCert   string   `json:"tls_cert"`
	TLSKey    string   `json:"tls_key"`
}

// Database selects the A3 config overlay store backend. An empty URL opens
// the default embedded SQLite database; a "postgres://" URL opens a
// PostgreSQL connection pool instead. PoolMin and PoolMax are not read:
// database.Open sizes the PostgreSQL pool with fixed values.
type Database struct {
	URL     string `json:"url"`
	PoolMin int    `json:"pool_min"`
	PoolMax int    `json:"pool_max"`
}

// Teams holds the Microsoft Teams Direct Routing trunk configuration: the
// mTLS identity this core presents to Teams, and the FQDNs both sides
// expect in the SIP domain / Contact and X.509 CN/SAN.
type Teams struct {
	Enabled   bool   `json:"enabled"`
	SBCFQDN   string `json:"sbc_fqdn"`
	MTLSCert  string `json:"mtls_cert"`
	MTLSKey   string `json:"mtls_key"`
	TrunkFQDN string `json:"trunk_fqdn"`
}

// ACME holds the Let's Encrypt automation configuration for the
// certificate this core presents on its TLS/mTLS listener.
type ACME struct {
	Enabled           bool     `json:"enabled"`
	Email             string   `json:"email"`
	Domains           []string `json:"domains"`
	CertDir           string   `json:"cert_dir"`
	AccountDir        string   `json:"account_dir"`
	UseStaging        bool     `json:"use_staging"`
	HTTPChallengePort int      `json:"http_challenge_port"`
	ChallengeType     string   `json:"challenge_type"` // "http-01" | "dns-01"
	AutoRenewDays     int      `json:"auto_renew_days"`

	// DNSInteractive is set only via the -acme-dns-interactive flag, never
	// the JSON document: dns-01 automation is never unattended, so this is
	// an operator's explicit, per-launch opt-in rather than a persisted
	// setting.
	DNSInteractive bool `json:"-"`
}

// Config is the full configuration document this core loads at startup.
type Config struct {
	Server    Server    `json:"server"`
	SIP       SIP       `json:"sip"`
	Transport Transport `json:"transport"`
	Database  Database  `json:"database"`
	Teams     Teams     `json:"teams"`
	ACME      ACME      `json:"acme"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	DataDir string `json:"data_dir"`
}

const (
	defaultBindAddress    = "0.0.0.0"
	defaultBindPort       = 8080
	defaultWorkers        = 4
	defaultUserAgent      = "rustalk-sbc"
	defaultMaxForwards    = 70
	defaultSessionExpires = 1800
	defaultUDPPort        = 5060
	defaultTCPPort        = 5060
	defaultTLSPort        = 5061
	defaultPoolMin        = 2
	defaultPoolMax        = 10
	defaultHTTPChallenge  = 80
	defaultChallengeType  = "http-01"
	defaultAutoRenewDays  = 30
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	defaultDataDir        = "./data"
)

// envPrefix is the prefix for this core's environment variables.
const envPrefix = "SBC_"

func defaults() *Config {
	return &Config{
		Server:    Server{BindAddress: defaultBindAddress, BindPort: defaultBindPort, Workers: defaultWorkers},
		SIP:       SIP{UserAgent: defaultUserAgent, MaxForwards: defaultMaxForwards, SessionExpires: defaultSessionExpires},
		Transport: Transport{Protocols: []string{"udp", "tcp"}, UDPPort: defaultUDPPort, TCPPort: defaultTCPPort, TLSPort: defaultTLSPort},
		Database:  Database{PoolMin: defaultPoolMin, PoolMax: defaultPoolMax},
		ACME:      ACME{ChallengeType: defaultChallengeType, HTTPChallengePort: defaultHTTPChallenge, AutoRenewDays: defaultAutoRenewDays},
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
		DataDir:   defaultDataDir,
	}
}

// Load reads the JSON configuration document named by the -config flag or
// the SBC_CONFIG environment variable (flag wins if both are set), then
// overlays the small set of operator flags/env vars this core exposes at
// launch: server.bind_port, sip.domain, log_level, log_format. CLI flags
// take precedence over env vars, matching the teacher's own overlay order.
func Load() (*Config, error) {
	var configPath string
	var bindPort int
	var sipDomain string
	var logLevel string
	var logFormat string
	var dnsInteractive bool

	fs := flag.NewFlagSet("sbc", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", os.Getenv("SBC_CONFIG"), "path to the JSON configuration document")
	fs.IntVar(&bindPort, "bind-port", 0, "override server.bind_port")
	fs.StringVar(&sipDomain, "sip-domain", "", "override sip.domain")
	fs.StringVar(&logLevel, "log-level", "", "override log_level (debug, info, warn, error)")
	fs.StringVar(&logFormat, "log-format", "", "override log_format (text, json)")
	fs.BoolVar(&dnsInteractive, "acme-dns-interactive", false, "allow dns-01 challenges, confirmed interactively by the operator")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("config: parsing flags: %w", err)
	}

	cfg := defaults()
	if configPath != "" {
		if err := cfg.loadFile(configPath); err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", configPath, err)
		}
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	applyOverlay(cfg, set, bindPort, sipDomain, logLevel, logFormat)
	cfg.ACME.DNSInteractive = dnsInteractive

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyOverlay layers CLI-flag and then env-var values for the four
// overridable knobs on top of whatever the JSON document (or the compiled
// defaults, absent a document) already set. Flags that were not passed on
// the command line fall through to their env var, and a knob left unset
// both ways keeps the JSON/default value untouched.
func applyOverlay(cfg *Config, flagsSet map[string]bool, bindPort int, sipDomain, logLevel, logFormat string) {
	if flagsSet["bind-port"] {
		cfg.Server.BindPort = bindPort
	} else if v, ok := os.LookupEnv(envPrefix + "BIND_PORT"); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.BindPort = n
		}
	}

	if flagsSet["sip-domain"] {
		cfg.SIP.Domain = sipDomain
	} else if v, ok := os.LookupEnv(envPrefix + "SIP_DOMAIN"); ok && v != "" {
		cfg.SIP.Domain = v
	}

	if flagsSet["log-level"] {
		cfg.LogLevel = logLevel
	} else if v, ok := os.LookupEnv(envPrefix + "LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}

	if flagsSet["log-format"] {
		cfg.LogFormat = logFormat
	} else if v, ok := os.LookupEnv(envPrefix + "LOG_FORMAT"); ok && v != "" {
		cfg.LogFormat = v
	}
}

// validate checks that the loaded configuration is internally consistent.
func (c *Config) validate() error {
	if c.Server.BindPort < 1 || c.Server.BindPort > 65535 {
		return fmt.Errorf("server.bind_port must be between 1 and 65535, got %d", c.Server.BindPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	c.LogLevel = strings.ToLower(c.LogLevel)
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	c.LogFormat = strings.ToLower(c.LogFormat)
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("log_format must be one of text, json; got %q", c.LogFormat)
	}

	for _, p := range c.Transport.Protocols {
		switch p {
		case "udp", "tcp", "tls":
		default:
			return fmt.Errorf("transport.protocols: unknown protocol %q", p)
		}
	}

	if tlsRequested(c.Transport.Protocols) && (c.Transport.TLSCert == "") != (c.Transport.TLSKey == "") {
		return fmt.Errorf("transport.tls_cert and transport.tls_key must both be set or both be omitted")
	}

	if c.ACME.Enabled {
		if c.ACME.Email == "" {
			return fmt.Errorf("acme.email is required when acme.enabled is true")
		}
		if len(c.ACME.Domains) == 0 {
			return fmt.Errorf("acme.domains must list at least one domain when acme.enabled is true")
		}
		switch c.ACME.ChallengeType {
		case "http-01", "dns-01":
		default:
			return fmt.Errorf("acme.challenge_type must be http-01 or dns-01, got %q", c.ACME.ChallengeType)
		}
	}

	if c.Teams.Enabled {
		if c.Teams.SBCFQDN == "" || c.Teams.TrunkFQDN == "" {
			return fmt.Errorf("teams.sbc_fqdn and teams.trunk_fqdn are required when teams.enabled is true")
		}
	}

	return nil
}

func tlsRequested(protocols []string) bool {
	for _, p := range protocols {
		if p == "tls" {
			return true
		}
	}
	return false
}

// SlogHandler returns a slog.Handler configured with the document's log
// format and level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
