package main

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/rustalk/sbc/internal/acl"
	"github.com/rustalk/sbc/internal/certstore"
	"github.com/rustalk/sbc/internal/codec"
	"github.com/rustalk/sbc/internal/database"
	"github.com/rustalk/sbc/internal/metrics"
	"github.com/rustalk/sbc/internal/routing"
)

// loadACLManager seeds the built-in rfc1918/localhost ACLs, then layers in
// whatever named ACLs (most importantly "perimeter", the one sourceAllowed
// consults for every inbound request) the config overlay store holds.
func loadACLManager(ctx context.Context, db *database.DB, logger *slog.Logger) (*acl.Manager, error) {
	mgr := acl.NewManager()
	for _, l := range acl.DefaultACLs() {
		mgr.Add(l)
	}

	records, err := db.ListACLs(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading acls: %w", err)
	}

	for _, rec := range records {
		policy := acl.Deny
		if rec.DefaultPolicy == "allow" {
			policy = acl.Allow
		}
		list := acl.New(rec.Name, policy)
		list.Description = rec.Description
		list.Enabled = rec.Enabled

		rules, err := db.ListRules(ctx, rec.Name)
		if err != nil {
			return nil, fmt.Errorf("loading rules for acl %q: %w", rec.Name, err)
		}
		for _, r := range rules {
			prefix, err := acl.ParsePrefix(r.CIDR)
			if err != nil {
				logger.Warn("skipping acl rule with invalid cidr", "acl", rec.Name, "rule", r.Name, "cidr", r.CIDR, "error", err)
				continue
			}
			action := acl.Deny
			if r.Action == "allow" {
				action = acl.Allow
			}
			list.AddRule(acl.Rule{Name: r.Name, CIDR: prefix, Action: action, Priority: r.Priority})
		}
		mgr.Add(list)
	}

	logger.Info("acl manager loaded", "stored_acls", len(records))
	return mgr, nil
}

// loadRoutingEngine builds the priority-ordered route set from the config
// overlay store, compiling each rule's destination pattern and decoding its
// condition set.
func loadRoutingEngine(ctx context.Context, db *database.DB, logger *slog.Logger) (*routing.Engine, error) {
	engine := routing.NewEngine()

	records, err := db.ListRoutes(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading routes: %w", err)
	}

	for _, rec := range records {
		pattern, err := regexp.Compile(rec.Pattern)
		if err != nil {
			logger.Warn("skipping route with invalid pattern", "route", rec.Name, "pattern", rec.Pattern, "error", err)
			continue
		}
		conds, err := routing.UnmarshalConditions(rec.ConditionsJSON)
		if err != nil {
			logger.Warn("skipping route with invalid conditions", "route", rec.Name, "error", err)
			continue
		}

		engine.AddRule(routing.Rule{
			ID:              fmt.Sprintf("%d", rec.ID),
			Name:            rec.Name,
			Description:     rec.Description,
			Pattern:         pattern,
			Destination:     routing.Destination{Kind: routing.DestinationKind(rec.DestinationKind), Value: rec.DestinationValue},
			Action:          routing.Action(rec.Action),
			Priority:        rec.Priority,
			Enabled:         rec.Enabled,
			ContinueOnMatch: rec.ContinueOnMatch,
			Conditions:      conds,
		})
	}

	logger.Info("routing engine loaded", "rule_count", len(records))
	return engine, nil
}

// loadCodecCatalog starts from the standard codec table and applies the
// config overlay store's records: a record whose name is already in the
// catalog only toggles that codec's Enabled flag (its stored priority and
// other fields are not applied), and any other record is added as a custom
// codec.
func loadCodecCatalog(ctx context.Context, db *database.DB, logger *slog.Logger) (*codec.Catalog, error) {
	catalog := codec.NewCatalog()

	records, err := db.ListCodecs(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading codecs: %w", err)
	}

	for _, rec := range records {
		if existing, ok := catalog.ByName(rec.Name); ok {
			catalog.SetEnabled(existing.PayloadType, rec.Enabled)
			continue
		}
		custom := codec.Codec{
			Name: rec.Name, PayloadType: rec.PayloadType, ClockRate: rec.ClockRate,
			Channels: rec.Channels, Fmtp: rec.Fmtp, Enabled: rec.Enabled, Priority: rec.Priority,
		}
		if err := catalog.Add(custom); err != nil {
			logger.Warn("skipping stored codec", "codec", rec.Name, "error", err)
		}
	}

	logger.Info("codec catalog loaded", "stored_overrides", len(records))
	return catalog, nil
}

// certExpiryAdapter bridges certstore.Store to metrics.CertificateExpiryProvider.
type certExpiryAdapter struct {
	store *certstore.Store
}

func (a certExpiryAdapter) CertificateExpiries() []metrics.CertificateExpiryEntry {
	domains, err := a.store.List()
	if err != nil {
		return nil
	}
	out := make([]metrics.CertificateExpiryEntry, 0, len(domains))
	for _, domain := range domains {
		info, err := a.store.Info(domain)
		if err != nil {
			continue
		}
		out = append(out, metrics.CertificateExpiryEntry{Domain: domain, DaysUntilExpiry: info.DaysUntilExpiry})
	}
	return out
}

// credentialLookup builds a digestauth.CredentialLookup closure backed by
// the credentials table, consulted once per Validate call.
func credentialLookup(db *database.DB) func(username string) (string, bool) {
	return func(username string) (string, bool) {
		cred, err := db.GetCredential(context.Background(), username)
		if err != nil || !cred.Enabled {
			return "", false
		}
		return cred.Password, true
	}
}
