package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenAndMigrate(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir, "")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	dbPath := filepath.Join(dir, "sbc.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file was not created")
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("querying journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}

	tables := []string{"schema_migrations", "acls", "acl_rules", "routes", "codecs", "credentials"}
	for _, table := range tables {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Errorf("checking table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s not found", table)
		}
	}

	var migrationCount int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&migrationCount); err != nil {
		t.Fatalf("counting migrations: %v", err)
	}
	if migrationCount != 2 {
		t.Errorf("migration count = %d, want 2", migrationCount)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	db1, err := Open(dir, "")
	if err != nil {
		t.Fatalf("first Open() error: %v", err)
	}
	db1.Close()

	db2, err := Open(dir, "")
	if err != nil {
		t.Fatalf("second Open() error: %v", err)
	}
	db2.Close()
}

func TestACLRepositoryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	if err := db.UpsertACL(ctx, ACLRecord{Name: "perimeter", DefaultPolicy: "deny", Enabled: true}); err != nil {
		t.Fatalf("UpsertACL() error: %v", err)
	}

	id, err := db.AddRule(ctx, ACLRuleRecord{ACLName: "perimeter", Name: "allow-office", CIDR: "203.0.113.0/24", Action: "allow", Priority: 10})
	if err != nil {
		t.Fatalf("AddRule() error: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a non-zero rule id")
	}

	got, err := db.GetACL(ctx, "perimeter")
	if err != nil {
		t.Fatalf("GetACL() error: %v", err)
	}
	if got.DefaultPolicy != "deny" || !got.Enabled {
		t.Errorf("GetACL() = %+v, want default_policy=deny enabled=true", got)
	}

	rules, err := db.ListRules(ctx, "perimeter")
	if err != nil {
		t.Fatalf("ListRules() error: %v", err)
	}
	if len(rules) != 1 || rules[0].CIDR != "203.0.113.0/24" {
		t.Fatalf("ListRules() = %+v, want one allow-office rule", rules)
	}

	if err := db.DeleteRule(ctx, id); err != nil {
		t.Fatalf("DeleteRule() error: %v", err)
	}
	rules, err = db.ListRules(ctx, "perimeter")
	if err != nil {
		t.Fatalf("ListRules() after delete error: %v", err)
	}
	if len(rules) != 0 {
		t.Fatalf("ListRules() after delete = %+v, want none", rules)
	}

	if err := db.DeleteACL(ctx, "perimeter"); err != nil {
		t.Fatalf("DeleteACL() error: %v", err)
	}
	if _, err := db.GetACL(ctx, "perimeter"); err == nil {
		t.Fatal("expected GetACL() on a deleted acl to error")
	}
}

func TestRouteRepositoryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	id, err := db.CreateRoute(ctx, RouteRecord{
		Name: "teams-inbound", Pattern: `^\+1\d{10}$`, DestinationKind: "trunk",
		DestinationValue: "teams-trunk", Action: "accept", Priority: 10, Enabled: true,
		ConditionsJSON: "[]",
	})
	if err != nil {
		t.Fatalf("CreateRoute() error: %v", err)
	}

	got, err := db.GetRoute(ctx, id)
	if err != nil {
		t.Fatalf("GetRoute() error: %v", err)
	}
	if got.Name != "teams-inbound" || got.Action != "accept" {
		t.Errorf("GetRoute() = %+v, want teams-inbound/accept", got)
	}

	got.Priority = 20
	if err := db.UpdateRoute(ctx, got); err != nil {
		t.Fatalf("UpdateRoute() error: %v", err)
	}
	got, err = db.GetRoute(ctx, id)
	if err != nil {
		t.Fatalf("GetRoute() after update error: %v", err)
	}
	if got.Priority != 20 {
		t.Errorf("Priority after update = %d, want 20", got.Priority)
	}

	routes, err := db.ListRoutes(ctx)
	if err != nil {
		t.Fatalf("ListRoutes() error: %v", err)
	}
	if len(routes) != 1 {
		t.Fatalf("ListRoutes() = %+v, want one route", routes)
	}

	if err := db.DeleteRoute(ctx, id); err != nil {
		t.Fatalf("DeleteRoute() error: %v", err)
	}
	routes, err = db.ListRoutes(ctx)
	if err != nil {
		t.Fatalf("ListRoutes() after delete error: %v", err)
	}
	if len(routes) != 0 {
		t.Fatalf("ListRoutes() after delete = %+v, want none", routes)
	}
}

func TestCodecRepositoryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	custom := CodecRecord{Name: "opus-narrow", PayloadType: 110, ClockRate: 16000, Channels: 1, Enabled: true, Priority: 1}
	if err := db.UpsertCodec(ctx, custom); err != nil {
		t.Fatalf("UpsertCodec() error: %v", err)
	}

	custom.Enabled = false
	if err := db.UpsertCodec(ctx, custom); err != nil {
		t.Fatalf("UpsertCodec() update error: %v", err)
	}

	codecs, err := db.ListCodecs(ctx)
	if err != nil {
		t.Fatalf("ListCodecs() error: %v", err)
	}
	if len(codecs) != 1 || codecs[0].Enabled {
		t.Fatalf("ListCodecs() = %+v, want one disabled opus-narrow entry", codecs)
	}

	if err := db.DeleteCodec(ctx, "opus-narrow"); err != nil {
		t.Fatalf("DeleteCodec() error: %v", err)
	}
	codecs, err = db.ListCodecs(ctx)
	if err != nil {
		t.Fatalf("ListCodecs() after delete error: %v", err)
	}
	if len(codecs) != 0 {
		t.Fatalf("ListCodecs() after delete = %+v, want none", codecs)
	}
}

func TestCredentialRepositoryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	cred := CredentialRecord{Username: "teams-trunk", Password: "s3cret", Description: "Teams Direct Routing", Enabled: true}
	if err := db.UpsertCredential(ctx, cred); err != nil {
		t.Fatalf("UpsertCredential() error: %v", err)
	}

	cred.Password = "rotated"
	if err := db.UpsertCredential(ctx, cred); err != nil {
		t.Fatalf("UpsertCredential() update error: %v", err)
	}

	creds, err := db.ListCredentials(ctx)
	if err != nil {
		t.Fatalf("ListCredentials() error: %v", err)
	}
	if len(creds) != 1 || creds[0].Password != "rotated" {
		t.Fatalf("ListCredentials() = %+v, want one rotated teams-trunk entry", creds)
	}

	got, err := db.GetCredential(ctx, "teams-trunk")
	if err != nil {
		t.Fatalf("GetCredential() error: %v", err)
	}
	if got.Password != "rotated" {
		t.Errorf("GetCredential() password = %q, want rotated", got.Password)
	}

	if err := db.DeleteCredential(ctx, "teams-trunk"); err != nil {
		t.Fatalf("DeleteCredential() error: %v", err)
	}
	creds, err = db.ListCredentials(ctx)
	if err != nil {
		t.Fatalf("ListCredentials() after delete error: %v", err)
	}
	if len(creds) != 0 {
		t.Fatalf("ListCredentials() after delete = %+v, want none", creds)
	}
	if _, err := db.GetCredential(ctx, "teams-trunk"); err == nil {
		t.Fatal("expected GetCredential() on a deleted credential to error")
	}
}
