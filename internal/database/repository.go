package database

import "context"

// ACLRepository persists named ACLs and their CIDR rules. The B2BUA core
// loads the full set once at startup and nothing reloads it afterwards; it never
// depends on the concrete SQLite or PostgreSQL backend, only this interface.
type ACLRepository interface {
	ListACLs(ctx context.Context) ([]ACLRecord, error)
	GetACL(ctx context.Context, name string) (ACLRecord, error)
	UpsertACL(ctx context.Context, acl ACLRecord) error
	DeleteACL(ctx context.Context, name string) error

	ListRules(ctx context.Context, aclName string) ([]ACLRuleRecord, error)
	AddRule(ctx context.Context, rule ACLRuleRecord) (int64, error)
	DeleteRule(ctx context.Context, id int64) error
}

// RouteRepository persists the priority-ordered routing rule set.
type RouteRepository interface {
	ListRoutes(ctx context.Context) ([]RouteRecord, error)
	GetRoute(ctx context.Context, id int64) (RouteRecord, error)
	CreateRoute(ctx context.Context, r RouteRecord) (int64, error)
	UpdateRoute(ctx context.Context, r RouteRecord) error
	DeleteRoute(ctx context.Context, id int64) error
}

// CodecRepository persists the operator-editable codec catalog additions
// and per-codec enabled/priority overrides; the catalog's built-in standard
// codec table (internal/codec.standardCodecs) is never stored here.
type CodecRepository interface {
	ListCodecs(ctx context.Context) ([]CodecRecord, error)
	UpsertCodec(ctx context.Context, c CodecRecord) error
	DeleteCodec(ctx context.Context, name string) error
}

// CredentialRepository persists the digest-auth principals this core
// challenges inbound peers against.
type CredentialRepository interface {
	ListCredentials(ctx context.Context) ([]CredentialRecord, error)
	GetCredential(ctx context.Context, username string) (CredentialRecord, error)
	UpsertCredential(ctx context.Context, c CredentialRecord) error
	DeleteCredential(ctx context.Context, username string) error
}

// Repositories bundles the stores a *DB satisfies, so callers can accept
// one value instead of four interfaces.
type Repositories interface {
	ACLRepository
	RouteRepository
	CodecRepository
	CredentialRepository
}
