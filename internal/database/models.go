package database

import "time"

// ACLRecord is the persisted form of an acl.List: its name, default policy,
// and enabled flag. Its rules live separately in ACLRuleRecord, one row per
// acl.Rule.
type ACLRecord struct {
	Name          string
	Description   string
	DefaultPolicy string // "allow" | "deny"
	Enabled       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ACLRuleRecord is one CIDR rule belonging to a named ACL.
type ACLRuleRecord struct {
	ID       int64
	ACLName  string
	Name     string
	CIDR     string
	Action   string // "allow" | "deny"
	Priority int
}

// RouteRecord is the persisted form of a routing.Rule. Conditions are
// stored as a JSON blob (time-of-day/day-of-week/date-range/caller and
// destination patterns) and reconstructed by the caller, which already
// owns the regexp-compilation and condition-decoding logic.
type RouteRecord struct {
	ID                int64
	Name              string
	Description       string
	Pattern           string
	DestinationKind   string
	DestinationValue  string
	Action            string // "accept" | "reject" | "continue"
	Priority          int
	Enabled           bool
	ContinueOnMatch   bool
	ConditionsJSON    string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CodecRecord is the persisted form of a codec.Codec.
type CodecRecord struct {
	Name        string
	PayloadType int
	ClockRate   int
	Channels    int
	Fmtp        string
	Enabled     bool
	IsStandard  bool
	Priority    int
}

// CredentialRecord is one digest-auth principal this core will challenge
// and validate against: a Teams Direct Routing trunk, a peered SIP trunk,
// or any other source the operator wants to require authentication from.
// digestauth.CredentialLookup resolves against this table.
type CredentialRecord struct {
	Username    string
	Password    string
	Description string
	Enabled     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
