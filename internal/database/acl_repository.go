package database

import (
	"context"
	"database/sql"
	"fmt"
)

// ListACLs returns every stored ACL, ordered by name.
func (db *DB) ListACLs(ctx context.Context) ([]ACLRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name, description, default_policy, enabled, created_at, updated_at
		 FROM acls ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("database: listing acls: %w", err)
	}
	defer rows.Close()

	var out []ACLRecord
	for rows.Next() {
		var a ACLRecord
		if err := rows.Scan(&a.Name, &a.Description, &a.DefaultPolicy, &a.Enabled, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("database: scanning acl row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetACL returns a single named ACL.
func (db *DB) GetACL(ctx context.Context, name string) (ACLRecord, error) {
	var a ACLRecord
	err := db.QueryRowContext(ctx,
		db.rebind(`SELECT name, description, default_policy, enabled, created_at, updated_at
		 FROM acls WHERE name = ?`), name,
	).Scan(&a.Name, &a.Description, &a.DefaultPolicy, &a.Enabled, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return ACLRecord{}, fmt.Errorf("database: acl %q: %w", name, sql.ErrNoRows)
	}
	if err != nil {
		return ACLRecord{}, fmt.Errorf("database: getting acl %q: %w", name, err)
	}
	return a, nil
}

// UpsertACL creates or replaces an ACL's metadata (not its rules).
func (db *DB) UpsertACL(ctx context.Context, acl ACLRecord) error {
	_, err := db.ExecContext(ctx, db.rebind(`
		INSERT INTO acls (name, description, default_policy, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (name) DO UPDATE SET
			description = excluded.description,
			default_policy = excluded.default_policy,
			enabled = excluded.enabled,
			updated_at = CURRENT_TIMESTAMP`),
		acl.Name, acl.Description, acl.DefaultPolicy, acl.Enabled,
	)
	if err != nil {
		return fmt.Errorf("database: upserting acl %q: %w", acl.Name, err)
	}
	return nil
}

// DeleteACL removes an ACL and, via ON DELETE CASCADE, its rules.
func (db *DB) DeleteACL(ctx context.Context, name string) error {
	if _, err := db.ExecContext(ctx, db.rebind(`DELETE FROM acls WHERE name = ?`), name); err != nil {
		return fmt.Errorf("database: deleting acl %q: %w", name, err)
	}
	return nil
}

// ListRules returns the rules belonging to aclName, in priority order.
func (db *DB) ListRules(ctx context.Context, aclName string) ([]ACLRuleRecord, error) {
	rows, err := db.QueryContext(ctx, db.rebind(
		`SELECT id, acl_name, name, cidr, action, priority
		 FROM acl_rules WHERE acl_name = ? ORDER BY priority`), aclName)
	if err != nil {
		return nil, fmt.Errorf("database: listing acl rules for %q: %w", aclName, err)
	}
	defer rows.Close()

	var out []ACLRuleRecord
	for rows.Next() {
		var r ACLRuleRecord
		if err := rows.Scan(&r.ID, &r.ACLName, &r.Name, &r.CIDR, &r.Action, &r.Priority); err != nil {
			return nil, fmt.Errorf("database: scanning acl rule row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AddRule inserts a rule under an existing ACL and returns its assigned ID.
func (db *DB) AddRule(ctx context.Context, rule ACLRuleRecord) (int64, error) {
	id, err := db.insertReturningID(ctx,
		`INSERT INTO acl_rules (acl_name, name, cidr, action, priority) VALUES (?, ?, ?, ?, ?)`,
		rule.ACLName, rule.Name, rule.CIDR, rule.Action, rule.Priority,
	)
	if err != nil {
		return 0, fmt.Errorf("database: adding acl rule to %q: %w", rule.ACLName, err)
	}
	return id, nil
}

// DeleteRule removes a single rule by ID.
func (db *DB) DeleteRule(ctx context.Context, id int64) error {
	if _, err := db.ExecContext(ctx, db.rebind(`DELETE FROM acl_rules WHERE id = ?`), id); err != nil {
		return fmt.Errorf("database: deleting acl rule %d: %w", id, err)
	}
	return nil
}
