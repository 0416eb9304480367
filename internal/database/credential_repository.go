package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ListCredentials returns every stored digest-auth principal, enabled or not.
func (db *DB) ListCredentials(ctx context.Context) ([]CredentialRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT username, password, description, enabled, created_at, updated_at
		 FROM credentials ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("database: listing credentials: %w", err)
	}
	defer rows.Close()

	var out []CredentialRecord
	for rows.Next() {
		var c CredentialRecord
		if err := rows.Scan(&c.Username, &c.Password, &c.Description, &c.Enabled, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("database: scanning credential row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCredential looks up a single digest-auth principal by username, the
// hot path digestauth.CredentialLookup drives on every Validate call.
func (db *DB) GetCredential(ctx context.Context, username string) (CredentialRecord, error) {
	var c CredentialRecord
	row := db.QueryRowContext(ctx, db.rebind(
		`SELECT username, password, description, enabled, created_at, updated_at
		 FROM credentials WHERE username = ?`), username)
	err := row.Scan(&c.Username, &c.Password, &c.Description, &c.Enabled, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CredentialRecord{}, fmt.Errorf("database: credential %q: %w", username, sql.ErrNoRows)
	}
	if err != nil {
		return CredentialRecord{}, fmt.Errorf("database: getting credential %q: %w", username, err)
	}
	return c, nil
}

// UpsertCredential creates or replaces a digest-auth principal.
func (db *DB) UpsertCredential(ctx context.Context, c CredentialRecord) error {
	_, err := db.ExecContext(ctx, db.rebind(`
		INSERT INTO credentials (username, password, description, enabled, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (username) DO UPDATE SET
			password = excluded.password,
			description = excluded.description,
			enabled = excluded.enabled,
			updated_at = CURRENT_TIMESTAMP`),
		c.Username, c.Password, c.Description, c.Enabled,
	)
	if err != nil {
		return fmt.Errorf("database: upserting credential %q: %w", c.Username, err)
	}
	return nil
}

// DeleteCredential removes a digest-auth principal by username.
func (db *DB) DeleteCredential(ctx context.Context, username string) error {
	if _, err := db.ExecContext(ctx, db.rebind(`DELETE FROM credentials WHERE username = ?`), username); err != nil {
		return fmt.Errorf("database: deleting credential %q: %w", username, err)
	}
	return nil
}
