package database

import (
	"context"
	"fmt"
)

// ListCodecs returns every stored codec-catalog override.
func (db *DB) ListCodecs(ctx context.Context) ([]CodecRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name, payload_type, clock_rate, channels, fmtp, enabled, is_standard, priority
		 FROM codecs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("database: listing codecs: %w", err)
	}
	defer rows.Close()

	var out []CodecRecord
	for rows.Next() {
		var c CodecRecord
		if err := rows.Scan(&c.Name, &c.PayloadType, &c.ClockRate, &c.Channels, &c.Fmtp,
			&c.Enabled, &c.IsStandard, &c.Priority); err != nil {
			return nil, fmt.Errorf("database: scanning codec row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertCodec creates or replaces a codec entry.
func (db *DB) UpsertCodec(ctx context.Context, c CodecRecord) error {
	_, err := db.ExecContext(ctx, db.rebind(`
		INSERT INTO codecs (name, payload_type, clock_rate, channels, fmtp, enabled, is_standard, priority)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			payload_type = excluded.payload_type,
			clock_rate = excluded.clock_rate,
			channels = excluded.channels,
			fmtp = excluded.fmtp,
			enabled = excluded.enabled,
			is_standard = excluded.is_standard,
			priority = excluded.priority`),
		c.Name, c.PayloadType, c.ClockRate, c.Channels, c.Fmtp, c.Enabled, c.IsStandard, c.Priority,
	)
	if err != nil {
		return fmt.Errorf("database: upserting codec %q: %w", c.Name, err)
	}
	return nil
}

// DeleteCodec removes a codec entry by name.
func (db *DB) DeleteCodec(ctx context.Context, name string) error {
	if _, err := db.ExecContext(ctx, db.rebind(`DELETE FROM codecs WHERE name = ?`), name); err != nil {
		return fmt.Errorf("database: deleting codec %q: %w", name, err)
	}
	return nil
}
