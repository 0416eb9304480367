package database

import (
	"context"
	"database/sql"
	"fmt"
)

const routeColumns = `id, name, description, pattern, destination_kind, destination_value,
	action, priority, enabled, continue_on_match, conditions_json, created_at, updated_at`

func scanRoute(row interface{ Scan(...any) error }) (RouteRecord, error) {
	var r RouteRecord
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.Pattern, &r.DestinationKind, &r.DestinationValue,
		&r.Action, &r.Priority, &r.Enabled, &r.ContinueOnMatch, &r.ConditionsJSON, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// ListRoutes returns every stored route, in priority order.
func (db *DB) ListRoutes(ctx context.Context) ([]RouteRecord, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+routeColumns+` FROM routes ORDER BY priority`)
	if err != nil {
		return nil, fmt.Errorf("database: listing routes: %w", err)
	}
	defer rows.Close()

	var out []RouteRecord
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			return nil, fmt.Errorf("database: scanning route row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRoute returns a single route by ID.
func (db *DB) GetRoute(ctx context.Context, id int64) (RouteRecord, error) {
	r, err := scanRoute(db.QueryRowContext(ctx, db.rebind(`SELECT `+routeColumns+` FROM routes WHERE id = ?`), id))
	if err == sql.ErrNoRows {
		return RouteRecord{}, fmt.Errorf("database: route %d: %w", id, sql.ErrNoRows)
	}
	if err != nil {
		return RouteRecord{}, fmt.Errorf("database: getting route %d: %w", id, err)
	}
	return r, nil
}

// CreateRoute inserts a new route and returns its assigned ID.
func (db *DB) CreateRoute(ctx context.Context, r RouteRecord) (int64, error) {
	id, err := db.insertReturningID(ctx,
		`INSERT INTO routes (name, description, pattern, destination_kind, destination_value,
		 action, priority, enabled, continue_on_match, conditions_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Name, r.Description, r.Pattern, r.DestinationKind, r.DestinationValue,
		r.Action, r.Priority, r.Enabled, r.ContinueOnMatch, r.ConditionsJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("database: creating route %q: %w", r.Name, err)
	}
	return id, nil
}

// UpdateRoute replaces an existing route's fields.
func (db *DB) UpdateRoute(ctx context.Context, r RouteRecord) error {
	_, err := db.ExecContext(ctx, db.rebind(
		`UPDATE routes SET name = ?, description = ?, pattern = ?, destination_kind = ?,
		 destination_value = ?, action = ?, priority = ?, enabled = ?, continue_on_match = ?,
		 conditions_json = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`),
		r.Name, r.Description, r.Pattern, r.DestinationKind, r.DestinationValue,
		r.Action, r.Priority, r.Enabled, r.ContinueOnMatch, r.ConditionsJSON, r.ID,
	)
	if err != nil {
		return fmt.Errorf("database: updating route %d: %w", r.ID, err)
	}
	return nil
}

// DeleteRoute removes a route by ID.
func (db *DB) DeleteRoute(ctx context.Context, id int64) error {
	if _, err := db.ExecContext(ctx, db.rebind(`DELETE FROM routes WHERE id = ?`), id); err != nil {
		return fmt.Errorf("database: deleting route %d: %w", id, err)
	}
	return nil
}
