// Package repository provides data access for the device event journal.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sensor-relay/backend/internal/model"
)

// DefaultLimit caps list queries that do not name a limit.
const DefaultLimit = 100

// EventRepository provides data access for device events.
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Insert appends an event and returns its row id.
func (r *EventRepository) Insert(ctx context.Context, ev model.DeviceEvent) (int64, error) {
	query := `
		INSERT INTO device_events (chip_id, kind, connection_id, relay_status, pir_status, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		ev.ChipID,
		string(ev.Kind),
		nullString(ev.ConnectionID),
		ev.RelayStatus,
		ev.PirStatus,
		ev.At.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get event id: %w", err)
	}
	return id, nil
}

// ListByChip returns the newest events for chipID, newest first.
func (r *EventRepository) ListByChip(ctx context.Context, chipID string, limit int) ([]model.DeviceEvent, error) {
	query := `
		SELECT id, chip_id, kind, connection_id, relay_status, pir_status, at
		FROM device_events
		WHERE chip_id = ?
		ORDER BY id DESC
		LIMIT ?
	`
	return r.list(ctx, query, chipID, normalizeLimit(limit))
}

// Recent returns the newest events across all devices, newest first.
func (r *EventRepository) Recent(ctx context.Context, limit int) ([]model.DeviceEvent, error) {
	query := `
		SELECT id, chip_id, kind, connection_id, relay_status, pir_status, at
		FROM device_events
		ORDER BY id DESC
		LIMIT ?
	`
	return r.list(ctx, query, normalizeLimit(limit))
}

// DeleteBefore removes events recorded before t and returns how many were
// removed.
func (r *EventRepository) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM device_events WHERE at < ?`, t.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}

// CountByKind returns the number of stored events per kind.
func (r *EventRepository) CountByKind(ctx context.Context) (map[model.EventKind]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM device_events GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.EventKind]int)
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts[model.EventKind(kind)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event counts: %w", err)
	}
	return counts, nil
}

func (r *EventRepository) list(ctx context.Context, query string, args ...any) ([]model.DeviceEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []model.DeviceEvent{}
	for rows.Next() {
		var ev model.DeviceEvent
		var kind string
		var connectionID sql.NullString
		var relayStatus, pirStatus sql.NullBool
		var at int64

		err := rows.Scan(
			&ev.ID,
			&ev.ChipID,
			&kind,
			&connectionID,
			&relayStatus,
			&pirStatus,
			&at,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		ev.Kind = model.EventKind(kind)
		ev.At = time.UnixMilli(at).UTC()
		if connectionID.Valid {
			ev.ConnectionID = connectionID.String
		}
		if relayStatus.Valid {
			v := relayStatus.Bool
			ev.RelayStatus = &v
		}
		if pirStatus.Valid {
			v := pirStatus.Bool
			ev.PirStatus = &v
		}

		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > DefaultLimit {
		return DefaultLimit
	}
	return limit
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
