// Package audit is the append-only trail of board mutations. Entries ride
// the same transaction as the write they describe, so a committed status
// change and its audit record are inseparable. Nothing here updates or
// deletes existing rows.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mt-karim/shopboard/libs/db"
)

const ActionStatusChange = "STATUS_CHANGE"

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Entry captures one mutation: who did it, to what, and the before/after
// snapshots of the fields the move touched.
type Entry struct {
	ActorID  string
	EntityID string
	Action   string
	Before   map[string]any
	After    map[string]any
}

func (r *Repository) Record(ctx context.Context, tx pgx.Tx, e Entry) error {
	before, err := json.Marshal(e.Before)
	if err != nil {
		return err
	}
	after, err := json.Marshal(e.After)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO audit_entries (id, actor_id, entity_id, action, before, after)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6)
	`, uuid.NewString(), e.ActorID, e.EntityID, e.Action, before, after)
	return err
}

type StoredEntry struct {
	ID        string          `json:"id"`
	ActorID   string          `json:"actor_id,omitempty"`
	EntityID  string          `json:"entity_id"`
	Action    string          `json:"action"`
	Before    json.RawMessage `json:"before"`
	After     json.RawMessage `json:"after"`
	CreatedAt string          `json:"created_at"`
}

func (r *Repository) ListRecent(ctx context.Context, limit int) ([]StoredEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, COALESCE(actor_id::text, ''), entity_id, action, before, after, created_at
		FROM audit_entries
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []StoredEntry
	for rows.Next() {
		var e StoredEntry
		var createdAt time.Time
		if err := rows.Scan(&e.ID, &e.ActorID, &e.EntityID, &e.Action, &e.Before, &e.After, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = createdAt.UTC().Format(time.RFC3339)
		entries = append(entries, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}
