// Package metrics projects status-change events into daily aggregate rows.
// The projection is idempotent at the event level because the consumer inbox
// filters duplicates before the handler runs.
package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Recorder struct {
	db     Execer
	logger *slog.Logger
}

func NewRecorder(db Execer, logger *slog.Logger) *Recorder {
	return &Recorder{db: db, logger: logger}
}

type statusChangedPayload struct {
	AppointmentID string `json:"appointment_id"`
	ActorID       string `json:"actor_id"`
	FromStatus    string `json:"from_status"`
	ToStatus      string `json:"to_status"`
	OccurredAt    string `json:"occurred_at"`
}

// HandleStatusChanged bumps the per-day counter for the target status.
// Malformed payloads are logged and dropped: replaying them would never
// succeed, so returning an error only stalls the partition.
func (r *Recorder) HandleStatusChanged(ctx context.Context, value []byte) error {
	var payload statusChangedPayload
	if err := json.Unmarshal(value, &payload); err != nil {
		r.logger.Error("invalid status change payload", "err", err)
		return nil
	}
	if payload.AppointmentID == "" || payload.FromStatus == "" || payload.ToStatus == "" || payload.OccurredAt == "" {
		r.logger.Error("missing status change fields", "appointment_id", payload.AppointmentID)
		return nil
	}
	occurredAt, err := time.Parse(time.RFC3339, payload.OccurredAt)
	if err != nil {
		r.logger.Error("invalid occurred_at", "err", err)
		return nil
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO daily_status_change_metrics (day, from_status, to_status, change_count)
		VALUES ($1::date, $2, $3, 1)
		ON CONFLICT (day, from_status, to_status)
		DO UPDATE SET change_count = daily_status_change_metrics.change_count + 1,
		              updated_at = now()
	`, occurredAt.UTC(), payload.FromStatus, payload.ToStatus)
	if err != nil {
		r.logger.Error("failed to update status change metrics", "err", err)
		return err
	}

	r.logger.Info("status change recorded",
		"appointment_id", payload.AppointmentID,
		"from_status", payload.FromStatus,
		"to_status", payload.ToStatus,
	)
	return nil
}
