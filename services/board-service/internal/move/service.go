// Package move orchestrates a single status change: guard check, one
// version-guarded write, audit + outbox in the same transaction, then cache
// invalidation. There is no application-level locking anywhere in this path;
// the version predicate on the update is the entire coordination story.
package move

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mt-karim/shopboard/libs/db"
	"github.com/mt-karim/shopboard/services/board-service/internal/alert"
	"github.com/mt-karim/shopboard/services/board-service/internal/audit"
	"github.com/mt-karim/shopboard/services/board-service/internal/model"
	"github.com/mt-karim/shopboard/services/board-service/internal/outbox"
	"github.com/mt-karim/shopboard/services/board-service/internal/storage"
	"github.com/mt-karim/shopboard/services/board-service/internal/transition"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// VersionConflictError is a normal, recoverable outcome: the client's version
// went stale under its feet. It carries the current row state so the client
// can reconcile without a second round trip.
type VersionConflictError struct {
	CurrentVersion int64
	CurrentStatus  model.Status
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict: current version %d, status %s", e.CurrentVersion, e.CurrentStatus)
}

type Request struct {
	AppointmentID   string
	TargetStatus    model.Status
	TargetPosition  *int32 // nil keeps the current position
	ExpectedVersion int64
	ActorID         string
}

type Result struct {
	ID       string
	Status   model.Status
	Position int32
	Version  int64
}

type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	GetByID(ctx context.Context, id string) (model.Appointment, error)
	ApplyMove(ctx context.Context, tx pgx.Tx, p storage.ApplyMoveParams) (model.Appointment, bool, error)
}

type AuditLog interface {
	Record(ctx context.Context, tx pgx.Tx, e audit.Entry) error
}

type EventLog interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

type Invalidator interface {
	Invalidate(ctx context.Context, days ...time.Time) error
}

type Service struct {
	store    Store
	auditLog AuditLog
	events   EventLog
	cache    Invalidator
	alerts   alert.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(store Store, auditLog AuditLog, events EventLog, cache Invalidator, alerts alert.Notifier, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		auditLog: auditLog,
		events:   events,
		cache:    cache,
		alerts:   alerts,
		logger:   logger,
		now:      time.Now,
	}
}

// Move performs one status change. Outcomes:
//   - (Result, nil) on success, with the incremented version;
//   - *transition.InvalidTransitionError without any store write;
//   - *VersionConflictError with the current row state on a stale version;
//   - a plain error for infrastructure failures, retried internally at most
//     once and only for serialization failures, never for conflicts.
func (s *Service) Move(ctx context.Context, req Request) (Result, error) {
	ctx, span := otel.Tracer("board").Start(ctx, "board.move")
	defer span.End()
	span.SetAttributes(
		attribute.String("appointment.id", req.AppointmentID),
		attribute.String("appointment.target_status", req.TargetStatus.String()),
	)

	current, err := s.store.GetByID(ctx, req.AppointmentID)
	if err != nil {
		return Result{}, err
	}

	// Guard first: a disallowed edge never reaches the conditional write.
	if err := transition.Check(current.Status, req.TargetStatus); err != nil {
		return Result{}, err
	}

	updated, applied, err := s.attempt(ctx, current, req)
	if err != nil && db.IsSerializationFailure(err) {
		s.logger.Warn("move hit serialization failure, retrying once", "appointment_id", req.AppointmentID, "err", err)
		updated, applied, err = s.attempt(ctx, current, req)
	}
	if err != nil {
		return Result{}, err
	}

	if !applied {
		// Stale version. Re-read so the caller gets the winning state.
		latest, err := s.store.GetByID(ctx, req.AppointmentID)
		if err != nil {
			return Result{}, err
		}
		return Result{}, &VersionConflictError{
			CurrentVersion: latest.Version,
			CurrentStatus:  latest.Status,
		}
	}

	// The mutation is committed; from here on failures are alerted, never
	// propagated back as a failed move.
	day := updated.StartTime.UTC().Truncate(24 * time.Hour)
	if err := s.cache.Invalidate(ctx, day); err != nil {
		s.alerts.Notify(ctx, "stats_invalidation_failed", map[string]any{
			"appointment_id": updated.ID,
			"day":            day.Format("2006-01-02"),
			"err":            err.Error(),
		})
	}

	s.logger.Info("appointment moved",
		"appointment_id", updated.ID,
		"from", current.Status.String(),
		"to", updated.Status.String(),
		"version", updated.Version,
		"actor_id", req.ActorID,
	)

	return Result{
		ID:       updated.ID,
		Status:   updated.Status,
		Position: updated.Position,
		Version:  updated.Version,
	}, nil
}

// attempt runs the conditional write, audit entry, and outbox event in one
// transaction. applied=false means the version predicate matched no row.
func (s *Service) attempt(ctx context.Context, current model.Appointment, req Request) (model.Appointment, bool, error) {
	effects := transition.SideEffects(current.Status, req.TargetStatus)
	now := s.now().UTC()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	updated, applied, err := s.store.ApplyMove(ctx, tx, storage.ApplyMoveParams{
		ID:              req.AppointmentID,
		ExpectedVersion: req.ExpectedVersion,
		Status:          req.TargetStatus,
		Position:        req.TargetPosition,
		SetCheckIn:      effects.SetCheckIn,
		SetCheckOut:     effects.SetCheckOut,
		Now:             now,
	})
	if err != nil || !applied {
		return model.Appointment{}, false, err
	}

	if err := s.auditLog.Record(ctx, tx, audit.Entry{
		ActorID:  req.ActorID,
		EntityID: updated.ID,
		Action:   audit.ActionStatusChange,
		Before: map[string]any{
			"status":   current.Status.String(),
			"position": current.Position,
			"version":  current.Version,
		},
		After: map[string]any{
			"status":   updated.Status.String(),
			"position": updated.Position,
			"version":  updated.Version,
		},
	}); err != nil {
		return model.Appointment{}, false, err
	}

	payload, err := json.Marshal(map[string]any{
		"appointment_id": updated.ID,
		"actor_id":       req.ActorID,
		"from_status":    current.Status.String(),
		"to_status":      updated.Status.String(),
		"position":       updated.Position,
		"version":        updated.Version,
		"occurred_at":    now.Format(time.RFC3339),
	})
	if err != nil {
		return model.Appointment{}, false, err
	}
	if err := s.events.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   updated.ID,
		EventType:     outbox.TopicStatusChanged,
		Payload:       payload,
	}); err != nil {
		return model.Appointment{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, false, err
	}
	return updated, true, nil
}
