package move

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mt-karim/shopboard/services/board-service/internal/audit"
	"github.com/mt-karim/shopboard/services/board-service/internal/model"
	"github.com/mt-karim/shopboard/services/board-service/internal/outbox"
	"github.com/mt-karim/shopboard/services/board-service/internal/storage"
	"github.com/mt-karim/shopboard/services/board-service/internal/transition"
)

// fakeTx satisfies pgx.Tx for the in-memory store; the fake applies writes
// directly, so commit and rollback are no-ops.
type fakeTx struct{}

func (fakeTx) Begin(context.Context) (pgx.Tx, error) { return fakeTx{}, nil }
func (fakeTx) Commit(context.Context) error          { return nil }
func (fakeTx) Rollback(context.Context) error        { return nil }
func (fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (fakeTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (fakeTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (fakeTx) Conn() *pgx.Conn                                         { return nil }

type memStore struct {
	mu                sync.Mutex
	appts             map[string]model.Appointment
	serializationLeft int // inject this many serialization failures first
}

func newMemStore(appts ...model.Appointment) *memStore {
	s := &memStore{appts: map[string]model.Appointment{}}
	for _, a := range appts {
		s.appts[a.ID] = a
	}
	return s
}

func (s *memStore) Begin(context.Context) (pgx.Tx, error) { return fakeTx{}, nil }

func (s *memStore) GetByID(_ context.Context, id string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, pgx.ErrNoRows
	}
	return a, nil
}

func (s *memStore) ApplyMove(_ context.Context, _ pgx.Tx, p storage.ApplyMoveParams) (model.Appointment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.serializationLeft > 0 {
		s.serializationLeft--
		return model.Appointment{}, false, &pgconn.PgError{Code: "40001"}
	}

	a, ok := s.appts[p.ID]
	if !ok || a.Version != p.ExpectedVersion {
		return model.Appointment{}, false, nil
	}

	a.Status = p.Status
	if p.Position != nil {
		a.Position = *p.Position
	}
	a.Version++
	if p.SetCheckIn && a.CheckInAt == nil {
		t := p.Now
		a.CheckInAt = &t
	}
	if p.SetCheckOut && a.CheckOutAt == nil {
		t := p.Now
		a.CheckOutAt = &t
	}
	a.UpdatedAt = p.Now
	s.appts[p.ID] = a
	return a, true, nil
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAudit) Record(_ context.Context, _ pgx.Tx, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []outbox.Event
}

func (r *recordingEvents) Insert(_ context.Context, _ pgx.Tx, evt outbox.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

type recordingInvalidator struct {
	mu   sync.Mutex
	days []time.Time
	err  error
}

func (r *recordingInvalidator) Invalidate(_ context.Context, days ...time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.days = append(r.days, days...)
	return nil
}

type recordingAlerts struct {
	mu    sync.Mutex
	kinds []string
}

func (r *recordingAlerts) Notify(_ context.Context, kind string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
}

type fixture struct {
	svc    *Service
	store  *memStore
	audit  *recordingAudit
	events *recordingEvents
	cache  *recordingInvalidator
	alerts *recordingAlerts
}

func newFixture(appts ...model.Appointment) *fixture {
	f := &fixture{
		store:  newMemStore(appts...),
		audit:  &recordingAudit{},
		events: &recordingEvents{},
		cache:  &recordingInvalidator{},
		alerts: &recordingAlerts{},
	}
	f.svc = NewService(f.store, f.audit, f.events, f.cache, f.alerts, slog.New(slog.DiscardHandler))
	return f
}

func scheduledAppointment(id string) model.Appointment {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	return model.Appointment{
		ID:        id,
		Status:    model.StatusScheduled,
		Version:   1,
		Position:  1,
		StartTime: start,
		EndTime:   start.Add(time.Hour),
	}
}

func intp(v int32) *int32 { return &v }

func TestMove_SuccessIncrementsVersionByOne(t *testing.T) {
	f := newFixture(scheduledAppointment("a1"))

	res, err := f.svc.Move(context.Background(), Request{
		AppointmentID:   "a1",
		TargetStatus:    model.StatusInProgress,
		TargetPosition:  intp(3),
		ExpectedVersion: 1,
		ActorID:         "tech-1",
	})
	if err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if res.Version != 2 {
		t.Fatalf("expected version 2, got %d", res.Version)
	}
	if res.Status != model.StatusInProgress || res.Position != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}

	stored, _ := f.store.GetByID(context.Background(), "a1")
	if stored.CheckInAt == nil {
		t.Fatal("entering in_progress should set check-in")
	}
	if stored.CheckOutAt != nil {
		t.Fatal("check-out should not be set on check-in")
	}
	if len(f.audit.entries) != 1 {
		t.Fatalf("expected exactly 1 audit entry, got %d", len(f.audit.entries))
	}
	entry := f.audit.entries[0]
	if entry.Action != audit.ActionStatusChange || entry.ActorID != "tech-1" || entry.EntityID != "a1" {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}
	if entry.Before["status"] != "scheduled" || entry.After["status"] != "in_progress" {
		t.Fatalf("audit snapshots wrong: before=%v after=%v", entry.Before, entry.After)
	}
	if len(f.events.events) != 1 || f.events.events[0].EventType != outbox.TopicStatusChanged {
		t.Fatalf("expected one status-changed event, got %+v", f.events.events)
	}
	if len(f.cache.days) != 1 {
		t.Fatalf("expected one invalidated day, got %v", f.cache.days)
	}
}

func TestMove_InvalidTransitionLeavesRowUntouched(t *testing.T) {
	f := newFixture(scheduledAppointment("a1"))

	_, err := f.svc.Move(context.Background(), Request{
		AppointmentID:   "a1",
		TargetStatus:    model.StatusReady,
		ExpectedVersion: 1,
		ActorID:         "tech-1",
	})
	var invalid *transition.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if invalid.From != model.StatusScheduled || invalid.To != model.StatusReady {
		t.Fatalf("error endpoints wrong: %+v", invalid)
	}

	stored, _ := f.store.GetByID(context.Background(), "a1")
	if stored.Version != 1 || stored.Status != model.StatusScheduled || stored.Position != 1 {
		t.Fatalf("row should be untouched, got %+v", stored)
	}
	if len(f.audit.entries) != 0 || len(f.events.events) != 0 || len(f.cache.days) != 0 {
		t.Fatal("rejected transition must not audit, emit, or invalidate")
	}
}

func TestMove_SameStatusRejected(t *testing.T) {
	f := newFixture(scheduledAppointment("a1"))

	_, err := f.svc.Move(context.Background(), Request{
		AppointmentID:   "a1",
		TargetStatus:    model.StatusScheduled,
		ExpectedVersion: 1,
	})
	var invalid *transition.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError for same-status move, got %v", err)
	}
}

func TestMove_ConcurrentSameVersionExactlyOneWins(t *testing.T) {
	appt := scheduledAppointment("a1")
	appt.Status = model.StatusInProgress
	appt.Version = 3
	f := newFixture(appt)

	targets := []model.Status{model.StatusReady, model.StatusCompleted}
	results := make([]error, len(targets))

	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target model.Status) {
			defer wg.Done()
			_, err := f.svc.Move(context.Background(), Request{
				AppointmentID:   "a1",
				TargetStatus:    target,
				ExpectedVersion: 3,
				ActorID:         "tech-1",
			})
			results[i] = err
		}(i, target)
	}
	wg.Wait()

	var successes, conflicts int
	for _, err := range results {
		if err == nil {
			successes++
			continue
		}
		var conflict *VersionConflictError
		if errors.As(err, &conflict) {
			conflicts++
			if conflict.CurrentVersion != 4 {
				t.Fatalf("conflict should report winning version 4, got %d", conflict.CurrentVersion)
			}
			continue
		}
		t.Fatalf("unexpected error: %v", err)
	}
	if successes != 1 || conflicts != 1 {
		t.Fatalf("expected exactly one success and one conflict, got %d/%d", successes, conflicts)
	}

	stored, _ := f.store.GetByID(context.Background(), "a1")
	if stored.Version != 4 {
		t.Fatalf("expected final version 4, got %d", stored.Version)
	}
	if len(f.audit.entries) != 1 {
		t.Fatalf("expected exactly one audit entry, got %d", len(f.audit.entries))
	}
}

func TestMove_CheckInPreservedAcrossLifecycle(t *testing.T) {
	f := newFixture(scheduledAppointment("a1"))
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	if _, err := f.svc.Move(context.Background(), Request{
		AppointmentID: "a1", TargetStatus: model.StatusInProgress, ExpectedVersion: 1,
	}); err != nil {
		t.Fatalf("check-in move failed: %v", err)
	}
	checkIn := now

	now = now.Add(time.Hour)
	if _, err := f.svc.Move(context.Background(), Request{
		AppointmentID: "a1", TargetStatus: model.StatusReady, ExpectedVersion: 2,
	}); err != nil {
		t.Fatalf("ready move failed: %v", err)
	}

	now = now.Add(time.Hour)
	if _, err := f.svc.Move(context.Background(), Request{
		AppointmentID: "a1", TargetStatus: model.StatusCompleted, ExpectedVersion: 3,
	}); err != nil {
		t.Fatalf("complete move failed: %v", err)
	}

	stored, _ := f.store.GetByID(context.Background(), "a1")
	if stored.CheckInAt == nil || !stored.CheckInAt.Equal(checkIn) {
		t.Fatalf("check-in should keep its original value %s, got %v", checkIn, stored.CheckInAt)
	}
	if stored.CheckOutAt == nil || !stored.CheckOutAt.Equal(now) {
		t.Fatalf("check-out should be set at completion time %s, got %v", now, stored.CheckOutAt)
	}
}

func TestMove_StaleVersionReturnsCurrentState(t *testing.T) {
	appt := scheduledAppointment("a1")
	appt.Version = 5
	f := newFixture(appt)

	_, err := f.svc.Move(context.Background(), Request{
		AppointmentID:   "a1",
		TargetStatus:    model.StatusInProgress,
		ExpectedVersion: 3,
	})
	var conflict *VersionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected VersionConflictError, got %v", err)
	}
	if conflict.CurrentVersion != 5 || conflict.CurrentStatus != model.StatusScheduled {
		t.Fatalf("conflict should carry current state, got %+v", conflict)
	}
}

func TestMove_SerializationFailureRetriedOnce(t *testing.T) {
	f := newFixture(scheduledAppointment("a1"))
	f.store.serializationLeft = 1

	res, err := f.svc.Move(context.Background(), Request{
		AppointmentID:   "a1",
		TargetStatus:    model.StatusInProgress,
		ExpectedVersion: 1,
	})
	if err != nil {
		t.Fatalf("single serialization failure should be retried: %v", err)
	}
	if res.Version != 2 {
		t.Fatalf("expected version 2 after retry, got %d", res.Version)
	}

	g := newFixture(scheduledAppointment("a2"))
	g.store.serializationLeft = 2
	if _, err := g.svc.Move(context.Background(), Request{
		AppointmentID:   "a2",
		TargetStatus:    model.StatusInProgress,
		ExpectedVersion: 1,
	}); err == nil {
		t.Fatal("second consecutive serialization failure should surface")
	}
}

func TestMove_NotFound(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Move(context.Background(), Request{
		AppointmentID:   "missing",
		TargetStatus:    model.StatusInProgress,
		ExpectedVersion: 1,
	})
	if !storage.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestMove_InvalidationFailureAlertsButMoveSucceeds(t *testing.T) {
	f := newFixture(scheduledAppointment("a1"))
	f.cache.err = errors.New("redis down")

	res, err := f.svc.Move(context.Background(), Request{
		AppointmentID:   "a1",
		TargetStatus:    model.StatusInProgress,
		ExpectedVersion: 1,
	})
	if err != nil {
		t.Fatalf("move must not fail on invalidation error: %v", err)
	}
	if res.Version != 2 {
		t.Fatalf("expected version 2, got %d", res.Version)
	}
	if len(f.alerts.kinds) != 1 || f.alerts.kinds[0] != "stats_invalidation_failed" {
		t.Fatalf("expected one stats_invalidation_failed alert, got %v", f.alerts.kinds)
	}
}
