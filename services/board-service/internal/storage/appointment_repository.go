package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mt-karim/shopboard/libs/db"
	"github.com/mt-karim/shopboard/services/board-service/internal/model"
)

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *AppointmentRepository) GetByID(ctx context.Context, id string) (model.Appointment, error) {
	var appt model.Appointment
	var status string
	err := r.pool.QueryRow(ctx, `
		SELECT id, status, version, position, COALESCE(tech_id::text, ''),
			start_time, end_time, check_in_at, check_out_at,
			total_amount_cents, paid_amount_cents, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`, id).Scan(
		&appt.ID,
		&status,
		&appt.Version,
		&appt.Position,
		&appt.TechID,
		&appt.StartTime,
		&appt.EndTime,
		&appt.CheckInAt,
		&appt.CheckOutAt,
		&appt.TotalAmount,
		&appt.PaidAmount,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Status, err = model.ParseStatus(status)
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// ApplyMoveParams is the single conditional write of the move path. Position
// nil keeps the current column position.
type ApplyMoveParams struct {
	ID              string
	ExpectedVersion int64
	Status          model.Status
	Position        *int32
	SetCheckIn      bool
	SetCheckOut     bool
	Now             time.Time
}

// ApplyMove performs the version-guarded update. The version predicate in the
// WHERE clause is the whole concurrency story: under N racing moves with the
// same expected version, exactly one row matches. A stale version returns
// applied=false with no error; the caller decides how to surface it.
// Check-in/check-out are filled only when still null, never overwritten.
func (r *AppointmentRepository) ApplyMove(ctx context.Context, tx pgx.Tx, p ApplyMoveParams) (model.Appointment, bool, error) {
	var appt model.Appointment
	var status string
	err := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
			position = COALESCE($4, position),
			version = version + 1,
			check_in_at = CASE WHEN $5 THEN COALESCE(check_in_at, $7) ELSE check_in_at END,
			check_out_at = CASE WHEN $6 THEN COALESCE(check_out_at, $7) ELSE check_out_at END,
			updated_at = $7
		WHERE id = $1 AND version = $2
		RETURNING id, status, version, position, COALESCE(tech_id::text, ''),
			start_time, end_time, check_in_at, check_out_at,
			total_amount_cents, paid_amount_cents, created_at, updated_at
	`, p.ID, p.ExpectedVersion, string(p.Status), p.Position, p.SetCheckIn, p.SetCheckOut, p.Now).Scan(
		&appt.ID,
		&status,
		&appt.Version,
		&appt.Position,
		&appt.TechID,
		&appt.StartTime,
		&appt.EndTime,
		&appt.CheckInAt,
		&appt.CheckOutAt,
		&appt.TotalAmount,
		&appt.PaidAmount,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, false, nil
	}
	if err != nil {
		return model.Appointment{}, false, err
	}
	appt.Status, err = model.ParseStatus(status)
	if err != nil {
		return model.Appointment{}, false, err
	}
	return appt, true, nil
}

// BoardCard is the read-side card row, with customer/vehicle summaries
// pre-joined so the board never does per-card lookups.
type BoardCard struct {
	ID              string
	Status          model.Status
	Position        int32
	StartTime       time.Time
	EndTime         time.Time
	PriceCents      int64
	CustomerSummary string
	VehicleSummary  string
}

// ColumnAggregate is one grouped row of the per-status count/sum query.
type ColumnAggregate struct {
	Status   model.Status
	Count    int64
	SumCents int64
}

type BoardQuery struct {
	From   time.Time
	To     time.Time
	TechID string // empty means all techs
}

// BoardCards returns every card in range in one query. Missing customer or
// vehicle rows degrade to stable placeholders instead of failing the board.
func (r *AppointmentRepository) BoardCards(ctx context.Context, q BoardQuery) ([]BoardCard, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.status, a.position, a.start_time, a.end_time, a.total_amount_cents,
			COALESCE(NULLIF(TRIM(c.full_name), ''), 'Unknown customer'),
			COALESCE(NULLIF(TRIM(CONCAT(v.year_label, ' ', v.make, ' ', v.model)), ''), 'Unknown vehicle')
		FROM appointments a
		LEFT JOIN customers c ON c.id = a.customer_id
		LEFT JOIN vehicles v ON v.id = a.vehicle_id
		WHERE a.start_time >= $1
			AND a.start_time < $2
			AND a.status <> 'canceled'
			AND ($3 = '' OR a.tech_id::text = $3)
		ORDER BY a.position ASC, a.start_time ASC
	`, q.From, q.To, q.TechID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []BoardCard
	for rows.Next() {
		var card BoardCard
		var status string
		if err := rows.Scan(
			&card.ID,
			&status,
			&card.Position,
			&card.StartTime,
			&card.EndTime,
			&card.PriceCents,
			&card.CustomerSummary,
			&card.VehicleSummary,
		); err != nil {
			return nil, err
		}
		card.Status, err = model.ParseStatus(status)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return cards, nil
}

// ColumnAggregates computes per-status count and revenue sum in one grouped
// query, independent of how many appointments are in range.
func (r *AppointmentRepository) ColumnAggregates(ctx context.Context, q BoardQuery) ([]ColumnAggregate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(total_amount_cents), 0)
		FROM appointments
		WHERE start_time >= $1
			AND start_time < $2
			AND status <> 'canceled'
			AND ($3 = '' OR tech_id::text = $3)
		GROUP BY status
	`, q.From, q.To, q.TechID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aggs []ColumnAggregate
	for rows.Next() {
		var agg ColumnAggregate
		var status string
		if err := rows.Scan(&status, &agg.Count, &agg.SumCents); err != nil {
			return nil, err
		}
		agg.Status, err = model.ParseStatus(status)
		if err != nil {
			return nil, err
		}
		aggs = append(aggs, agg)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return aggs, nil
}

// StatusCounts feeds the stats KPI compute path.
func (r *AppointmentRepository) StatusCounts(ctx context.Context, from, to time.Time) (map[model.Status]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*)
		FROM appointments
		WHERE start_time >= $1 AND start_time < $2
		GROUP BY status
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[model.Status]int64{}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		st, err := model.ParseStatus(status)
		if err != nil {
			return nil, err
		}
		counts[st] = n
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return counts, nil
}

// UnpaidTotal sums the outstanding balance over the range, in cents.
func (r *AppointmentRepository) UnpaidTotal(ctx context.Context, from, to time.Time) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(GREATEST(total_amount_cents - paid_amount_cents, 0)), 0)
		FROM appointments
		WHERE start_time >= $1
			AND start_time < $2
			AND status <> 'canceled'
	`, from, to).Scan(&total)
	return total, err
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
