package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

var (
	// ErrNotFound is returned for unknown booking ids.
	ErrNotFound = errors.New("schedule: booking not found")
	// ErrOverlapRace is returned when the storage overlap constraint fired after
	// the in-transaction check passed; the caller re-runs the check.
	ErrOverlapRace = errors.New("schedule: concurrent overlapping booking")
)

// pgExclusionViolation is SQLSTATE exclusion_violation.
const pgExclusionViolation = "23P01"

const bookingColumns = `id, trainer_id, member_id, class_name,
	to_char(booking_date, 'YYYY-MM-DD') AS booking_date,
	start_minute, end_minute, status, created_at`

// Repository stores bookings in Postgres.
type Repository struct {
	db *sqlx.DB
}

// NewRepository wraps an open Postgres handle.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// ListDay returns the trainer's non-cancelled bookings for date ordered by start.
func (r *Repository) ListDay(ctx context.Context, trainerID, date string) ([]Booking, error) {
	var out []Booking
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE trainer_id = $1 AND booking_date = $2::date AND status <> 'cancelled'
		ORDER BY start_minute
	`, trainerID, date)
	return out, err
}

// Get loads one booking.
func (r *Repository) Get(ctx context.Context, id string) (Booking, error) {
	var b Booking
	err := r.db.GetContext(ctx, &b, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Booking{}, ErrNotFound
	}
	return b, err
}

// Create inserts b inside a transaction serialized per trainer and date. check
// sees the non-cancelled bookings of that trainer and date and can veto the insert.
func (r *Repository) Create(ctx context.Context, b Booking, check func(existing []Booking) error) (Booking, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return Booking{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, dayKey(b.TrainerID, b.Date)); err != nil {
		return Booking{}, fmt.Errorf("advisory lock: %w", err)
	}

	var existing []Booking
	if err := tx.SelectContext(ctx, &existing, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE trainer_id = $1 AND booking_date = $2::date AND status <> 'cancelled'
		ORDER BY start_minute
	`, b.TrainerID, b.Date); err != nil {
		return Booking{}, err
	}
	if err := check(existing); err != nil {
		return Booking{}, err
	}

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO bookings (id, trainer_id, member_id, class_name, booking_date, start_minute, end_minute, status)
		VALUES ($1, $2, $3, $4, $5::date, $6, $7, $8)
		RETURNING created_at
	`, b.ID, b.TrainerID, b.MemberID, b.ClassName, b.Date, int(b.Start), int(b.End), string(b.Status)).Scan(&b.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation {
			return Booking{}, ErrOverlapRace
		}
		return Booking{}, err
	}
	return b, tx.Commit()
}

// UpdateStatus moves a booking from one status to another; it returns false
// when the booking was not in status from.
func (r *Repository) UpdateStatus(ctx context.Context, id string, from, to Status) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE bookings SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func dayKey(trainerID, date string) string {
	return "booking:" + trainerID + ":" + date
}
