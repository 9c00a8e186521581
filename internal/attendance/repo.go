package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `r.id, r.member_id, COALESCE(m.name, ''), r.log_type, r.occurred_at, r.attended_type, r.class_id`

// LastRecord returns the member's most recent record on any day, or nil.
func (r *Repository) LastRecord(ctx context.Context, memberID string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records r
		LEFT JOIN members m ON m.id = r.member_id
		WHERE r.member_id = $1
		ORDER BY r.occurred_at DESC, r.created_at DESC
		LIMIT 1
	`, memberID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// RecordsBetween returns the member's records in [from, to), earliest first.
func (r *Repository) RecordsBetween(ctx context.Context, memberID string, from, to time.Time) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records r
		LEFT JOIN members m ON m.id = r.member_id
		WHERE r.member_id = $1 AND r.occurred_at >= $2 AND r.occurred_at < $3
		ORDER BY r.occurred_at ASC, r.created_at ASC
	`, memberID, from, to)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

// DayRecords returns every member's records in [from, to), earliest first.
func (r *Repository) DayRecords(ctx context.Context, from, to time.Time) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records r
		LEFT JOIN members m ON m.id = r.member_id
		WHERE r.occurred_at >= $1 AND r.occurred_at < $2
		ORDER BY r.occurred_at ASC, r.created_at ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

// AppendRecord inserts rec only if the member's latest record is still prevID.
func (r *Repository) AppendRecord(ctx context.Context, rec Record, prevID *string) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, member_id, log_type, occurred_at, attended_type, class_id)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE (
			SELECT id FROM attendance_records
			WHERE member_id = $2
			ORDER BY occurred_at DESC, created_at DESC
			LIMIT 1
		) IS NOT DISTINCT FROM $7
		ON CONFLICT DO NOTHING
	`, rec.ID, rec.MemberID, string(rec.LogType), rec.Timestamp.UTC(), string(rec.AttendedType), rec.ClassID, prevID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStale
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var rec Record
	var logType, attended string
	if err := row.Scan(&rec.ID, &rec.MemberID, &rec.MemberName, &logType, &rec.Timestamp, &attended, &rec.ClassID); err != nil {
		return Record{}, err
	}
	rec.LogType = LogType(logType)
	rec.AttendedType = AttendedType(attended)
	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
