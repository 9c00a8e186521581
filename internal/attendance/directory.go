package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// MemberByFace maps an enrolled face to its member.
func (r *Repository) MemberByFace(ctx context.Context, faceID string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM members WHERE face_id = $1`, faceID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoMatch
	}
	return id, err
}

// Subject loads the member's plan active at now and the class sessions they
// are enrolled in during [from, to) and have not attended yet.
func (r *Repository) Subject(ctx context.Context, memberID string, from, to, now time.Time) (Subject, error) {
	subj := Subject{MemberID: memberID}
	if err := r.db.QueryRowContext(ctx, `SELECT name FROM members WHERE id = $1`, memberID).Scan(&subj.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Subject{}, ErrNoMatch
		}
		return Subject{}, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT type FROM memberships
		WHERE member_id = $1 AND status = 'active' AND start_date <= $2 AND end_date >= $2
	`, memberID, now)
	if err != nil {
		return Subject{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		if err := rows.Scan(&typ); err != nil {
			return Subject{}, err
		}
		switch typ {
		case "monthly":
			subj.Plan.Monthly = true
		case "combative":
			subj.Plan.Combative = true
		}
	}
	if err := rows.Err(); err != nil {
		return Subject{}, err
	}

	sessRows, err := r.db.QueryContext(ctx, `
		SELECT class_id, session_date, start_minute, end_minute FROM enrollments
		WHERE member_id = $1 AND session_date >= $2::date AND session_date < $3::date
		  AND status = 'active' AND attendance_status <> 'attended'
		ORDER BY session_date, start_minute
	`, memberID, from.Format(time.DateOnly), to.Format(time.DateOnly))
	if err != nil {
		return Subject{}, err
	}
	defer sessRows.Close()
	for sessRows.Next() {
		var classID string
		var date time.Time
		var start, end int
		if err := sessRows.Scan(&classID, &date, &start, &end); err != nil {
			return Subject{}, err
		}
		subj.Sessions = append(subj.Sessions, sessionOn(classID, date, start, end, from.Location()))
	}
	return subj, sessRows.Err()
}

// sessionOn places a class session given in minutes past midnight on the
// wall clock of date in loc, so DST changes do not shift it.
func sessionOn(classID string, date time.Time, start, end int, loc *time.Location) Session {
	y, m, d := date.Date()
	return Session{
		ClassID: classID,
		Start:   time.Date(y, m, d, start/60, start%60, 0, 0, loc),
		End:     time.Date(y, m, d, end/60, end%60, 0, 0, loc),
	}
}

// MarkEnrollmentAttended flags the member's enrollments for classID in [from, to) as attended.
func (r *Repository) MarkEnrollmentAttended(ctx context.Context, memberID, classID string, from, to, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE enrollments
		SET attendance_status = 'attended', attended_at = $5
		WHERE member_id = $1 AND class_id = $2
		  AND session_date >= $3::date AND session_date < $4::date
		  AND attendance_status <> 'attended'
	`, memberID, classID, from.Format(time.DateOnly), to.Format(time.DateOnly), at.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
