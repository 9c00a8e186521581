package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrRefreshRevoked is returned when a refresh token was never stored or was already used.
var ErrRefreshRevoked = errors.New("auth: refresh token revoked")

// Repository persists kiosks and refresh tokens.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// RegisterKiosk upserts a kiosk device and bumps last_seen.
func (r *Repository) RegisterKiosk(ctx context.Context, kioskID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO kiosks (id) VALUES ($1)
		ON CONFLICT (id) DO UPDATE SET last_seen = NOW()
	`, kioskID)
	return err
}

// SaveRefreshToken stores a refresh token for subject.
func (r *Repository) SaveRefreshToken(ctx context.Context, subject, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (subject, token, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, subject, token, expiresAt.UTC())
	return err
}

// ConsumeRefreshToken deletes a stored, unexpired refresh token. Each token
// can be exchanged once.
func (r *Repository) ConsumeRefreshToken(ctx context.Context, subject, token string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM refresh_tokens
		WHERE subject = $1 AND token = $2 AND expires_at > NOW()
	`, subject, token)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRefreshRevoked
	}
	return nil
}
