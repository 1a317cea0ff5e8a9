package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrNoCalendarToken = errors.New("no calendar token stored for user")

// CalendarTokenRepository stores the per-user access/refresh token pair
// written by the external authorization flow. It implements
// calendar.TokenSource for the gateway's read path.
type CalendarTokenRepository interface {
	AccessToken(ctx context.Context, ownerID int64) (string, error)
	Save(ctx context.Context, ownerID int64, accessToken, refreshToken string, expiresAt time.Time) error
	Delete(ctx context.Context, ownerID int64) error
}

type calendarTokenRepository struct{ db *sql.DB }

func NewCalendarTokenRepository(db *sql.DB) CalendarTokenRepository {
	return &calendarTokenRepository{db: db}
}

func (r *calendarTokenRepository) AccessToken(ctx context.Context, ownerID int64) (string, error) {
	var token string
	err := r.db.QueryRowContext(ctx,
		`SELECT access_token FROM calendar_tokens WHERE owner_id = $1`, ownerID,
	).Scan(&token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNoCalendarToken
		}
		return "", err
	}
	return token, nil
}

func (r *calendarTokenRepository) Save(ctx context.Context, ownerID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO calendar_tokens (owner_id, access_token, refresh_token, expires_at, updated_at)
		VALUES ($1,$2,$3,$4,NOW())
		ON CONFLICT (owner_id) DO UPDATE SET
			access_token=EXCLUDED.access_token,
			refresh_token=EXCLUDED.refresh_token,
			expires_at=EXCLUDED.expires_at,
			updated_at=NOW()`,
		ownerID, accessToken, refreshToken, expiresAt)
	return err
}

func (r *calendarTokenRepository) Delete(ctx context.Context, ownerID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM calendar_tokens WHERE owner_id = $1`, ownerID)
	return err
}
