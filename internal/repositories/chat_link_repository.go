package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrLinkCodeInvalid = errors.New("link code invalid or expired")

// ChatLink is a one-time code binding a chat to an account. The user asks
// the API for a code while logged in and sends it to the bot with /link.
type ChatLink struct {
	ID        int64
	UserID    int64
	Code      string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

type ChatLinkRepository interface {
	Create(ctx context.Context, userID int64, code string, ttl time.Duration) (*ChatLink, error)
	UseByCode(ctx context.Context, code string) (*ChatLink, error)
}

type chatLinkRepository struct{ db *sql.DB }

func NewChatLinkRepository(db *sql.DB) ChatLinkRepository {
	return &chatLinkRepository{db: db}
}

func (r *chatLinkRepository) Create(ctx context.Context, userID int64, code string, ttl time.Duration) (*ChatLink, error) {
	expiresAt := time.Now().Add(ttl)

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO chat_links (user_id, code, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, code, expires_at, used, created_at
	`, userID, code, expiresAt)

	var l ChatLink
	if err := row.Scan(&l.ID, &l.UserID, &l.Code, &l.ExpiresAt, &l.Used, &l.CreatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

// UseByCode consumes the code atomically: the UPDATE only matches an
// unused, unexpired row, so two chats racing on one code cannot both win.
func (r *chatLinkRepository) UseByCode(ctx context.Context, code string) (*ChatLink, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE chat_links
		SET used = TRUE
		WHERE code = $1 AND used = FALSE AND expires_at > NOW()
		RETURNING id, user_id, code, expires_at, used, created_at
	`, code)

	var l ChatLink
	if err := row.Scan(&l.ID, &l.UserID, &l.Code, &l.ExpiresAt, &l.Used, &l.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLinkCodeInvalid
		}
		return nil, err
	}
	return &l, nil
}
