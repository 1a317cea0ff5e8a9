package repositories

import (
	"context"
	"database/sql"
	"errors"

	"dayflow/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

type UserRepository interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
	FindByTelegramChat(ctx context.Context, chatID int64) (*models.User, error)
	SetTelegramChat(ctx context.Context, id int64, chatID int64) error
}

type userRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, email, name, timezone, telegram_chat_id, created_at`

func (r *userRepository) FindByID(ctx context.Context, id int64) (*models.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (r *userRepository) FindByTelegramChat(ctx context.Context, chatID int64) (*models.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE telegram_chat_id = $1`, chatID)
	return scanUser(row)
}

func (r *userRepository) SetTelegramChat(ctx context.Context, id int64, chatID int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET telegram_chat_id = $1 WHERE id = $2`, chatID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Timezone, &u.TelegramChatID, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}
