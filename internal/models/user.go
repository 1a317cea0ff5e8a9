package models

import "time"

type User struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Timezone string `json:"timezone"`

	// Set once the account is linked to a chat via /link.
	TelegramChatID *int64 `json:"-"`

	CreatedAt time.Time `json:"created_at"`
}
