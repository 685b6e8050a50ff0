package domain

import "time"

// User is a dashboard account. One user owns many bots and may hold many
// concurrent observer registrations.
type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`

	IsVerified        bool    `json:"is_verified"`
	IsPremium         bool    `json:"is_premium"`
	VerificationToken *string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

// MaxBotsFor returns the bot limit for a plan. Free accounts are capped
// at a single bot; premium accounts are effectively unlimited.
func MaxBotsFor(u *User) int {
	if u != nil && u.IsPremium {
		return 99999
	}
	return 1
}
