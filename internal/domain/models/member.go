// internal/domain/models/member.go
package models

import "time"

// Member records that a Telegram user was admitted to a chat with a
// verified email. One document per (chat, user); the email is unique
// across the whole collection because a single GetCourse account grants
// access to at most one chat.
type Member struct {
	ChatID    int64     `bson:"chat_id"`
	UserID    int64     `bson:"user_id"`
	Email     string    `bson:"email"` // folded (case/diacritics-insensitive)
	CreatedAt time.Time `bson:"created_at"`
}
