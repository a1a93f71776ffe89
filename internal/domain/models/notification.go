// internal/domain/models/notification.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PendingNotification is a message scheduled for future delivery to a
// user. The daily reconciliation enqueues one per revoked member, spaced
// one second apart, so the dispatcher never bursts the Telegram API.
type PendingNotification struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	UserID    int64              `bson:"user_id"`
	Message   string             `bson:"message"`
	SendAt    time.Time          `bson:"send_at"`
	CreatedAt time.Time          `bson:"created_at"`
}
