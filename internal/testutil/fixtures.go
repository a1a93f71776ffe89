package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/yerlanov/chatgate/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Fixtures provides helper methods for creating test data.
type Fixtures struct {
	db *mongo.Database
	t  *testing.T
}

// NewFixtures creates a new Fixtures instance for the given test database.
func NewFixtures(t *testing.T, db *mongo.Database) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t}
}

// DB returns the underlying database for direct access in tests.
func (f *Fixtures) DB() *mongo.Database {
	return f.db
}

// CreateMember inserts a membership record. The email is stored as given;
// callers fold it themselves when the test needs the canonical form.
func (f *Fixtures) CreateMember(ctx context.Context, chatID, userID int64, email string) models.Member {
	f.t.Helper()

	m := models.Member{
		ChatID:    chatID,
		UserID:    userID,
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := f.db.Collection("members").InsertOne(ctx, m); err != nil {
		f.t.Fatalf("failed to create test member: %v", err)
	}
	return m
}

// CreatePendingNotification inserts a deferred notification record.
func (f *Fixtures) CreatePendingNotification(ctx context.Context, userID int64, message string, sendAt time.Time) models.PendingNotification {
	f.t.Helper()

	n := models.PendingNotification{
		ID:        primitive.NewObjectID(),
		UserID:    userID,
		Message:   message,
		SendAt:    sendAt,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := f.db.Collection("pending_notifications").InsertOne(ctx, n); err != nil {
		f.t.Fatalf("failed to create test notification: %v", err)
	}
	return n
}
