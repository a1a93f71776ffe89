// internal/app/store/members/memberstore.go
package memberstore

import (
	"context"
	"errors"
	"time"

	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/yerlanov/chatgate/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// ErrDuplicateEmail is returned when the email is already registered for
// any (chat, user) pair. One email admits one person to one chat.
var ErrDuplicateEmail = errors.New("email is already registered")

// Store manages the members collection: one document per admitted
// (chat, user) with the verified email.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("members")}
}

// EmailExists reports whether any member anywhere holds this email.
// Callers must pass an already-folded email.
func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	err := s.c.FindOne(ctx, bson.M{"email": email}).Err()
	if err == nil {
		return true, nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	return false, err
}

// Add inserts a membership record. The unique index on email turns a
// lost duplicate race into ErrDuplicateEmail rather than a second record.
func (s *Store) Add(ctx context.Context, chatID, userID int64, email string) error {
	doc := models.Member{
		ChatID:    chatID,
		UserID:    userID,
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.c.InsertOne(ctx, doc); err != nil {
		if wafflemongo.IsDup(err) {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}

// Remove deletes the membership record for (chatID, userID).
func (s *Store) Remove(ctx context.Context, chatID, userID int64) error {
	_, err := s.c.DeleteOne(ctx, bson.M{"chat_id": chatID, "user_id": userID})
	return err
}

// ListByChat returns all members recorded for a chat.
func (s *Store) ListByChat(ctx context.Context, chatID int64) ([]models.Member, error) {
	cur, err := s.c.Find(ctx, bson.M{"chat_id": chatID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Member
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
