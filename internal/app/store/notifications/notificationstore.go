// internal/app/store/notifications/notificationstore.go
package notificationstore

import (
	"context"
	"time"

	"github.com/yerlanov/chatgate/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store manages the pending_notifications collection: the durable queue
// of messages scheduled by reconciliation and drained by the dispatcher.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("pending_notifications")}
}

// Add enqueues a notification for delivery at sendAt.
func (s *Store) Add(ctx context.Context, userID int64, message string, sendAt time.Time) error {
	doc := models.PendingNotification{
		UserID:    userID,
		Message:   message,
		SendAt:    sendAt.UTC(),
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.c.InsertOne(ctx, doc)
	return err
}

// DueBy returns every pending notification scheduled at or before the
// cutoff, oldest first, so catch-up after downtime delivers in order.
func (s *Store) DueBy(ctx context.Context, cutoff time.Time) ([]models.PendingNotification, error) {
	opts := options.Find().SetSort(bson.D{{Key: "send_at", Value: 1}})
	cur, err := s.c.Find(ctx, bson.M{"send_at": bson.M{"$lte": cutoff.UTC()}}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.PendingNotification
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Remove deletes a delivered notification by id.
func (s *Store) Remove(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
	return err
}
