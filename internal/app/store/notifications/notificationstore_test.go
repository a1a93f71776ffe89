// internal/app/store/notifications/notificationstore_test.go
package notificationstore

import (
	"testing"
	"time"

	"github.com/yerlanov/chatgate/internal/testutil"
)

func TestAddAndDueBy(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	store := New(db)
	base := time.Date(2026, time.March, 5, 9, 0, 0, 0, time.UTC)

	// Inserted out of order; DueBy must return them oldest first.
	if err := store.Add(ctx, 2, "later", base.Add(time.Second)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := store.Add(ctx, 1, "sooner", base); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := store.Add(ctx, 3, "future", base.Add(time.Hour)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	due, err := store.DueBy(ctx, base.Add(5*time.Second))
	if err != nil {
		t.Fatalf("DueBy: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("DueBy = %d records, want 2", len(due))
	}
	if due[0].UserID != 1 || due[1].UserID != 2 {
		t.Errorf("DueBy order = [%d %d], want [1 2]", due[0].UserID, due[1].UserID)
	}
	if due[0].Message != "sooner" {
		t.Errorf("message = %q, want %q", due[0].Message, "sooner")
	}
}

func TestRemove(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	fx := testutil.NewFixtures(t, db)
	sendAt := time.Now().UTC().Add(-time.Minute)
	n := fx.CreatePendingNotification(ctx, 1, "expired", sendAt)
	fx.CreatePendingNotification(ctx, 2, "expired", sendAt)

	store := New(db)
	if err := store.Remove(ctx, n.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	due, err := store.DueBy(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("DueBy: %v", err)
	}
	if len(due) != 1 || due[0].UserID != 2 {
		t.Errorf("remaining = %v, want only user 2", due)
	}

	// Removing twice is not an error.
	if err := store.Remove(ctx, n.ID); err != nil {
		t.Errorf("Remove again: %v", err)
	}
}
