// internal/app/notify/dispatcher.go
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/yerlanov/chatgate/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// DefaultPollInterval is how often the pending queue is scanned.
const DefaultPollInterval = 10 * time.Second

// DefaultTolerance is how far ahead of schedule a notification may be
// delivered. Anything at or past its scheduled time is overdue and is
// delivered on the next poll, however late — downtime must not silently
// drop notices.
const DefaultTolerance = 5 * time.Second

// Sender delivers a direct message to a user.
type Sender interface {
	SendMessage(ctx context.Context, userID int64, text string) error
}

// Queue is the slice of the notification store the dispatcher needs.
type Queue interface {
	DueBy(ctx context.Context, cutoff time.Time) ([]models.PendingNotification, error)
	Remove(ctx context.Context, id primitive.ObjectID) error
}

// Dispatcher is a background worker that drains the deferred
// notification queue: deliver, then delete, at most once per record.
type Dispatcher struct {
	queue     Queue
	sender    Sender
	log       *zap.Logger
	interval  time.Duration
	tolerance time.Duration
	now       func() time.Time
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Non-positive interval or tolerance
// select the defaults.
func NewDispatcher(queue Queue, sender Sender, logger *zap.Logger, interval, tolerance time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Dispatcher{
		queue:     queue,
		sender:    sender,
		log:       logger,
		interval:  interval,
		tolerance: tolerance,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the background polling loop.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
	d.log.Info("notification dispatcher started",
		zap.Duration("interval", d.interval),
		zap.Duration("tolerance", d.tolerance))
}

// Stop signals the worker to stop and waits for it to finish.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.wg.Wait()
	d.log.Info("notification dispatcher stopped")
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			d.Dispatch(ctx)
			cancel()
		}
	}
}

// Dispatch delivers every notification due by now plus the tolerance
// window. A record is removed only after its send succeeded; a failed
// send leaves it queued for the next poll.
func (d *Dispatcher) Dispatch(ctx context.Context) {
	due, err := d.queue.DueBy(ctx, d.now().Add(d.tolerance))
	if err != nil {
		d.log.Error("scanning pending notifications failed", zap.Error(err))
		return
	}

	for _, n := range due {
		log := d.log.With(zap.Int64("user_id", n.UserID), zap.Time("send_at", n.SendAt))

		if err := d.sender.SendMessage(ctx, n.UserID, n.Message); err != nil {
			log.Warn("notification delivery failed, will retry next poll", zap.Error(err))
			continue
		}
		if err := d.queue.Remove(ctx, n.ID); err != nil {
			log.Error("removing delivered notification failed", zap.Error(err))
			continue
		}
		log.Info("deferred notification delivered")
	}
}
