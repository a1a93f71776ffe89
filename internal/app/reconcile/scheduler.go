// internal/app/reconcile/scheduler.go
package reconcile

import (
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler owns the single daily reconciliation cron entry. The entry
// can be re-armed in place when an admin reloads the access policy with
// a new check time; swap happens under a lock so there is never zero or
// two entries.
type Scheduler struct {
	cron *cron.Cron
	run  func()
	log  *zap.Logger

	mu    sync.Mutex
	entry cron.EntryID
}

func NewScheduler(run func(), logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		run:  run,
		log:  logger,
	}
}

// Start registers the daily entry with the given cron spec and starts
// the scheduler.
func (s *Scheduler) Start(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(spec, s.run)
	if err != nil {
		return err
	}
	s.entry = id
	s.cron.Start()
	s.log.Info("daily access check scheduled", zap.String("spec", spec))
	return nil
}

// Rearm replaces the daily entry with a new schedule. On a bad spec the
// old entry stays armed.
func (s *Scheduler) Rearm(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(spec, s.run)
	if err != nil {
		return err
	}
	s.cron.Remove(s.entry)
	s.entry = id
	s.log.Info("daily access check rescheduled", zap.String("spec", spec))
	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("daily access check scheduler stopped")
}
