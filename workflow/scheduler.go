package workflow

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Runner is one background loop owned by the scheduler.
type Runner interface {
	Run(ctx context.Context)
}

// Scheduler owns the background loops (queue worker, resync worker, webhook
// dispatcher) and stops them together on shutdown.
type Scheduler struct {
	Logger  *logrus.Logger
	runners []Runner

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(logger *logrus.Logger, runners ...Runner) *Scheduler {
	return &Scheduler{Logger: logger, runners: runners}
}

// Start launches every runner in its own goroutine. Calling Start twice is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for _, r := range s.runners {
		runner := r
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			runner.Run(runCtx)
		}()
	}
	if s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{
			"field":   "Scheduler",
			"runners": len(s.runners),
		}).Info("background workers started")
	}
}

// Stop cancels the runners and blocks until they drain their current tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	if s.Logger != nil {
		s.Logger.WithField("field", "Scheduler").Info("background workers stopped")
	}
}
