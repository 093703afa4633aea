package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler runs RunAll for a fixed set of organizations on a cron schedule.
// A tick that fires while the previous one is still running is skipped.
type Scheduler struct {
	o       *Orchestrator
	orgs    []string
	cron    *cron.Cron
	running sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	// onResult receives every tick's results; used by callers that report them.
	onResult func([]CycleResult, error)
}

// NewScheduler parses spec (standard five-field cron or a descriptor such
// as "@every 1h") and prepares a scheduler.
func NewScheduler(o *Orchestrator, spec string, orgs []string, onResult func([]CycleResult, error)) (*Scheduler, error) {
	s := &Scheduler{
		o:        o,
		orgs:     append([]string(nil), orgs...),
		cron:     cron.New(),
		onResult: onResult,
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins running on the schedule. Cycles started by the scheduler
// are canceled when ctx ends or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
}

// RunNow runs one tick immediately.
func (s *Scheduler) RunNow() {
	s.tick()
}

// Stop halts the schedule and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
}

func (s *Scheduler) tick() {
	if !s.running.TryLock() {
		s.o.logger.Warnf("scheduler: previous run still in progress, skipping")
		return
	}
	defer s.running.Unlock()

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	results, err := s.o.RunAll(ctx, s.orgs)
	if err != nil {
		s.o.logger.Warnf("scheduler: %v", err)
	}
	if s.onResult != nil {
		s.onResult(results, err)
	}
}
