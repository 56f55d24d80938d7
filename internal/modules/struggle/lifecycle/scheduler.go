package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron"
)

// Scheduler runs Sweep on a cron schedule. Overlapping runs are skipped.
type Scheduler struct {
	m    *Manager
	cron *cron.Cron

	mu      sync.Mutex
	running bool
	ctx     context.Context
}

func NewScheduler(m *Manager) *Scheduler {
	return &Scheduler{m: m, cron: cron.New()}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	spec := fmt.Sprintf("@every %s", s.m.cfg.SweepInterval)
	if err := s.cron.AddFunc(spec, s.tick); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", spec, err)
	}
	s.cron.Start()
	s.m.log.Info("lifecycle sweep scheduled", "interval", s.m.cfg.SweepInterval.String())
	return nil
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.m.log.Warn("previous sweep still running; skipping")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.m.log.Error("sweep panic", "panic", fmt.Sprint(r))
		}
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()
	if s.ctx.Err() != nil {
		return
	}
	s.m.Sweep(s.ctx)
}
