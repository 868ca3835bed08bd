package monitor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NSLS-II/sirepo-healthcheck/internal/config"
)

// RunnerFactory builds a runner for a configuration snapshot.
type RunnerFactory func(cfg config.Config) *Runner

// Scheduler runs passes on a fixed interval and rebuilds its runner when the
// configuration changes.
type Scheduler struct {
	cfgMgr  *config.Manager
	factory RunnerFactory

	mu       sync.Mutex
	runner   *Runner
	interval time.Duration

	latest   atomic.Pointer[PassReport]
	reset    chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(cfgMgr *config.Manager, factory RunnerFactory) *Scheduler {
	return &Scheduler{
		cfgMgr:  cfgMgr,
		factory: factory,
		reset:   make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

// Start runs a first pass immediately and then one per check interval.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.apply(s.cfgMgr.Get())
	onChange := s.cfgMgr.Subscribe()

	s.wg.Add(2)
	go s.loop(ctx)
	go s.watchChanges(onChange)
}

// Stop cancels an in-flight pass and waits for the scheduler goroutines to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// Latest returns the report of the last successful pass, or nil.
func (s *Scheduler) Latest() *PassReport {
	return s.latest.Load()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	s.tick(ctx)

	timer := time.NewTimer(s.currentInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.reset:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.currentInterval())
		case <-timer.C:
			s.tick(ctx)
			timer.Reset(s.currentInterval())
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	runner := s.runner
	s.mu.Unlock()

	report, err := runner.RunPass(ctx)
	if err != nil {
		slog.Error("monitoring pass failed", "error", err)
		return
	}
	s.latest.Store(report)
}

func (s *Scheduler) watchChanges(onChange <-chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case <-onChange:
			slog.Info("config changed, rebuilding runner")
			s.apply(s.cfgMgr.Get())
			select {
			case s.reset <- struct{}{}:
			default:
			}
		}
	}
}

func (s *Scheduler) apply(cfg config.Config) {
	runner := s.factory(cfg)
	interval := time.Duration(cfg.System.CheckInterval) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	s.mu.Lock()
	s.runner = runner
	s.interval = interval
	s.mu.Unlock()
}

func (s *Scheduler) currentInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}
