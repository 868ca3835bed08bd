package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/NSLS-II/sirepo-healthcheck/internal/config"
	"github.com/NSLS-II/sirepo-healthcheck/internal/metrics"
	"github.com/NSLS-II/sirepo-healthcheck/internal/screenshot"
	"github.com/NSLS-II/sirepo-healthcheck/internal/status"
	"github.com/NSLS-II/sirepo-healthcheck/internal/storage"
)

const defaultTimeout = 10 * time.Second

// Dispatcher delivers the notification produced by a pass.
type Dispatcher interface {
	Send(ctx context.Context, subject, body string) int
	SendFiles(ctx context.Context, files []string)
}

// PassReport summarizes one monitoring pass.
type PassReport struct {
	RunID       string
	StartedAt   time.Time
	Duration    time.Duration
	Probes      map[string]ProbeResult
	Result      Result
	Delivered   int
	Screenshots []string
}

// Runner performs one monitoring pass: probe, reconcile, persist, notify.
type Runner struct {
	endpoints  []string
	store      storage.Store
	dispatcher Dispatcher
	prober     Prober
	capturer   screenshot.Capturer
	engine     Engine
	workers    int
	timeout    time.Duration
	shotRoot   string
	keepShots  bool
	now        func() time.Time
	latest     atomic.Pointer[PassReport]
}

// Option configures a Runner.
type Option func(*Runner)

// WithProber replaces the HTTP prober built from config.
func WithProber(p Prober) Option {
	return func(r *Runner) { r.prober = p }
}

// WithCapturer enables screenshots after passes that produced messages.
func WithCapturer(c screenshot.Capturer) Option {
	return func(r *Runner) { r.capturer = c }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner builds a runner from cfg. cfg is expected to have defaults applied.
func NewRunner(cfg config.Config, store storage.Store, dispatcher Dispatcher, opts ...Option) *Runner {
	endpoints := append([]string(nil), cfg.Endpoints...)
	sort.Strings(endpoints)

	r := &Runner{
		endpoints:  endpoints,
		store:      store,
		dispatcher: dispatcher,
		prober:     NewHTTPProber(cfg.Probe.Signature, cfg.Probe.AcceptStatus, cfg.Probe.IgnoreTLS),
		engine: Engine{
			ReminderPeriod: cfg.System.ReminderDuration(),
			Location:       cfg.System.Location(),
		},
		workers:   cfg.Probe.Workers,
		timeout:   cfg.Probe.TimeoutDuration(),
		shotRoot:  cfg.Screenshots.OutputDir,
		keepShots: cfg.Screenshots.Keep,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.workers <= 0 {
		r.workers = 1
	}
	if r.timeout <= 0 {
		r.timeout = defaultTimeout
	}
	return r
}

// Latest returns the report of the last successful pass, or nil.
func (r *Runner) Latest() *PassReport {
	return r.latest.Load()
}

// RunPass executes one pass. A persistence failure is returned and no
// notification is sent; notification and screenshot failures are only logged.
func (r *Runner) RunPass(ctx context.Context) (*PassReport, error) {
	report := &PassReport{
		RunID:     uuid.NewString(),
		StartedAt: r.now(),
	}
	log := slog.With("run_id", report.RunID)
	log.Info("pass started", "endpoints", len(r.endpoints))

	report.Probes = r.probeAll(ctx, log)
	if err := ctx.Err(); err != nil {
		metrics.ObservePass(err, report.StartedAt, 0)
		return nil, fmt.Errorf("pass interrupted: %w", err)
	}

	previous, err := r.store.Load(ctx)
	if err != nil {
		metrics.ObservePass(err, report.StartedAt, 0)
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if previous == nil {
		log.Info("no previous snapshot, treating as first run")
	}

	current := make(map[string]bool, len(report.Probes))
	for id, res := range report.Probes {
		current[id] = res.Up
	}
	report.Result = r.engine.Reconcile(current, previous, report.StartedAt)

	if err := r.store.Save(ctx, report.Result.Snapshot); err != nil {
		metrics.ObservePass(err, report.StartedAt, 0)
		return nil, fmt.Errorf("save snapshot: %w", err)
	}

	for id := range previous {
		if _, ok := current[id]; !ok {
			metrics.ForgetEndpoint(id)
		}
	}

	if len(report.Result.Messages) > 0 {
		body := strings.Join(report.Result.Messages, "\n")
		log.Info("notifying", "subject", report.Result.Subject, "messages", len(report.Result.Messages))
		report.Delivered = r.dispatcher.Send(ctx, report.Result.Subject, body)
		report.Screenshots = r.screenshots(ctx, log, report.StartedAt)
	} else {
		log.Debug("nothing to report")
	}

	report.Duration = r.now().Sub(report.StartedAt)
	metrics.ObservePass(nil, report.StartedAt, len(report.Result.Messages))
	r.latest.Store(report)
	log.Info("pass finished", "messages", len(report.Result.Messages), "duration", report.Duration)
	return report, nil
}

func (r *Runner) probeAll(ctx context.Context, log *slog.Logger) map[string]ProbeResult {
	var (
		mu      sync.Mutex
		results = make(map[string]ProbeResult, len(r.endpoints))
		g       errgroup.Group
	)
	g.SetLimit(r.workers)

	for _, ep := range r.endpoints {
		ep := ep
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()

			res := r.prober.Probe(probeCtx, ep)
			metrics.ObserveProbe(ep, res.Up, res.Latency)
			if !res.Up {
				log.Debug("probe failed", "endpoint", ep, "status_code", res.StatusCode, "error", res.Error)
			}

			mu.Lock()
			results[ep] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// screenshots captures every monitored endpoint and hands the files to the
// dispatcher. The per-pass directory is removed afterwards unless kept.
func (r *Runner) screenshots(ctx context.Context, log *slog.Logger, at time.Time) []string {
	if r.capturer == nil || len(r.endpoints) == 0 {
		return nil
	}

	dir, err := screenshot.PrepareDir(r.shotRoot, at)
	if err != nil {
		log.Error("screenshot directory", "error", err)
		return nil
	}
	if !r.keepShots {
		defer func() {
			if err := os.RemoveAll(dir); err != nil {
				log.Warn("cleanup screenshot directory", "dir", dir, "error", err)
			}
		}()
	}

	files, err := r.capturer.Capture(ctx, r.endpoints, dir)
	if err != nil {
		log.Error("screenshot capture", "error", err, "captured", len(files))
	}
	if len(files) > 0 {
		r.dispatcher.SendFiles(ctx, files)
	}
	return files
}

// Snapshot returns the persisted snapshot, primarily for status reporting.
func (r *Runner) Snapshot(ctx context.Context) (status.Snapshot, error) {
	return r.store.Load(ctx)
}
