package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NSLS-II/sirepo-healthcheck/internal/config"
	"github.com/NSLS-II/sirepo-healthcheck/internal/storage"
)

type sentMessage struct {
	subject string
	body    string
}

type fakeDispatcher struct {
	mu    sync.Mutex
	sent  []sentMessage
	files []string
}

func (d *fakeDispatcher) Send(_ context.Context, subject, body string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sentMessage{subject, body})
	return 1
}

func (d *fakeDispatcher) SendFiles(_ context.Context, files []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files = append(d.files, files...)
}

func (d *fakeDispatcher) messages() []sentMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sentMessage(nil), d.sent...)
}

// statesProber reports the configured state for each endpoint; unknown endpoints are down.
type statesProber struct {
	mu     sync.Mutex
	states map[string]bool
}

func (p *statesProber) set(ep string, up bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[ep] = up
}

func (p *statesProber) Probe(_ context.Context, target string) ProbeResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.states[target] {
		return ProbeResult{Up: true, StatusCode: 200}
	}
	return ProbeResult{Up: false, StatusCode: 502, Error: "HTTP 502"}
}

func testConfig(t *testing.T, endpoints ...string) config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.System.Timezone = "UTC"
	cfg.Endpoints = endpoints
	cfg.Screenshots.OutputDir = t.TempDir()
	return cfg
}

type fixedClock struct{ t atomic.Pointer[time.Time] }

func newClock(t time.Time) *fixedClock {
	c := &fixedClock{}
	c.set(t)
	return c
}

func (c *fixedClock) set(t time.Time) { c.t.Store(&t) }
func (c *fixedClock) now() time.Time  { return *c.t.Load() }

func TestRunPassFirstRun(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	disp := &fakeDispatcher{}
	prober := &statesProber{states: map[string]bool{epA: true}}

	r := NewRunner(testConfig(t, epB, epA), store, disp, WithProber(prober), WithClock(newClock(t0).now))
	require.Nil(t, r.Latest())

	report, err := r.RunPass(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, report.RunID)
	require.Equal(t, SubjectStarted, report.Result.Subject)
	require.Equal(t, 1, report.Delivered)
	require.Same(t, report, r.Latest())

	require.Equal(t, []sentMessage{{
		subject: SubjectStarted,
		body:    "Monitoring started for:\n- " + epA + " (up)\n- " + epB + " (down)",
	}}, disp.messages())

	snap, err := r.Snapshot(context.Background())
	require.NoError(t, err)
	require.True(t, snap[epA].Up)
	require.False(t, snap[epB].Up)
	require.Equal(t, 1, store.Saves())
}

func TestRunPassSteadyStateAndTransition(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	disp := &fakeDispatcher{}
	prober := &statesProber{states: map[string]bool{epA: true, epB: true}}
	clock := newClock(t0)

	r := NewRunner(testConfig(t, epA, epB), store, disp, WithProber(prober), WithClock(clock.now))

	_, err := r.RunPass(context.Background())
	require.NoError(t, err)

	clock.set(t1)
	report, err := r.RunPass(context.Background())
	require.NoError(t, err)
	require.Empty(t, report.Result.Messages)
	require.Len(t, disp.messages(), 1)

	prober.set(epB, false)
	clock.set(t1.Add(10 * time.Minute))
	report, err = r.RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, SubjectStatus, report.Result.Subject)

	msgs := disp.messages()
	require.Len(t, msgs, 2)
	require.Equal(t, fmt.Sprintf("%s: status changed: up -> down (2024-05-01 08:20:00)", epB), msgs[1].body)
	require.Equal(t, 3, store.Saves())
}

func TestRunPassSaveFailureIsFatal(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	store.SaveErr = errors.New("disk full")
	disp := &fakeDispatcher{}

	r := NewRunner(testConfig(t, epA), store, disp,
		WithProber(&statesProber{states: map[string]bool{epA: true}}),
		WithClock(newClock(t0).now))

	report, err := r.RunPass(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, store.SaveErr)
	require.Contains(t, err.Error(), "save snapshot")
	require.Nil(t, report)
	require.Empty(t, disp.messages())
	require.Nil(t, r.Latest())
}

func TestRunPassCancelledContext(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	disp := &fakeDispatcher{}
	r := NewRunner(testConfig(t, epA), store, disp,
		WithProber(&statesProber{states: map[string]bool{}}),
		WithClock(newClock(t0).now))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.RunPass(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, store.Saves())
	require.Empty(t, disp.messages())
}

func TestRunPassBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	prober := ProberFunc(func(ctx context.Context, target string) ProbeResult {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return ProbeResult{Up: true}
	})

	var endpoints []string
	for i := 0; i < 8; i++ {
		endpoints = append(endpoints, fmt.Sprintf("https://m%d.example/", i))
	}
	cfg := testConfig(t, endpoints...)
	cfg.Probe.Workers = 2

	r := NewRunner(cfg, storage.NewMemoryStore(nil), &fakeDispatcher{}, WithProber(prober), WithClock(newClock(t0).now))
	report, err := r.RunPass(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Probes, 8)
	require.LessOrEqual(t, peak.Load(), int32(2))
}

type fakeCapturer struct {
	dir  string
	urls []string
}

func (c *fakeCapturer) Capture(_ context.Context, urls []string, dir string) ([]string, error) {
	c.dir = dir
	c.urls = urls
	var files []string
	for i := range urls {
		f := filepath.Join(dir, fmt.Sprintf("screenshot-%d.png", i))
		if err := os.WriteFile(f, []byte("png"), 0o600); err != nil {
			return files, err
		}
		files = append(files, f)
	}
	return files, nil
}

func TestRunPassScreenshots(t *testing.T) {
	for _, keep := range []bool{false, true} {
		t.Run(fmt.Sprintf("keep=%v", keep), func(t *testing.T) {
			cfg := testConfig(t, epA, epB)
			cfg.Screenshots.Keep = keep
			capturer := &fakeCapturer{}
			disp := &fakeDispatcher{}

			r := NewRunner(cfg, storage.NewMemoryStore(nil), disp,
				WithProber(&statesProber{states: map[string]bool{epA: true}}),
				WithCapturer(capturer),
				WithClock(newClock(t0).now))

			report, err := r.RunPass(context.Background())
			require.NoError(t, err)
			require.Len(t, report.Screenshots, 2)
			require.Equal(t, []string{epA, epB}, capturer.urls)
			require.Equal(t, filepath.Join(cfg.Screenshots.OutputDir, "2024-05-01T08.00.00"), capturer.dir)
			require.Equal(t, report.Screenshots, disp.files)

			_, statErr := os.Stat(capturer.dir)
			if keep {
				require.NoError(t, statErr)
			} else {
				require.True(t, os.IsNotExist(statErr))
			}
		})
	}
}

func TestRunPassNoScreenshotsWhenQuiet(t *testing.T) {
	capturer := &fakeCapturer{}
	disp := &fakeDispatcher{}
	prober := &statesProber{states: map[string]bool{epA: true}}
	clock := newClock(t0)

	r := NewRunner(testConfig(t, epA), storage.NewMemoryStore(nil), disp,
		WithProber(prober), WithCapturer(capturer), WithClock(clock.now))
	_, err := r.RunPass(context.Background())
	require.NoError(t, err)
	capturer.urls = nil

	clock.set(t1)
	report, err := r.RunPass(context.Background())
	require.NoError(t, err)
	require.Empty(t, report.Screenshots)
	require.Nil(t, capturer.urls)
}

func TestRunPassReminderAcrossFileStore(t *testing.T) {
	cfg, err := config.Decode([]byte(`{"endpoints": ["`+epA+`"]}`), config.FormatJSON)
	require.NoError(t, err)
	cfg.ApplyDefaults()
	cfg.System.Timezone = "UTC"
	require.Equal(t, 120*time.Minute, cfg.System.ReminderDuration())

	path := filepath.Join(t.TempDir(), "snapshot.json")
	store := storage.NewFileStore(path, time.UTC)
	disp := &fakeDispatcher{}
	clock := newClock(t0)
	r := NewRunner(cfg, store, disp, WithProber(&statesProber{states: map[string]bool{}}), WithClock(clock.now))

	report, err := r.RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, SubjectStarted, report.Result.Subject)

	clock.set(t0.Add(60 * time.Minute))
	report, err = r.RunPass(context.Background())
	require.NoError(t, err)
	require.Empty(t, report.Result.Messages)

	reminderAt := t0.Add(121 * time.Minute)
	clock.set(reminderAt)
	report, err = r.RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, SubjectReminder, report.Result.Subject)
	require.Equal(t, []string{
		epA + ": the server is down for more than 120 minutes (2024-05-01 10:01:00)",
	}, report.Result.Messages)

	snap, err := storage.NewFileStore(path, time.UTC).Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap[epA].LastNotified)
	require.True(t, snap[epA].LastNotified.Equal(reminderAt))
	require.True(t, snap[epA].CheckedAt.Equal(reminderAt))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Equal(t, raw[epA]["check_timestamp"], raw[epA]["last_notified"])

	clock.set(reminderAt.Add(10 * time.Minute))
	report, err = r.RunPass(context.Background())
	require.NoError(t, err)
	require.Empty(t, report.Result.Messages)

	msgs := disp.messages()
	require.Len(t, msgs, 2)
	require.Equal(t, SubjectReminder, msgs[1].subject)
}
