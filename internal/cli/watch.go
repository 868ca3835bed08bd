package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/NSLS-II/sirepo-healthcheck/internal/metrics"
	"github.com/NSLS-II/sirepo-healthcheck/internal/monitor"
	"github.com/NSLS-II/sirepo-healthcheck/internal/web"
)

type WatchCmd struct {
	*BaseCmd
	listen   string
	noServer bool
}

func NewWatchCmd(base *BaseCmd) *cobra.Command {
	c := &WatchCmd{BaseCmd: base}

	cobraCmd := &cobra.Command{
		Use:   "watch",
		Short: "Run monitoring passes continuously and serve the status page",
		Long: `Runs a pass immediately and then every system.check_interval seconds.
The status server exposes /healthz, /api/status, /metrics and an HTML status
page on web.bind_address.

SIGHUP reloads the config file; SIGINT and SIGTERM shut down gracefully.`,
		Args: cobra.NoArgs,
		RunE: c.run,
	}
	cobraCmd.Flags().StringVar(&c.listen, "listen", "", "override web.bind_address")
	cobraCmd.Flags().BoolVar(&c.noServer, "no-server", false, "do not start the status server")
	return cobraCmd
}

func (c *WatchCmd) run(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr, err := c.load(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	cfg := mgr.Get()

	// The store is opened once; changing store settings requires a restart.
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	metrics.Register(reg)
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	scheduler := monitor.NewScheduler(mgr, c.runnerFactory(store, cmd.OutOrStdout()))
	scheduler.Start(ctx)
	slog.Info("watching endpoints", "endpoints", len(cfg.Endpoints), "interval_seconds", cfg.System.CheckInterval)

	stopCh := make(chan struct{})
	var srv *http.Server
	errCh := make(chan error, 1)
	if !c.noServer {
		addr := cfg.Web.BindAddress
		if c.listen != "" {
			addr = c.listen
		}
		router := web.NewRouter(web.Deps{
			Config:    mgr,
			Snapshots: store,
			Reporter:  scheduler,
			Gatherer:  reg,
			Host:      origin(cfg).Host,
		}, stopCh)
		srv = &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("status server listening", "address", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			slog.Info("received shutdown signal")
			break loop
		case <-hup:
			if err := mgr.Reload(); err != nil {
				slog.Error("config reload failed, keeping current config", "error", err)
			} else {
				slog.Info("config reloaded", "path", mgr.Path())
			}
		case err := <-errCh:
			runErr = fmt.Errorf("status server: %w", err)
			break loop
		}
	}

	close(stopCh)
	scheduler.Stop()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced shutdown", "error", err)
		}
	}

	slog.Info("healthcheck stopped")
	return runErr
}
