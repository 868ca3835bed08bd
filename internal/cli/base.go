package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/NSLS-II/sirepo-healthcheck/internal/config"
	"github.com/NSLS-II/sirepo-healthcheck/internal/monitor"
	"github.com/NSLS-II/sirepo-healthcheck/internal/notify"
	"github.com/NSLS-II/sirepo-healthcheck/internal/screenshot"
	"github.com/NSLS-II/sirepo-healthcheck/internal/storage"
)

const (
	// DefaultConfigFile is used when neither --config nor EnvConfigFile is set.
	DefaultConfigFile = "healthcheck.json"
	EnvConfigFile     = "HEALTHCHECK_CONFIG"
)

// BaseCmd carries the global flags shared by every subcommand.
type BaseCmd struct {
	ConfigPath string
	LogLevel   string
	DryRun     bool
}

func defaultConfigPath() string {
	if p := os.Getenv(EnvConfigFile); p != "" {
		return p
	}
	return DefaultConfigFile
}

// load reads the configuration and installs the logger. --log-level wins
// over system.log_level.
func (b *BaseCmd) load(stderr io.Writer) (*config.Manager, error) {
	mgr, err := config.NewManager(b.ConfigPath)
	if err != nil {
		return nil, err
	}
	level := b.LogLevel
	if level == "" {
		level = mgr.Get().System.LogLevel
	}
	setupLogger(level, stderr)
	return mgr, nil
}

// openStore returns the configured snapshot store and a function releasing it.
func openStore(ctx context.Context, cfg config.Config) (storage.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.StorePostgres:
		ps, err := storage.NewPostgresStore(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return ps, ps.Close, nil
	case config.StoreFile, "":
		return storage.NewFileStore(cfg.Store.Path, cfg.System.Location()), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func origin(cfg config.Config) notify.Origin {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return notify.Origin{System: cfg.System.Name, Host: host}
}

// dispatcher delivers to the configured notifiers, or prints to out in dry-run mode.
func (b *BaseCmd) dispatcher(cfg config.Config, out io.Writer) *notify.Dispatcher {
	if b.DryRun {
		return notify.NewDispatcher(&notify.LogNotifier{Out: out, Origin: origin(cfg)})
	}
	return notify.FromConfig(cfg, origin(cfg))
}

// runnerFactory builds runners sharing store and writing dry-run output to out.
func (b *BaseCmd) runnerFactory(store storage.Store, out io.Writer) monitor.RunnerFactory {
	return func(cfg config.Config) *monitor.Runner {
		var opts []monitor.Option
		if cfg.Screenshots.Enabled {
			capturer := screenshot.NewChromeCapturer(time.Duration(cfg.Screenshots.Timeout)*time.Second, cfg.Probe.IgnoreTLS)
			opts = append(opts, monitor.WithCapturer(capturer))
		}
		return monitor.NewRunner(cfg, store, b.dispatcher(cfg, out), opts...)
	}
}
