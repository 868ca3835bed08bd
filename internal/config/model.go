package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

const CurrentConfigVersion = 1

// ErrNoEndpoints is returned by Validate when nothing is configured to monitor.
var ErrNoEndpoints = errors.New("no endpoints configured")

// Notifier types.
const (
	NotifierEmail    = "email"
	NotifierSlack    = "slack"
	NotifierTelegram = "telegram"
	NotifierWebhook  = "webhook"
)

// Store drivers.
const (
	StoreFile     = "file"
	StorePostgres = "postgres"
)

// Environment variables consulted for slack notifiers with empty fields.
const (
	EnvSlackWebhookURL = "SLACK_WEBHOOK_URL"
	EnvSlackBotToken   = "SLACK_BOT_TOKEN"
	EnvSlackChannel    = "SLACK_POSTING_CHANNEL"
)

// Config is the root configuration structure.
type Config struct {
	Version     int              `json:"version" yaml:"version" toml:"version"`
	System      SystemConfig     `json:"system" yaml:"system" toml:"system"`
	Probe       ProbeConfig      `json:"probe" yaml:"probe" toml:"probe"`
	Endpoints   []string         `json:"endpoints" yaml:"endpoints" toml:"endpoints"`
	Notifiers   []NotifierConfig `json:"notifiers" yaml:"notifiers" toml:"notifiers"`
	Screenshots ScreenshotConfig `json:"screenshots" yaml:"screenshots" toml:"screenshots"`
	Store       StoreConfig      `json:"store" yaml:"store" toml:"store"`
	Web         WebConfig        `json:"web" yaml:"web" toml:"web"`
}

type SystemConfig struct {
	// Name prefixes notification subjects, e.g. "Sirepo".
	Name           string `json:"name" yaml:"name" toml:"name"`
	LogLevel       string `json:"log_level" yaml:"log_level" toml:"log_level"`
	// Timezone is an IANA name. Empty means the host's local time.
	Timezone       string `json:"timezone,omitempty" yaml:"timezone,omitempty" toml:"timezone,omitempty"`
	// ReminderPeriod is in minutes. Zero means the default; negative disables reminders.
	ReminderPeriod int    `json:"reminder_period" yaml:"reminder_period" toml:"reminder_period"`
	CheckInterval  int    `json:"check_interval" yaml:"check_interval" toml:"check_interval"`    // seconds, watch mode only
}

type ProbeConfig struct {
	Timeout      int    `json:"timeout" yaml:"timeout" toml:"timeout"` // seconds
	Workers      int    `json:"workers" yaml:"workers" toml:"workers"`
	Signature    string `json:"signature" yaml:"signature" toml:"signature"`
	AcceptStatus []int  `json:"accept_status" yaml:"accept_status" toml:"accept_status"`
	IgnoreTLS    bool   `json:"ignore_tls" yaml:"ignore_tls" toml:"ignore_tls"`
}

type NotifierConfig struct {
	ID     string `json:"id" yaml:"id" toml:"id"`
	Type   string `json:"type" yaml:"type" toml:"type"`
	Remark string `json:"remark,omitempty" yaml:"remark,omitempty" toml:"remark,omitempty"`

	// email
	Recipients []string `json:"recipients,omitempty" yaml:"recipients,omitempty" toml:"recipients,omitempty"`
	From       string   `json:"from,omitempty" yaml:"from,omitempty" toml:"from,omitempty"`
	SMTPHost   string   `json:"smtp_host,omitempty" yaml:"smtp_host,omitempty" toml:"smtp_host,omitempty"`
	SMTPPort   int      `json:"smtp_port,omitempty" yaml:"smtp_port,omitempty" toml:"smtp_port,omitempty"`

	// slack
	WebhookURL string `json:"webhook_url,omitempty" yaml:"webhook_url,omitempty" toml:"webhook_url,omitempty"`
	Channel    string `json:"channel,omitempty" yaml:"channel,omitempty" toml:"channel,omitempty"`

	// slack (file uploads) and telegram
	BotToken string `json:"bot_token,omitempty" yaml:"bot_token,omitempty" toml:"bot_token,omitempty"`

	// telegram
	ChatID string `json:"chat_id,omitempty" yaml:"chat_id,omitempty" toml:"chat_id,omitempty"`

	// webhook
	URL    string `json:"url,omitempty" yaml:"url,omitempty" toml:"url,omitempty"`
	Method string `json:"method,omitempty" yaml:"method,omitempty" toml:"method,omitempty"`
}

type ScreenshotConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	OutputDir string `json:"output_dir" yaml:"output_dir" toml:"output_dir"`
	Timeout   int    `json:"timeout" yaml:"timeout" toml:"timeout"` // seconds per page
	Keep      bool   `json:"keep" yaml:"keep" toml:"keep"`
}

type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver" toml:"driver"`
	Path   string `json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty" toml:"dsn,omitempty"`
}

type WebConfig struct {
	BindAddress    string   `json:"bind_address" yaml:"bind_address" toml:"bind_address"`
	Username       string   `json:"username,omitempty" yaml:"username,omitempty" toml:"username,omitempty"`
	PasswordHash   string   `json:"password_hash,omitempty" yaml:"password_hash,omitempty" toml:"password_hash,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty" toml:"allowed_origins,omitempty"`
}

// AuthEnabled reports whether the status server requires basic auth.
func (w WebConfig) AuthEnabled() bool {
	return w.Username != "" && w.PasswordHash != ""
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Version: CurrentConfigVersion,
		System: SystemConfig{
			Name:           "Sirepo",
			LogLevel:       "info",
			Timezone:       detectTimezone(),
			ReminderPeriod: 120,
			CheckInterval:  300,
		},
		Probe: ProbeConfig{
			Timeout:      10,
			Workers:      8,
			Signature:    "APP_VERSION",
			AcceptStatus: []int{200, 302},
		},
		Endpoints: []string{},
		Notifiers: []NotifierConfig{},
		Screenshots: ScreenshotConfig{
			OutputDir: "/tmp/hw-sirepo-healthcheck-screenshots",
			Timeout:   60,
		},
		Store: StoreConfig{
			Driver: StoreFile,
			Path:   "sirepo_healthcheck.json",
		},
		Web: WebConfig{
			BindAddress: ":8080",
		},
	}
}

// ApplyDefaults fills zero-value fields with defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.System.Name == "" {
		c.System.Name = d.System.Name
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = d.System.LogLevel
	}
	if c.System.Timezone == "" {
		c.System.Timezone = detectTimezone()
	}
	if c.System.ReminderPeriod == 0 {
		c.System.ReminderPeriod = d.System.ReminderPeriod
	}
	if c.System.CheckInterval <= 0 {
		c.System.CheckInterval = d.System.CheckInterval
	}
	if c.Probe.Timeout <= 0 {
		c.Probe.Timeout = d.Probe.Timeout
	}
	if c.Probe.Workers <= 0 {
		c.Probe.Workers = d.Probe.Workers
	}
	if c.Probe.Signature == "" {
		c.Probe.Signature = d.Probe.Signature
	}
	if len(c.Probe.AcceptStatus) == 0 {
		c.Probe.AcceptStatus = d.Probe.AcceptStatus
	}
	if c.Endpoints == nil {
		c.Endpoints = []string{}
	}
	if c.Notifiers == nil {
		c.Notifiers = []NotifierConfig{}
	}
	if c.Screenshots.OutputDir == "" {
		c.Screenshots.OutputDir = d.Screenshots.OutputDir
	}
	if c.Screenshots.Timeout <= 0 {
		c.Screenshots.Timeout = d.Screenshots.Timeout
	}
	if c.Store.Driver == "" {
		c.Store.Driver = d.Store.Driver
	}
	if c.Store.Driver == StoreFile && c.Store.Path == "" {
		c.Store.Path = d.Store.Path
	}
	if c.Web.BindAddress == "" {
		c.Web.BindAddress = d.Web.BindAddress
	}

	for i := range c.Endpoints {
		c.Endpoints[i] = strings.TrimSpace(c.Endpoints[i])
	}

	for i := range c.Notifiers {
		n := &c.Notifiers[i]
		if n.ID == "" {
			n.ID = generateID()
		}
		switch n.Type {
		case NotifierSlack:
			if n.WebhookURL == "" {
				n.WebhookURL = os.Getenv(EnvSlackWebhookURL)
			}
			if n.BotToken == "" {
				n.BotToken = os.Getenv(EnvSlackBotToken)
			}
			if n.Channel == "" {
				n.Channel = os.Getenv(EnvSlackChannel)
			}
		case NotifierEmail:
			if n.SMTPHost == "" {
				n.SMTPHost = "localhost"
			}
			if n.SMTPPort <= 0 {
				n.SMTPPort = 25
			}
		case NotifierWebhook:
			if n.Method == "" {
				n.Method = "POST"
			}
		}
	}
}

// Location returns the configured timezone, falling back to the host's local time.
func (s SystemConfig) Location() *time.Location {
	if s.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ReminderDuration converts the reminder period from minutes. A negative
// period yields zero, which disables reminders.
func (s SystemConfig) ReminderDuration() time.Duration {
	if s.ReminderPeriod < 0 {
		return 0
	}
	return time.Duration(s.ReminderPeriod) * time.Minute
}

// TimeoutDuration converts the probe timeout from seconds.
func (p ProbeConfig) TimeoutDuration() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}

// detectTimezone returns the IANA name from TZ, or "" when the host zone
// comes from /etc/localtime and can only be used as time.Local.
func detectTimezone() string {
	name := time.Local.String()
	if name == "" || name == "Local" {
		return ""
	}
	return name
}

func generateID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Validate checks the config for logical errors.
func (c *Config) Validate() error {
	var errs []string

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.System.LogLevel] {
		errs = append(errs, fmt.Sprintf("system.log_level must be one of: debug, info, warn, error (got %q)", c.System.LogLevel))
	}
	if c.System.Timezone != "" {
		if _, err := time.LoadLocation(c.System.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("system.timezone %q is not a known location", c.System.Timezone))
		}
	}
	if c.System.CheckInterval < 5 {
		errs = append(errs, "system.check_interval must be >= 5 seconds")
	}
	if c.Probe.Timeout <= 0 {
		errs = append(errs, "probe.timeout must be > 0")
	} else if c.Probe.Timeout >= c.System.CheckInterval {
		errs = append(errs, fmt.Sprintf("probe.timeout (%d) must be < system.check_interval (%d)", c.Probe.Timeout, c.System.CheckInterval))
	}
	for _, code := range c.Probe.AcceptStatus {
		if code < 100 || code > 599 {
			errs = append(errs, fmt.Sprintf("probe.accept_status contains invalid HTTP status %d", code))
		}
	}

	seen := make(map[string]bool, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		prefix := fmt.Sprintf("endpoints[%d]", i)
		if u, err := url.Parse(ep); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, prefix+" must be a valid http(s) URL")
		}
		if seen[ep] {
			errs = append(errs, prefix+" is duplicate: "+ep)
		}
		seen[ep] = true
	}

	notifierIDs := make(map[string]bool, len(c.Notifiers))
	for i, n := range c.Notifiers {
		prefix := fmt.Sprintf("notifiers[%d]", i)
		if notifierIDs[n.ID] {
			errs = append(errs, prefix+".id is duplicate: "+n.ID)
		}
		notifierIDs[n.ID] = true

		switch n.Type {
		case NotifierEmail:
			if len(n.Recipients) == 0 {
				errs = append(errs, prefix+".recipients is required for email")
			}
		case NotifierSlack:
			if n.WebhookURL == "" {
				errs = append(errs, prefix+".webhook_url is required for slack (or set "+EnvSlackWebhookURL+")")
			}
			if n.BotToken != "" && n.Channel == "" {
				errs = append(errs, prefix+".channel is required when bot_token is set")
			}
		case NotifierTelegram:
			if n.BotToken == "" || n.ChatID == "" {
				errs = append(errs, prefix+".bot_token and chat_id are required for telegram")
			}
		case NotifierWebhook:
			if n.URL == "" {
				errs = append(errs, prefix+".url is required for webhook")
			}
		default:
			errs = append(errs, fmt.Sprintf("%s.type must be email, slack, telegram, or webhook (got %q)", prefix, n.Type))
		}
	}

	switch c.Store.Driver {
	case StoreFile:
		if c.Store.Path == "" {
			errs = append(errs, "store.path is required for the file driver")
		}
	case StorePostgres:
		if c.Store.DSN == "" {
			errs = append(errs, "store.dsn is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be file or postgres (got %q)", c.Store.Driver))
	}

	if (c.Web.Username == "") != (c.Web.PasswordHash == "") {
		errs = append(errs, "web.username and web.password_hash must be set together")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	if len(c.Endpoints) == 0 {
		return ErrNoEndpoints
	}
	return nil
}
