package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Manager handles loading, saving and broadcasting config changes.
type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	filePath string

	subMu sync.Mutex
	subs  []chan struct{}
}

// NewManager creates a Manager and loads config from the given file path.
// If the file does not exist, a default config is used (but not persisted).
// The encoding is chosen by extension: .yaml/.yml, .toml, anything else is JSON.
func NewManager(filePath string) (*Manager, error) {
	m := &Manager{
		filePath: filePath,
	}

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		slog.Warn("config file not found, using defaults", "path", filePath)
		m.cfg = DefaultConfig()
		return m, nil
	}

	cfg, err := m.load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	m.cfg = cfg
	return m, nil
}

// Path returns the file the manager reads from and writes to.
func (m *Manager) Path() string {
	return m.filePath
}

// Get returns a copy of the current config (safe for concurrent reads).
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Save validates, atomically writes config to disk, and broadcasts a change event.
func (m *Manager) Save(cfg Config) error {
	cfg.Version = CurrentConfigVersion
	cfg.ApplyDefaults()
	if err := validate(cfg); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.atomicWrite(cfg); err != nil {
		return fmt.Errorf("atomic write config: %w", err)
	}
	m.cfg = cfg
	m.broadcast()

	return nil
}

// Reload re-reads the config file and broadcasts a change event. On error the
// current config is kept.
func (m *Manager) Reload() error {
	cfg, err := m.load()
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}

	m.mu.Lock()
	m.cfg = cfg
	m.broadcast()
	m.mu.Unlock()
	return nil
}

// Subscribe returns a new channel that receives a signal whenever config changes.
// Each subscriber gets its own channel so multiple goroutines can independently
// listen for changes.
func (m *Manager) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()
	return ch
}

func (m *Manager) broadcast() {
	m.subMu.Lock()
	for _, ch := range m.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	m.subMu.Unlock()
}

func (m *Manager) load() (Config, error) {
	data, err := os.ReadFile(m.filePath)
	if err != nil {
		return Config{}, err
	}

	cfg, err := Decode(data, formatFor(m.filePath))
	if err != nil {
		return Config{}, err
	}

	cfg.ApplyDefaults()
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate accepts an empty endpoint list: every previously monitored
// endpoint is then reported as removed on the next pass.
func validate(cfg Config) error {
	err := cfg.Validate()
	if errors.Is(err, ErrNoEndpoints) {
		slog.Warn("config has no endpoints")
		return nil
	}
	return err
}

// Format is a config file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

// Decode parses raw config bytes without applying defaults.
func Decode(data []byte, format Format) (Config, error) {
	var cfg Config
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config YAML: %w", err)
		}
	case FormatTOML:
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, fmt.Errorf("parse config TOML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config JSON: %w", err)
		}
	}
	return cfg, nil
}

// Encode renders cfg in the given format.
func Encode(cfg Config, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(cfg)
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return json.MarshalIndent(cfg, "", "  ")
	}
}

func (m *Manager) atomicWrite(cfg Config) error {
	data, err := Encode(cfg, formatFor(m.filePath))
	if err != nil {
		return err
	}

	dir := filepath.Dir(m.filePath)
	tmp, err := os.CreateTemp(dir, "config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	defer func() {
		// Clean up temp file on failure
		if tmp != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	tmp = nil // prevent cleanup from double-closing

	return os.Rename(tmpName, m.filePath)
}
