package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/NSLS-II/sirepo-healthcheck/internal/status"
)

// Store loads and saves the snapshot between passes.
type Store interface {
	// Load returns the persisted snapshot, or nil when none exists yet.
	Load(ctx context.Context) (status.Snapshot, error)
	// Save replaces the persisted snapshot.
	Save(ctx context.Context, snap status.Snapshot) error
}

// FileStore keeps the snapshot in a single JSON file.
type FileStore struct {
	path string
	loc  *time.Location
}

// NewFileStore returns a store backed by path. Datetime strings are rendered in loc.
func NewFileStore(path string, loc *time.Location) *FileStore {
	return &FileStore{path: path, loc: loc}
}

// Path returns the snapshot file location.
func (fs *FileStore) Path() string {
	return fs.path
}

// Load reads the snapshot file. A missing or malformed file yields a nil
// snapshot so the next pass starts over as a first run.
func (fs *FileStore) Load(_ context.Context) (status.Snapshot, error) {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Info("snapshot file not found, starting fresh", "path", fs.path)
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	snap, err := DecodeSnapshot(data)
	if err != nil {
		slog.Warn("ignoring unreadable snapshot", "path", fs.path, "error", err)
		return nil, nil
	}
	return snap, nil
}

// Save writes the snapshot atomically.
func (fs *FileStore) Save(_ context.Context, snap status.Snapshot) error {
	data, err := EncodeSnapshot(snap, fs.loc)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := atomicWrite(fs.path, data); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// atomicWrite writes data to a temp file next to filePath and renames it into place.
func atomicWrite(filePath string, data []byte) error {
	dir := filepath.Dir(filePath)
	tmp, err := os.CreateTemp(dir, filepath.Base(filePath)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	defer func() {
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
	tmp = nil

	return os.Rename(tmpName, filePath)
}
