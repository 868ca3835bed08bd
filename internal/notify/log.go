package notify

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
)

// LogNotifier writes messages to a writer instead of delivering them. It backs --dry-run.
type LogNotifier struct {
	Out    io.Writer
	Origin Origin

	mu sync.Mutex
}

func (l *LogNotifier) Type() string { return "log" }

func (l *LogNotifier) Validate() error {
	if l.Out == nil {
		return fmt.Errorf("log: output writer is required")
	}
	return nil
}

func (l *LogNotifier) Send(_ context.Context, msg Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := fmt.Fprintf(l.Out, "%s monitoring @ %s: %s\n\n%s\n", l.Origin.System, l.Origin.Host, msg.Subject, msg.Body)
	return err
}

func (l *LogNotifier) SendFiles(_ context.Context, files []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range files {
		if _, err := fmt.Fprintf(l.Out, "screenshot: %s\n", filepath.Base(f)); err != nil {
			return err
		}
	}
	return nil
}
