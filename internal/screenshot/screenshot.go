// Package screenshot captures full-page images of monitored endpoints with a
// headless Chrome driven by chromedp.
package screenshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

const (
	// DirLayout names the per-pass subdirectory screenshots are written to.
	DirLayout = "2006-01-02T15.04.05"
	// FileLayout is the timestamp embedded in each screenshot file name.
	FileLayout = "20060102-150405"

	quality = 100
)

// Capturer writes one image per URL into dir and returns the files written.
type Capturer interface {
	Capture(ctx context.Context, urls []string, dir string) ([]string, error)
}

// ChromeCapturer drives a headless browser allocated per Capture call.
type ChromeCapturer struct {
	// Timeout bounds a single page load and capture.
	Timeout   time.Duration
	IgnoreTLS bool
	// ExecPath overrides browser discovery when set.
	ExecPath string

	now func() time.Time
}

// NewChromeCapturer returns a capturer with the given per-page timeout.
func NewChromeCapturer(timeout time.Duration, ignoreTLS bool) *ChromeCapturer {
	return &ChromeCapturer{Timeout: timeout, IgnoreTLS: ignoreTLS, now: time.Now}
}

func (c *ChromeCapturer) Capture(ctx context.Context, urls []string, dir string) ([]string, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.WindowSize(1280, 1024))
	if c.IgnoreTLS {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if c.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	// Start the browser up front so a missing binary fails once, not per URL.
	if err := chromedp.Run(browserCtx); err != nil {
		return nil, fmt.Errorf("screenshot: start browser: %w", err)
	}

	var (
		files []string
		errs  []error
	)
	for _, u := range urls {
		path := filepath.Join(dir, FileName(u, c.clock()))
		if err := c.capture(browserCtx, u, path); err != nil {
			slog.Warn("screenshot failed", "url", u, "error", err)
			errs = append(errs, err)
			continue
		}
		slog.Debug("screenshot captured", "url", u, "file", path)
		files = append(files, path)
	}
	return files, errors.Join(errs...)
}

func (c *ChromeCapturer) capture(browserCtx context.Context, target, path string) error {
	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		tabCtx, cancel = context.WithTimeout(tabCtx, c.Timeout)
		defer cancel()
	}

	var buf []byte
	if err := chromedp.Run(tabCtx,
		chromedp.Navigate(target),
		chromedp.FullScreenshot(&buf, quality),
	); err != nil {
		return fmt.Errorf("screenshot: %s: %w", target, err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("screenshot: write %s: %w", path, err)
	}
	return nil
}

func (c *ChromeCapturer) clock() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}

// PrepareDir creates a fresh timestamped directory under root.
func PrepareDir(root string, at time.Time) (string, error) {
	dir := filepath.Join(root, at.Format(DirLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("screenshot: create dir: %w", err)
	}
	return dir, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// FileName builds "screenshot-<timestamp>-<name>.png" where name is derived
// from the URL's host and path.
func FileName(rawURL string, at time.Time) string {
	name := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		name = u.Host + u.Path
	}
	name = strings.Trim(unsafeChars.ReplaceAllString(name, "_"), "_")
	if name == "" {
		name = "image"
	}
	return fmt.Sprintf("screenshot-%s-%s.png", at.Format(FileLayout), name)
}
