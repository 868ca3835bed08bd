package monitor

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"
)

// DefaultSignature is the body marker that identifies a running application page.
const DefaultSignature = "APP_VERSION"

// maxBodyBytes bounds how much of a response body is scanned for the signature.
const maxBodyBytes = 4 << 20

// ProbeResult is the outcome of a single probe attempt.
type ProbeResult struct {
	Up         bool
	Latency    time.Duration
	StatusCode int
	Error      string
}

// Prober checks one endpoint. Implementations must report failures through
// ProbeResult rather than panicking; the deadline comes from ctx.
type Prober interface {
	Probe(ctx context.Context, target string) ProbeResult
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, target string) ProbeResult

func (f ProberFunc) Probe(ctx context.Context, target string) ProbeResult { return f(ctx, target) }

// HTTPProber issues a GET and requires an accepted status code and the
// liveness signature in the body.
type HTTPProber struct {
	Signature    string
	AcceptStatus []int
	client       *http.Client
}

// NewHTTPProber builds an HTTP prober. An empty signature falls back to
// DefaultSignature; an empty accept list means 200 and 302.
func NewHTTPProber(signature string, acceptStatus []int, ignoreTLS bool) *HTTPProber {
	if signature == "" {
		signature = DefaultSignature
	}
	if len(acceptStatus) == 0 {
		acceptStatus = []int{http.StatusOK, http.StatusFound}
	}
	transport := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{InsecureSkipVerify: ignoreTLS},
	}
	return &HTTPProber{
		Signature:    signature,
		AcceptStatus: acceptStatus,
		client:       &http.Client{Transport: transport},
	}
}

func (p *HTTPProber) Probe(ctx context.Context, target string) ProbeResult {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return ProbeResult{Up: false, Error: fmt.Sprintf("create request: %v", err)}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return ProbeResult{
			Up:      false,
			Latency: time.Since(start),
			Error:   fmt.Sprintf("request failed: %v", err),
		}
	}
	defer resp.Body.Close()

	if !slices.Contains(p.AcceptStatus, resp.StatusCode) {
		return ProbeResult{
			Up:         false,
			Latency:    time.Since(start),
			StatusCode: resp.StatusCode,
			Error:      fmt.Sprintf("HTTP %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	latency := time.Since(start)
	if err != nil {
		return ProbeResult{
			Up:         false,
			Latency:    latency,
			StatusCode: resp.StatusCode,
			Error:      fmt.Sprintf("read body: %v", err),
		}
	}

	if !bytes.Contains(body, []byte(p.Signature)) {
		return ProbeResult{
			Up:         false,
			Latency:    latency,
			StatusCode: resp.StatusCode,
			Error:      fmt.Sprintf("signature %q not found", p.Signature),
		}
	}

	return ProbeResult{Up: true, Latency: latency, StatusCode: resp.StatusCode}
}
