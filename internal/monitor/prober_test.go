package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPProber(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantUp  bool
		wantErr string
	}{
		{
			name: "signature present",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`<script>var APP_VERSION = "2024.1";</script>`))
			},
			wantUp: true,
		},
		{
			name: "generic ok page",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("OK"))
			},
			wantUp:  false,
			wantErr: `signature "APP_VERSION" not found`,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "APP_VERSION", http.StatusBadGateway)
			},
			wantUp:  false,
			wantErr: "HTTP 502",
		},
		{
			name: "accepted status other than 200 rejected",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			},
			wantUp:  false,
			wantErr: "HTTP 204",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			res := NewHTTPProber("", nil, false).Probe(context.Background(), srv.URL)
			require.Equal(t, tc.wantUp, res.Up)
			require.Equal(t, tc.wantErr, res.Error)
		})
	}
}

func TestHTTPProberTimeoutIsDown(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := NewHTTPProber("", nil, false).Probe(ctx, srv.URL)
	require.False(t, res.Up)
	require.Contains(t, res.Error, "request failed")
}

func TestHTTPProberConnectionRefusedIsDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := NewHTTPProber("", nil, false).Probe(context.Background(), url)
	require.False(t, res.Up)
	require.NotEmpty(t, res.Error)
}

func TestHTTPProberCustomSignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<title>Raydata</title>"))
	}))
	defer srv.Close()

	require.True(t, NewHTTPProber("Raydata", nil, false).Probe(context.Background(), srv.URL).Up)
	require.False(t, NewHTTPProber("", nil, false).Probe(context.Background(), srv.URL).Up)
}
