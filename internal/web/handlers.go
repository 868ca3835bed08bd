package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/NSLS-II/sirepo-healthcheck/internal/config"
	"github.com/NSLS-II/sirepo-healthcheck/internal/status"
)

// EndpointView is one row of the status page and API.
type EndpointView struct {
	URL          string `json:"url"`
	State        string `json:"state"`
	Up           bool   `json:"up"`
	CheckedAt    string `json:"checked_at"`
	LastSeen     string `json:"last_seen,omitempty"`
	LastNotified string `json:"last_notified,omitempty"`
}

// PassView summarizes the last pass run by this process.
type PassView struct {
	RunID     string   `json:"run_id"`
	StartedAt string   `json:"started_at"`
	Duration  string   `json:"duration"`
	Subject   string   `json:"subject,omitempty"`
	Messages  []string `json:"messages,omitempty"`
}

// StatusView is the payload of /api/status and the data of the status page.
type StatusView struct {
	System      string         `json:"system"`
	Host        string         `json:"host"`
	GeneratedAt string         `json:"generated_at"`
	Endpoints   []EndpointView `json:"endpoints"`
	LastPass    *PassView      `json:"last_pass,omitempty"`
}

// StatusHandlers serve the persisted snapshot as HTML and JSON.
type StatusHandlers struct {
	cfgMgr    *config.Manager
	snapshots SnapshotSource
	reporter  Reporter
	tmpl      *TemplateRenderer
	host      string
	now       func() time.Time
}

func NewStatusHandlers(cfgMgr *config.Manager, snapshots SnapshotSource, reporter Reporter, tmpl *TemplateRenderer, host string) *StatusHandlers {
	return &StatusHandlers{
		cfgMgr:    cfgMgr,
		snapshots: snapshots,
		reporter:  reporter,
		tmpl:      tmpl,
		host:      host,
		now:       time.Now,
	}
}

func (h *StatusHandlers) StatusPage(w http.ResponseWriter, r *http.Request) {
	view, err := h.build(r)
	if err != nil {
		slog.Error("load snapshot for status page", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.tmpl.Render(w, "status.html", view)
}

func (h *StatusHandlers) APIStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.build(r)
	if err != nil {
		slog.Error("load snapshot for api", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "snapshot unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *StatusHandlers) build(r *http.Request) (StatusView, error) {
	cfg := h.cfgMgr.Get()
	loc := cfg.System.Location()

	snap, err := h.snapshots.Load(r.Context())
	if err != nil {
		return StatusView{}, err
	}

	view := StatusView{
		System:      cfg.System.Name,
		Host:        h.host,
		GeneratedAt: status.FormatTime(h.now(), loc),
		Endpoints:   make([]EndpointView, 0, len(snap)),
	}
	for _, id := range snap.Keys() {
		rec := snap[id]
		ev := EndpointView{
			URL:       id,
			State:     status.State(rec.Up),
			Up:        rec.Up,
			CheckedAt: status.FormatTime(rec.CheckedAt, loc),
		}
		if rec.LastSeen != nil {
			ev.LastSeen = status.FormatTime(*rec.LastSeen, loc)
		}
		if rec.LastNotified != nil {
			ev.LastNotified = status.FormatTime(*rec.LastNotified, loc)
		}
		view.Endpoints = append(view.Endpoints, ev)
	}

	if h.reporter != nil {
		if last := h.reporter.Latest(); last != nil {
			view.LastPass = &PassView{
				RunID:     last.RunID,
				StartedAt: status.FormatTime(last.StartedAt, loc),
				Duration:  last.Duration.Round(time.Millisecond).String(),
				Subject:   last.Result.Subject,
				Messages:  last.Result.Messages,
			}
		}
	}
	return view, nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
