package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"github.com/NSLS-II/sirepo-healthcheck/internal/config"
)

var testOrigin = Origin{System: "Sirepo", Host: "monitor-01"}

type recordingServer struct {
	mu     sync.Mutex
	method string
	path   string
	bodies [][]byte
}

func (r *recordingServer) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.method = req.Method
		r.path = req.URL.Path
		r.bodies = append(r.bodies, body)
		r.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte("ok"))
	}
}

func (r *recordingServer) last(t *testing.T) map[string]interface{} {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.bodies)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(r.bodies[len(r.bodies)-1], &out))
	return out
}

func TestSlackNotifierSend(t *testing.T) {
	rec := &recordingServer{}
	srv := httptest.NewServer(rec.handler(http.StatusOK))
	defer srv.Close()

	s := NewSlackNotifier(srv.URL+"/hook", "", "", "", testOrigin)
	require.NoError(t, s.Validate())
	require.NoError(t, s.Send(context.Background(), Message{
		Subject: "status changed",
		Body:    "https://a.example/: status changed: up -> down (2024-05-01 08:00:00)",
	}))

	got := rec.last(t)
	want := "*Sirepo monitoring @ monitor-01: status changed*\n\nhttps://a.example/: status changed: up -> down (2024-05-01 08:00:00)"
	require.Equal(t, want, got["text"])

	blocks, ok := got["blocks"].([]interface{})
	require.True(t, ok)
	require.Len(t, blocks, 1)
	block := blocks[0].(map[string]interface{})
	require.Equal(t, "section", block["type"])
	text := block["text"].(map[string]interface{})
	require.Equal(t, "mrkdwn", text["type"])
	require.Equal(t, want, text["text"])
}

func TestSlackNotifierSendError(t *testing.T) {
	srv := httptest.NewServer((&recordingServer{}).handler(http.StatusForbidden))
	defer srv.Close()

	s := NewSlackNotifier(srv.URL, "", "", "", testOrigin)
	err := s.Send(context.Background(), Message{Subject: "x", Body: "y"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "slack: post webhook")
}

func TestSlackNotifierValidate(t *testing.T) {
	require.Error(t, NewSlackNotifier("", "", "", "", testOrigin).Validate())
	require.Error(t, NewSlackNotifier("https://hooks.example/x", "xoxb-1", "", "", testOrigin).Validate())
	require.NoError(t, NewSlackNotifier("https://hooks.example/x", "xoxb-1", "#ops", "", testOrigin).Validate())
}

func TestSlackNotifierSendFilesWithoutToken(t *testing.T) {
	s := NewSlackNotifier("https://hooks.example/x", "", "", "", testOrigin)
	require.NoError(t, s.SendFiles(context.Background(), []string{"/does/not/exist.png"}))
}

func TestFormatSlackTextRemark(t *testing.T) {
	got := formatSlackText(Message{Subject: "reminder about down server", Body: "b"}, testOrigin, "prod")
	require.Equal(t, "[prod] *Sirepo monitoring @ monitor-01: reminder about down server*\n\nb", got)
}

func TestTelegramNotifierSend(t *testing.T) {
	rec := &recordingServer{}
	srv := httptest.NewServer(rec.handler(http.StatusOK))
	defer srv.Close()

	tg := &TelegramNotifier{BotToken: "123:abc", ChatID: "42", Origin: testOrigin, apiBase: srv.URL}
	require.NoError(t, tg.Validate())
	require.NoError(t, tg.Send(context.Background(), Message{Subject: "status changed", Body: "a <b> & c"}))

	require.Equal(t, "/bot123:abc/sendMessage", rec.path)
	got := rec.last(t)
	require.Equal(t, "42", got["chat_id"])
	require.Equal(t, "HTML", got["parse_mode"])
	require.Equal(t, "<b>Sirepo monitoring @ monitor-01: status changed</b>\n\na &lt;b&gt; &amp; c", got["text"])
}

func TestTelegramNotifierErrors(t *testing.T) {
	require.Error(t, (&TelegramNotifier{ChatID: "1"}).Validate())
	require.Error(t, (&TelegramNotifier{BotToken: "t"}).Validate())

	srv := httptest.NewServer((&recordingServer{}).handler(http.StatusBadRequest))
	defer srv.Close()
	tg := &TelegramNotifier{BotToken: "t", ChatID: "1", apiBase: srv.URL}
	require.ErrorContains(t, tg.Send(context.Background(), Message{}), "unexpected status 400")
}

func TestWebhookNotifierSend(t *testing.T) {
	rec := &recordingServer{}
	srv := httptest.NewServer(rec.handler(http.StatusAccepted))
	defer srv.Close()

	w := &WebhookNotifier{URL: srv.URL, Method: http.MethodPut, Remark: "staging", Origin: testOrigin}
	require.NoError(t, w.Validate())
	require.NoError(t, w.Send(context.Background(), Message{Subject: "monitored servers changed", Body: "line one\nline two"}))

	require.Equal(t, http.MethodPut, rec.method)
	got := rec.last(t)
	require.Equal(t, "Sirepo", got["system"])
	require.Equal(t, "monitor-01", got["host"])
	require.Equal(t, "monitored servers changed", got["subject"])
	require.Equal(t, "staging", got["remark"])
	require.Equal(t, []interface{}{"line one", "line two"}, got["events"])
}

func TestWebhookNotifierErrors(t *testing.T) {
	require.ErrorContains(t, (&WebhookNotifier{Method: "POST"}).Validate(), "no target url")
	require.ErrorContains(t, (&WebhookNotifier{URL: "http://x"}).Validate(), "no http method")

	srv := httptest.NewServer((&recordingServer{}).handler(http.StatusInternalServerError))
	defer srv.Close()
	w := &WebhookNotifier{URL: srv.URL, Method: http.MethodPost}
	require.ErrorContains(t, w.Send(context.Background(), Message{}), "receiver answered HTTP 500")
}

func TestEmailNotifierBuild(t *testing.T) {
	e := &EmailNotifier{
		Recipients: []string{"ops@example.com", "dev@example.com"},
		Host:       "localhost",
		Port:       25,
		Origin:     testOrigin,
	}
	require.NoError(t, e.Validate())

	m, err := e.build(Message{Subject: "monitoring started", Body: "Monitoring started for:\n- https://a.example/ (up)"})
	require.NoError(t, err)
	require.Equal(t, []string{"Sirepo: monitoring started"}, m.GetGenHeader(mail.HeaderSubject))
	from := m.GetFromString()
	require.Len(t, from, 1)
	require.Contains(t, from[0], "sirepo@monitor-01")
	require.Contains(t, from[0], "Sirepo Health Check")
	require.Len(t, m.GetToString(), 2)
}

func TestEmailNotifierValidateAndSendFailure(t *testing.T) {
	require.Error(t, (&EmailNotifier{Host: "localhost"}).Validate())
	require.Error(t, (&EmailNotifier{Recipients: []string{"a@example.com"}}).Validate())

	e := &EmailNotifier{Recipients: []string{"a@example.com"}, Host: "127.0.0.1", Port: 1, Origin: testOrigin}
	err := e.Send(context.Background(), Message{Subject: "s", Body: "b"})
	require.Error(t, err)
	require.True(t, strings.HasPrefix(err.Error(), "email:"))
}

type fakeNotifier struct {
	kind  string
	err   error
	sent  []Message
	files []string
}

func (f *fakeNotifier) Type() string    { return f.kind }
func (f *fakeNotifier) Validate() error { return nil }
func (f *fakeNotifier) Send(_ context.Context, msg Message) error {
	f.sent = append(f.sent, msg)
	return f.err
}

type fakeFileNotifier struct {
	fakeNotifier
}

func (f *fakeFileNotifier) SendFiles(_ context.Context, files []string) error {
	f.files = append(f.files, files...)
	return errors.New("upload rejected")
}

func TestDispatcherSend(t *testing.T) {
	failing := &fakeNotifier{kind: "email", err: errors.New("smtp down")}
	ok := &fakeNotifier{kind: "slack"}
	d := NewDispatcher(failing, ok)

	delivered := d.Send(context.Background(), "status changed", "body")
	require.Equal(t, 1, delivered)
	require.Len(t, failing.sent, 1)
	require.Equal(t, []Message{{Subject: "status changed", Body: "body"}}, ok.sent)
}

func TestDispatcherSendNoNotifiers(t *testing.T) {
	require.Equal(t, 0, NewDispatcher().Send(context.Background(), "s", "b"))
}

func TestDispatcherSendFiles(t *testing.T) {
	plain := &fakeNotifier{kind: "email"}
	files := &fakeFileNotifier{fakeNotifier{kind: "slack"}}
	d := NewDispatcher(plain, files)

	d.SendFiles(context.Background(), []string{"/tmp/a.png", "/tmp/b.png"})
	require.Equal(t, []string{"/tmp/a.png", "/tmp/b.png"}, files.files)

	d.SendFiles(context.Background(), nil)
	require.Len(t, files.files, 2)
}

func TestFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Notifiers = []config.NotifierConfig{
		{ID: "mail", Type: config.NotifierEmail, Recipients: []string{"ops@example.com"}, SMTPHost: "localhost", SMTPPort: 25},
		{ID: "chat", Type: config.NotifierSlack, WebhookURL: "https://hooks.example/x"},
		{ID: "tg", Type: config.NotifierTelegram},
		{ID: "hook", Type: config.NotifierWebhook, URL: "https://hooks.example/y"},
		{ID: "pager", Type: "pagerduty"},
	}

	d := FromConfig(cfg, testOrigin)
	require.Equal(t, 3, d.Len())
}

func TestBuildNotifierWebhookDefaultsMethod(t *testing.T) {
	n := BuildNotifier(config.NotifierConfig{Type: config.NotifierWebhook, URL: "http://x"}, testOrigin)
	require.Equal(t, "POST", n.(*WebhookNotifier).Method)
	require.Nil(t, BuildNotifier(config.NotifierConfig{Type: "sms"}, testOrigin))
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	l := &LogNotifier{Out: &buf, Origin: testOrigin}
	require.NoError(t, l.Validate())
	require.NoError(t, l.Send(context.Background(), Message{Subject: "monitoring started", Body: "Monitoring started for:"}))
	require.NoError(t, l.SendFiles(context.Background(), []string{"/tmp/shots/screenshot-1-a.png"}))

	require.Equal(t, "Sirepo monitoring @ monitor-01: monitoring started\n\nMonitoring started for:\nscreenshot: screenshot-1-a.png\n", buf.String())
	require.Error(t, (&LogNotifier{}).Validate())
}
