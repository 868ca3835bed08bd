package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// webhookTimeout bounds a single delivery attempt.
const webhookTimeout = 10 * time.Second

// webhookEvent is the document delivered to the receiver. Events holds the
// body split into one entry per monitor message.
type webhookEvent struct {
	System    string   `json:"system"`
	Host      string   `json:"host"`
	Subject   string   `json:"subject"`
	Body      string   `json:"body"`
	Events    []string `json:"events"`
	Remark    string   `json:"remark,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// WebhookNotifier delivers each notification as a JSON document to a
// user-configured URL using the configured HTTP method.
type WebhookNotifier struct {
	URL    string
	Method string
	Remark string
	Origin Origin
}

func (w *WebhookNotifier) Type() string { return "webhook" }

func (w *WebhookNotifier) Validate() error {
	switch {
	case w.URL == "":
		return errors.New("webhook: no target url configured")
	case w.Method == "":
		return errors.New("webhook: no http method configured")
	}
	return nil
}

func (w *WebhookNotifier) Send(ctx context.Context, msg Message) error {
	doc, err := json.Marshal(webhookEvent{
		System:    w.Origin.System,
		Host:      w.Origin.Host,
		Subject:   msg.Subject,
		Body:      msg.Body,
		Events:    strings.Split(msg.Body, "\n"),
		Remark:    w.Remark,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("webhook: encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, w.Method, w.URL, bytes.NewReader(doc))
	if err != nil {
		return fmt.Errorf("webhook: build %s request: %w", w.Method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{Timeout: webhookTimeout}).Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver to %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook: receiver answered HTTP %d", resp.StatusCode)
	}
	return nil
}
