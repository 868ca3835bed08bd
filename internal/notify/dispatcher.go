package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/NSLS-II/sirepo-healthcheck/internal/config"
	"github.com/NSLS-II/sirepo-healthcheck/internal/metrics"
)

// sendTimeout bounds a single delivery attempt.
const sendTimeout = 30 * time.Second

// Dispatcher fans a message out to every configured notifier.
type Dispatcher struct {
	notifiers []Notifier
}

// NewDispatcher creates a dispatcher over the given notifiers.
func NewDispatcher(notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{notifiers: notifiers}
}

// FromConfig builds a dispatcher from cfg.Notifiers. Entries with an unknown
// type or an invalid configuration are logged and skipped.
func FromConfig(cfg config.Config, origin Origin) *Dispatcher {
	var ns []Notifier
	for _, nc := range cfg.Notifiers {
		n := BuildNotifier(nc, origin)
		if n == nil {
			slog.Error("unknown notifier type", "type", nc.Type, "notifier_id", nc.ID)
			continue
		}
		if err := n.Validate(); err != nil {
			slog.Error("invalid notifier configuration, skipping", "notifier_id", nc.ID, "error", err)
			continue
		}
		ns = append(ns, n)
	}
	return NewDispatcher(ns...)
}

// Len returns the number of notifiers.
func (d *Dispatcher) Len() int { return len(d.notifiers) }

// Send delivers the message to all notifiers and returns how many succeeded.
// Failures are logged and never abort the fan-out.
func (d *Dispatcher) Send(ctx context.Context, subject, body string) int {
	if len(d.notifiers) == 0 {
		slog.Debug("no notifiers configured, dropping message", "subject", subject)
		return 0
	}

	msg := Message{Subject: subject, Body: body}
	delivered := 0
	for _, n := range d.notifiers {
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := n.Send(sendCtx, msg)
		cancel()

		metrics.ObserveNotification(n.Type(), err)
		if err != nil {
			slog.Error("notification send failed", "type", n.Type(), "subject", subject, "error", err)
			continue
		}
		slog.Info("notification sent", "type", n.Type(), "subject", subject)
		delivered++
	}
	return delivered
}

// SendFiles hands files to every notifier that implements FileSender.
func (d *Dispatcher) SendFiles(ctx context.Context, files []string) {
	if len(files) == 0 {
		return
	}
	for _, n := range d.notifiers {
		fs, ok := n.(FileSender)
		if !ok {
			continue
		}
		if err := fs.SendFiles(ctx, files); err != nil {
			slog.Error("file delivery failed", "type", n.Type(), "files", len(files), "error", err)
		}
	}
}

// BuildNotifier constructs a Notifier from a NotifierConfig. It returns nil
// for unknown types.
func BuildNotifier(nc config.NotifierConfig, origin Origin) Notifier {
	switch nc.Type {
	case config.NotifierEmail:
		return &EmailNotifier{
			Recipients: nc.Recipients,
			From:       nc.From,
			Host:       nc.SMTPHost,
			Port:       nc.SMTPPort,
			Origin:     origin,
		}
	case config.NotifierSlack:
		return NewSlackNotifier(nc.WebhookURL, nc.BotToken, nc.Channel, nc.Remark, origin)
	case config.NotifierTelegram:
		return &TelegramNotifier{
			BotToken: nc.BotToken,
			ChatID:   nc.ChatID,
			Remark:   nc.Remark,
			Origin:   origin,
		}
	case config.NotifierWebhook:
		method := nc.Method
		if method == "" {
			method = "POST"
		}
		return &WebhookNotifier{
			URL:    nc.URL,
			Method: method,
			Remark: nc.Remark,
			Origin: origin,
		}
	default:
		return nil
	}
}
