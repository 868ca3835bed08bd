package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/time/rate"
)

// uploadInterval keeps file uploads under Slack's per-method rate limit.
const uploadInterval = 3 * time.Second

// SlackNotifier posts through an incoming webhook and, when a bot token and
// channel are configured, uploads files with the Web API.
type SlackNotifier struct {
	WebhookURL string
	BotToken   string
	Channel    string
	Remark     string
	Origin     Origin

	client  *slack.Client
	limiter *rate.Limiter
}

// NewSlackNotifier builds a Slack notifier. apiOptions are passed to the Web API client.
func NewSlackNotifier(webhookURL, botToken, channel, remark string, origin Origin, apiOptions ...slack.Option) *SlackNotifier {
	s := &SlackNotifier{
		WebhookURL: webhookURL,
		BotToken:   botToken,
		Channel:    channel,
		Remark:     remark,
		Origin:     origin,
		limiter:    rate.NewLimiter(rate.Every(uploadInterval), 1),
	}
	if botToken != "" {
		s.client = slack.New(botToken, apiOptions...)
	}
	return s
}

func (s *SlackNotifier) Type() string { return "slack" }

func (s *SlackNotifier) Validate() error {
	if s.WebhookURL == "" {
		return errors.New("slack: webhook_url is required")
	}
	if s.BotToken != "" && s.Channel == "" {
		return errors.New("slack: channel is required for file uploads")
	}
	return nil
}

func (s *SlackNotifier) Send(ctx context.Context, msg Message) error {
	text := formatSlackText(msg, s.Origin, s.Remark)
	payload := &slack.WebhookMessage{
		Text: text,
		Blocks: &slack.Blocks{
			BlockSet: []slack.Block{
				slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil),
			},
		},
	}
	if err := slack.PostWebhookContext(ctx, s.WebhookURL, payload); err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	return nil
}

// SendFiles uploads each file to the configured channel. Without a bot token it does nothing.
func (s *SlackNotifier) SendFiles(ctx context.Context, files []string) error {
	if s.client == nil {
		slog.Debug("slack bot token not configured, skipping file upload", "files", len(files))
		return nil
	}

	var errs []error
	for _, f := range files {
		if err := s.limiter.Wait(ctx); err != nil {
			return errors.Join(append(errs, err)...)
		}

		info, err := os.Stat(f)
		if err != nil {
			errs = append(errs, fmt.Errorf("slack: stat %s: %w", f, err))
			continue
		}
		base := filepath.Base(f)
		_, err = s.client.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
			Channel:  s.Channel,
			File:     f,
			FileSize: int(info.Size()),
			Filename: base,
			Title:    fmt.Sprintf("*%s* from '%s'", base, s.Origin.Host),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("slack: upload %s: %w", base, err))
			continue
		}
		slog.Info("uploaded file to slack", "file", base, "channel", s.Channel)
	}
	return errors.Join(errs...)
}

func formatSlackText(msg Message, origin Origin, remark string) string {
	text := fmt.Sprintf("*%s monitoring @ %s: %s*\n\n%s", origin.System, origin.Host, msg.Subject, msg.Body)
	if remark != "" {
		text = fmt.Sprintf("[%s] %s", remark, text)
	}
	return text
}
