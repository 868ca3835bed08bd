package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"time"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramNotifier sends messages via the Telegram Bot API.
type TelegramNotifier struct {
	BotToken string
	ChatID   string
	Remark   string
	Origin   Origin

	apiBase string
}

func (t *TelegramNotifier) Type() string { return "telegram" }

func (t *TelegramNotifier) Validate() error {
	if t.BotToken == "" {
		return errors.New("telegram: bot_token is required")
	}
	if t.ChatID == "" {
		return errors.New("telegram: chat_id is required")
	}
	return nil
}

func (t *TelegramNotifier) Send(ctx context.Context, msg Message) error {
	payload := map[string]interface{}{
		"chat_id":    t.ChatID,
		"text":       formatTelegramMessage(msg, t.Origin, t.Remark),
		"parse_mode": "HTML",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	base := t.apiBase
	if base == "" {
		base = telegramAPIBase
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", base, t.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func formatTelegramMessage(msg Message, origin Origin, remark string) string {
	var out string
	if remark != "" {
		out = fmt.Sprintf("📌 <b>[%s]</b>\n", html.EscapeString(remark))
	}
	out += fmt.Sprintf("<b>%s monitoring @ %s: %s</b>\n\n%s",
		html.EscapeString(origin.System),
		html.EscapeString(origin.Host),
		html.EscapeString(msg.Subject),
		html.EscapeString(msg.Body))
	return out
}
