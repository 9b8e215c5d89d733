package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// Telegram sends alerts through the Bot API sendMessage method. It is
// send-only; commands reach the engine through the console queue.
type Telegram struct {
	client   *resty.Client
	botToken string
	chatID   string
	minLevel Level
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// NewTelegram returns nil when the token or chat id is missing.
func NewTelegram(apiURL, botToken, chatID string, minLevel Level) *Telegram {
	if botToken == "" || chatID == "" {
		return nil
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(apiURL, "/")).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)
	return &Telegram{client: client, botToken: botToken, chatID: chatID, minLevel: minLevel}
}

func (t *Telegram) Notify(ctx context.Context, level Level, title, msg string) error {
	if level < t.minLevel {
		return nil
	}
	payload := map[string]any{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("%s *%s*\n\n%s", level.icon(), title, msg),
		"parse_mode": "Markdown",
	}

	var out telegramResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&out).
		SetError(&out).
		Post("/bot" + t.botToken + "/sendMessage")
	if err != nil {
		return errors.Wrap(err, "telegram sendMessage")
	}
	if resp.IsError() || !out.OK {
		return errors.Errorf("telegram sendMessage: status %d: %s", resp.StatusCode(), out.Description)
	}
	return nil
}
