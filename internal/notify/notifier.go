package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avetra/flowbot/pkg/schema"
)

// Notifier delivers a text summary to a workflow's owner. Implementations
// are injected wherever notifications are sent; a delivery failure is
// reported as an error but must never roll back or retry the run it was
// reporting on.
type Notifier interface {
	Notify(ctx context.Context, ownerID, text string) error
}

// LogNotifier writes notifications to the log. Used when no delivery
// transport is configured, and in tests.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, ownerID, text string) error {
	n.logger.InfoContext(ctx, "notification",
		slog.String("owner_id", ownerID),
		slog.String("text", text),
	)
	return nil
}

// TelegramNotifier delivers notifications via the Telegram Bot API.
// The owner ID is used as the chat ID.
type TelegramNotifier struct {
	token   string
	baseURL string
	client  *http.Client
}

const defaultTelegramBaseURL = "https://api.telegram.org"

// NewTelegramNotifier creates a TelegramNotifier for the given bot token.
// baseURL overrides the API host when non-empty (used by tests).
func NewTelegramNotifier(token, baseURL string) *TelegramNotifier {
	if baseURL == "" {
		baseURL = defaultTelegramBaseURL
	}
	return &TelegramNotifier{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *TelegramNotifier) Notify(ctx context.Context, ownerID, text string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.token)

	form := url.Values{}
	form.Set("chat_id", ownerID)
	form.Set("text", text)
	form.Set("parse_mode", "Markdown")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeNotify, "build sendMessage request: %s", err.Error()).WithCause(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeNotify, "sendMessage to %s: %s", ownerID, err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		var apiErr struct {
			Description string `json:"description"`
		}
		_ = json.Unmarshal(body, &apiErr)
		return schema.NewErrorf(schema.ErrCodeNotify,
			"sendMessage to %s: status %d: %s", ownerID, resp.StatusCode, apiErr.Description)
	}
	return nil
}
