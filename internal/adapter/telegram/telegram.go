// Package telegram implements a notifier.Notifier for the Telegram Bot
// API, with inline approve/deny buttons for pending decisions.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/revclaw/revclaw/internal/config"
	"github.com/revclaw/revclaw/internal/port/notifier"
)

const (
	providerName      = "telegram"
	defaultAPIBaseURL = "https://api.telegram.org"
)

// Notifier sends notifications through the Telegram Bot API.
type Notifier struct {
	token      string
	chatID     string
	apiBaseURL string
	httpClient *http.Client
}

// NewNotifier creates a Telegram notifier from config. An empty bot
// token leaves the notifier unconfigured; Send then returns
// notifier.ErrNotConfigured.
func NewNotifier(cfg config.Telegram) *Notifier {
	base := cfg.APIBaseURL
	if base == "" {
		base = defaultAPIBaseURL
	}
	return &Notifier{
		token:      cfg.BotToken,
		chatID:     cfg.ChatID,
		apiBaseURL: base,
		httpClient: http.DefaultClient,
	}
}

func (n *Notifier) Name() string { return providerName }

// sendMessage is the Telegram Bot API sendMessage payload.
type sendMessage struct {
	ChatID      string          `json:"chat_id"`
	Text        string          `json:"text"`
	ParseMode   string          `json:"parse_mode,omitempty"`
	ReplyMarkup *inlineKeyboard `json:"reply_markup,omitempty"`
}

type inlineKeyboard struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// CallbackData encodes a decision button press. It round-trips through
// Telegram's callback_data field, which is capped at 64 bytes, so the
// format stays compact: "<decision>:<kind>:<id>".
func CallbackData(decision string, approval notifier.Approval) string {
	return fmt.Sprintf("%s:%s:%s", decision, approval.Kind, approval.ID)
}

// ParseCallbackData is the inverse of CallbackData.
func ParseCallbackData(data string) (decision, kind, id string, err error) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("malformed callback data %q", data)
	}
	return parts[0], parts[1], parts[2], nil
}

func (n *Notifier) Send(ctx context.Context, notification notifier.Notification) error {
	if n.token == "" || n.chatID == "" {
		return notifier.ErrNotConfigured
	}

	msg := sendMessage{
		ChatID: n.chatID,
		Text:   fmt.Sprintf("%s\n\n%s", notification.Title, notification.Message),
	}
	if notification.Approval != nil {
		msg.ReplyMarkup = &inlineKeyboard{
			InlineKeyboard: [][]inlineButton{{
				{Text: "Approve", CallbackData: CallbackData("approve", *notification.Approval)},
				{Text: "Deny", CallbackData: CallbackData("deny", *notification.Approval)},
			}},
		}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("telegram marshal: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBaseURL, n.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram API %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Update is the subset of the Telegram webhook update we consume:
// callback queries from the inline decision buttons.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// CallbackQuery carries a button press back to the server.
type CallbackQuery struct {
	ID   string `json:"id"`
	From struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	} `json:"from"`
	Data string `json:"data"`
}

// AnswerCallback acknowledges a callback query so the Telegram client
// stops showing its spinner.
func (n *Notifier) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if n.token == "" {
		return notifier.ErrNotConfigured
	}

	body, err := json.Marshal(map[string]string{
		"callback_query_id": callbackID,
		"text":              text,
	})
	if err != nil {
		return fmt.Errorf("telegram marshal: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/answerCallbackQuery", n.apiBaseURL, n.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram answer callback: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram API %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
