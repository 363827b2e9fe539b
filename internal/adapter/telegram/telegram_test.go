package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/revclaw/revclaw/internal/config"
	"github.com/revclaw/revclaw/internal/port/notifier"
)

// Compile-time interface check.
var _ notifier.Notifier = (*Notifier)(nil)

func TestNotifierName(t *testing.T) {
	n := NewNotifier(config.Telegram{})
	if n.Name() != "telegram" {
		t.Fatalf("expected 'telegram', got %q", n.Name())
	}
}

func TestSendNotConfigured(t *testing.T) {
	n := NewNotifier(config.Telegram{})
	err := n.Send(context.Background(), notifier.Notification{Title: "test"})
	if err != notifier.ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendAttachesDecisionButtons(t *testing.T) {
	var got sendMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottok/sendMessage" {
			t.Errorf("path = %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("unmarshal: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(config.Telegram{BotToken: "tok", ChatID: "42", APIBaseURL: srv.URL})
	err := n.Send(context.Background(), notifier.Notification{
		Title:    "Intent pending",
		Message:  "bot wants to publish",
		Approval: &notifier.Approval{Kind: "intent", ID: "i1"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got.ChatID != "42" {
		t.Errorf("chat_id = %q", got.ChatID)
	}
	if got.ReplyMarkup == nil || len(got.ReplyMarkup.InlineKeyboard) != 1 {
		t.Fatal("expected one row of decision buttons")
	}
	row := got.ReplyMarkup.InlineKeyboard[0]
	if len(row) != 2 {
		t.Fatalf("expected approve and deny buttons, got %d", len(row))
	}
	if row[0].CallbackData != "approve:intent:i1" {
		t.Errorf("approve callback = %q", row[0].CallbackData)
	}
	if row[1].CallbackData != "deny:intent:i1" {
		t.Errorf("deny callback = %q", row[1].CallbackData)
	}
}

func TestSendSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewNotifier(config.Telegram{BotToken: "tok", ChatID: "42", APIBaseURL: srv.URL})
	if err := n.Send(context.Background(), notifier.Notification{Title: "x"}); err == nil {
		t.Fatal("expected error on 400 response")
	}
}

func TestCallbackDataRoundTrip(t *testing.T) {
	data := CallbackData("approve", notifier.Approval{Kind: "plan", ID: "p-9"})
	decision, kind, id, err := ParseCallbackData(data)
	if err != nil {
		t.Fatalf("ParseCallbackData: %v", err)
	}
	if decision != "approve" || kind != "plan" || id != "p-9" {
		t.Errorf("got %s/%s/%s", decision, kind, id)
	}

	for _, bad := range []string{"", "approve", "approve:plan", "::", "a::b"} {
		if _, _, _, err := ParseCallbackData(bad); err == nil {
			t.Errorf("ParseCallbackData(%q): expected error", bad)
		}
	}
}
