package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"nifty-strangler/pkg/utils"
)

// WebhookNotifier posts notifications as JSON.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook channel.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns the channel name.
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// Send posts the notification.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	payload := map[string]interface{}{
		"type":      n.Kind,
		"title":     n.Title,
		"message":   n.Message,
		"data":      n.Data,
		"timestamp": n.At.Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "NiftyStrangler/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// TelegramNotifier sends notifications to one chat through a bot.
type TelegramNotifier struct {
	bot    *tgbot.BotAPI
	chatID int64
}

// NewTelegramNotifier authenticates the bot token.
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

// Name returns the channel name.
func (t *TelegramNotifier) Name() string {
	return "telegram"
}

// Send posts an HTML formatted message.
func (t *TelegramNotifier) Send(ctx context.Context, n Notification) error {
	msg := tgbot.NewMessage(t.chatID, telegramText(n))
	msg.ParseMode = tgbot.ModeHTML
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	return nil
}

func telegramText(n Notification) string {
	return fmt.Sprintf("<b>%s</b>\n\n%s", escapeHTML(n.Title), escapeHTML(n.Message))
}

// escapeHTML escapes HTML special characters for Telegram.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// TerminalNotifier prints notifications, ringing the bell for trade events.
type TerminalNotifier struct {
	mu   sync.Mutex
	w    io.Writer
	bell bool

	green  *color.Color
	red    *color.Color
	yellow *color.Color
	cyan   *color.Color
}

// NewTerminalNotifier writes to w.
func NewTerminalNotifier(w io.Writer, bell bool) *TerminalNotifier {
	return &TerminalNotifier{
		w:      w,
		bell:   bell,
		green:  color.New(color.FgGreen, color.Bold),
		red:    color.New(color.FgRed, color.Bold),
		yellow: color.New(color.FgYellow),
		cyan:   color.New(color.FgCyan),
	}
}

// Name returns the channel name.
func (t *TerminalNotifier) Name() string {
	return "terminal"
}

// Send prints the notification.
func (t *TerminalNotifier) Send(_ context.Context, n Notification) error {
	c := t.cyan
	ring := false
	switch n.Kind {
	case KindEntry:
		c, ring = t.green, true
	case KindExit:
		c, ring = t.yellow, true
	case KindUnwind, KindError:
		c, ring = t.red, true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if ring && t.bell {
		fmt.Fprint(t.w, "\a")
	}
	stamp := n.At.In(utils.IndiaLocation).Format("15:04:05")
	if _, err := c.Fprintf(t.w, "[%s] %s\n", stamp, n.Title); err != nil {
		return err
	}
	_, err := fmt.Fprintf(t.w, "           %s\n", strings.ReplaceAll(n.Message, "\n", "\n           "))
	return err
}
