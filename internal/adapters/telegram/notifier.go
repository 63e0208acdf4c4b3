// Package telegram delivers bot events to a Telegram chat via the Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"fibgrid/internal/domain"
	"fibgrid/internal/ports"
)

const defaultBaseURL = "https://api.telegram.org"

// Notifier implements ports.NotificationSink over the Telegram Bot API.
// Delivery is fire-and-forget: failures are logged, never propagated, so
// a Telegram outage cannot stall the evaluation cycle.
type Notifier struct {
	httpClient *http.Client
	logger     ports.Logger
	baseURL    string
	botToken   string
	chatID     string
	enabled    bool
	now        func() time.Time
}

// Config holds configuration specific to the Telegram notifier adapter.
type Config struct {
	BotToken string
	ChatID   string
	Enabled  bool
	Logger   ports.Logger
	Timeout  time.Duration // per-message HTTP timeout (e.g., 5 * time.Second)
	BaseURL  string        // API host override, used by tests
}

// New creates a new Telegram notifier adapter.
func New(cfg Config) (*Notifier, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Telegram notifier")
	}

	enabled := cfg.Enabled
	if enabled && (cfg.BotToken == "" || cfg.ChatID == "") {
		cfg.Logger.Warn(context.Background(), "Telegram notifications enabled but bot token or chat ID is missing, disabling")
		enabled = false
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Notifier{
		httpClient: &http.Client{Timeout: timeout},
		logger:     cfg.Logger,
		baseURL:    baseURL,
		botToken:   cfg.BotToken,
		chatID:     cfg.ChatID,
		enabled:    enabled,
		now:        time.Now,
	}, nil
}

// Notify renders the event and posts it to the configured chat.
func (n *Notifier) Notify(event ports.Event) {
	if !n.enabled {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.httpClient.Timeout)
	defer cancel()

	text := n.render(event)
	if text == "" {
		return
	}
	if err := n.sendMessage(ctx, text); err != nil {
		n.logger.Error(ctx, err, "Telegram notification failed", map[string]interface{}{"kind": event.Kind})
		return
	}
	n.logger.Debug(ctx, "Telegram notification sent", map[string]interface{}{"kind": event.Kind})
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

func (n *Notifier) sendMessage(ctx context.Context, text string) error {
	op := "SendMessage"

	payload, err := json.Marshal(sendMessageRequest{
		ChatID:    n.chatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("%s: encoding request: %w", op, err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: building request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ports.ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	var out sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", op, err)
	}
	if !out.OK {
		return fmt.Errorf("%s: telegram API error %d: %s", op, out.ErrorCode, out.Description)
	}
	return nil
}

// render produces the HTML message body for one event. Unknown kinds
// yield an empty string and are dropped.
func (n *Notifier) render(e ports.Event) string {
	ts := n.now().Format("2006-01-02 15:04:05")
	switch e.Kind {
	case ports.EventLevelFill:
		return renderLevelFill(e, ts)
	case ports.EventGridOpen:
		return renderGridOpen(e, ts)
	case ports.EventGridClose:
		return renderGridClose(e, ts)
	case ports.EventSafetyPause:
		return renderSafetyPause(e, ts)
	case ports.EventSafetyResume:
		return renderSafetyResume(e, ts)
	case ports.EventZoneChange:
		return renderZoneChange(e, ts)
	case ports.EventPositionLimit:
		return renderPositionLimit(e, ts)
	case ports.EventDailySummary:
		return renderDailySummary(e, ts)
	case ports.EventBotStatus:
		return renderBotStatus(e, ts)
	case ports.EventError:
		return renderError(e, ts)
	default:
		return ""
	}
}

func renderLevelFill(e ports.Event, ts string) string {
	emoji := "🟢"
	if e.Side == domain.Sell {
		emoji = "🔴"
	}
	b := &strings.Builder{}
	fmt.Fprintf(b, "%s <b>Level %s filled</b>\n\n", emoji, e.Side)
	fmt.Fprintf(b, "📊 <b>Symbol:</b> %s\n", html.EscapeString(e.Symbol))
	fmt.Fprintf(b, "💰 <b>Price:</b> $%.2f\n", e.Price)
	fmt.Fprintf(b, "📦 <b>Quantity:</b> %.0f\n", e.Quantity)
	fmt.Fprintf(b, "🎯 <b>Target position:</b> %d\n", e.Target)
	if e.Side == domain.Sell {
		fmt.Fprintf(b, "📈 <b>Realized PnL:</b> $%+.2f\n", e.PnL)
	}
	fmt.Fprintf(b, "\n⏰ %s", ts)
	return b.String()
}

func renderGridOpen(e ports.Event, ts string) string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "🟢 <b>Grid buy</b>\n\n")
	fmt.Fprintf(b, "📊 <b>Symbol:</b> %s\n", html.EscapeString(e.Symbol))
	fmt.Fprintf(b, "💰 <b>Price:</b> $%.2f\n", e.Price)
	fmt.Fprintf(b, "📦 <b>Quantity:</b> %.0f\n", e.Quantity)
	fmt.Fprintf(b, "📦 <b>Position:</b> %.0f\n", e.Position)
	if e.Reason != "" {
		fmt.Fprintf(b, "📉 <b>Trigger:</b> %s\n", html.EscapeString(e.Reason))
	}
	fmt.Fprintf(b, "\n⏰ %s", ts)
	return b.String()
}

func renderGridClose(e ports.Event, ts string) string {
	emoji := "💰"
	if e.PnL < 0 {
		emoji = "📉"
	}
	b := &strings.Builder{}
	fmt.Fprintf(b, "%s <b>Grid take-profit</b> %s\n\n", emoji, emoji)
	fmt.Fprintf(b, "📊 <b>Symbol:</b> %s\n", html.EscapeString(e.Symbol))
	fmt.Fprintf(b, "💵 <b>Exit price:</b> $%.2f\n", e.Price)
	fmt.Fprintf(b, "📦 <b>Quantity:</b> %.0f\n", e.Quantity)
	fmt.Fprintf(b, "📈 <b>Realized PnL:</b> $%+.2f\n", e.PnL)
	if e.Reason != "" {
		fmt.Fprintf(b, "📝 <b>Detail:</b> %s\n", html.EscapeString(e.Reason))
	}
	fmt.Fprintf(b, "\n⏰ %s", ts)
	return b.String()
}

func renderSafetyPause(e ports.Event, ts string) string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "🔴 <b>Trading paused</b> 🔴\n\n")
	fmt.Fprintf(b, "📊 <b>Price:</b> $%.2f\n", e.Price)
	fmt.Fprintf(b, "⚠️ %s\n\n", html.EscapeString(e.Reason))
	fmt.Fprintf(b, "❌ Resting orders canceled, waiting for the price to come back\n")
	fmt.Fprintf(b, "\n⏰ %s", ts)
	return b.String()
}

func renderSafetyResume(e ports.Event, ts string) string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "🟢 <b>Trading resumed</b> 🟢\n\n")
	fmt.Fprintf(b, "📊 <b>Price:</b> $%.2f\n", e.Price)
	fmt.Fprintf(b, "✅ %s\n", html.EscapeString(e.Reason))
	fmt.Fprintf(b, "\n⏰ %s", ts)
	return b.String()
}

func renderZoneChange(e ports.Event, ts string) string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "📊 <b>Zone change</b>\n\n")
	fmt.Fprintf(b, "💲 <b>Price:</b> $%.2f\n", e.Price)
	fmt.Fprintf(b, "📍 %s\n", html.EscapeString(e.Reason))
	fmt.Fprintf(b, "\n⏰ %s", ts)
	return b.String()
}

func renderPositionLimit(e ports.Event, ts string) string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "⚠️ <b>Position limit reached</b> ⚠️\n\n")
	fmt.Fprintf(b, "📊 <b>Symbol:</b> %s\n", html.EscapeString(e.Symbol))
	fmt.Fprintf(b, "📦 <b>Position:</b> %.0f\n", e.Position)
	fmt.Fprintf(b, "🚫 %s\n", html.EscapeString(e.Reason))
	fmt.Fprintf(b, "\n⏰ %s", ts)
	return b.String()
}

func renderDailySummary(e ports.Event, ts string) string {
	if e.Summary == nil {
		return ""
	}
	s := e.Summary
	pnlEmoji := "📈"
	if s.TotalPnL < 0 {
		pnlEmoji = "📉"
	}
	b := &strings.Builder{}
	fmt.Fprintf(b, "📊 <b>Daily summary</b> 📊\n\n")
	fmt.Fprintf(b, "📝 <b>Trades:</b> %d\n", s.Trades)
	fmt.Fprintf(b, "✅ <b>Wins:</b> %d\n", s.Wins)
	fmt.Fprintf(b, "❌ <b>Losses:</b> %d\n", s.Losses)
	fmt.Fprintf(b, "🎯 <b>Win rate:</b> %.1f%%\n", s.WinRate())
	fmt.Fprintf(b, "%s <b>Realized PnL:</b> $%+.2f\n", pnlEmoji, s.TotalPnL)
	fmt.Fprintf(b, "\n⏰ %s", ts)
	return b.String()
}

func renderBotStatus(e ports.Event, ts string) string {
	emoji := "🟢"
	if strings.Contains(strings.ToLower(e.Reason), "stop") {
		emoji = "🔴"
	}
	b := &strings.Builder{}
	fmt.Fprintf(b, "%s <b>Bot status</b> %s\n\n", emoji, emoji)
	fmt.Fprintf(b, "📡 <b>Status:</b> %s\n", html.EscapeString(e.Reason))
	if e.Symbol != "" {
		fmt.Fprintf(b, "📊 <b>Symbol:</b> %s\n", html.EscapeString(e.Symbol))
	}
	if e.Price > 0 {
		fmt.Fprintf(b, "💲 <b>Price:</b> $%.2f\n", e.Price)
	}
	fmt.Fprintf(b, "📦 <b>Position:</b> %.0f\n", e.Position)
	fmt.Fprintf(b, "\n⏰ %s", ts)
	return b.String()
}

func renderError(e ports.Event, ts string) string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "⚠️ <b>Error</b> ⚠️\n\n")
	fmt.Fprintf(b, "<code>%s</code>\n", html.EscapeString(e.Reason))
	fmt.Fprintf(b, "\n⏰ %s", ts)
	return b.String()
}
