package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rate-annualizer/internal/rates"
)

// Notification carries one rate-change alert.
type Notification struct {
	AsOf           time.Time
	Series         string
	Code           int
	Strategy       string
	LookbackMonths int
	Basis          string
	PreviousAsOf   time.Time
	PreviousPct    decimal.Decimal
	CurrentPct     decimal.Decimal
	ChangePP       decimal.Decimal
	ThresholdPP    decimal.Decimal
	Direction      string
	Channels       []string
	AdditionalMsg  string
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// Direction classifies a percentage-point change.
func Direction(change decimal.Decimal) string {
	switch change.Sign() {
	case 1:
		return "up"
	case -1:
		return "down"
	default:
		return "flat"
	}
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with the rendered alert text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram responded with status %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false: %s", result.Description)
	}

	n.logger.Info().Time("as_of", note.AsOf).
		Str("series", note.Series).
		Str("direction", note.Direction).
		Str("change_pp", note.ChangePP.StringFixed(2)).
		Msg("alert sent (telegram)")
	return nil
}

// RenderMessage formats a notification as plain text.
func RenderMessage(note Notification) string {
	var b strings.Builder
	b.WriteString("[Rate Alert]\n")
	fmt.Fprintf(&b, "Series: %s (SGS %d)\n", note.Series, note.Code)
	if note.LookbackMonths > 0 {
		fmt.Fprintf(&b, "Strategy: %s, %d months\n", note.Strategy, note.LookbackMonths)
	} else {
		fmt.Fprintf(&b, "Strategy: %s\n", note.Strategy)
	}
	fmt.Fprintf(&b, "As of: %s\n", rates.FormatSGSDate(note.AsOf))
	if !note.PreviousAsOf.IsZero() {
		fmt.Fprintf(&b, "Previous: %s (%s)\n", rates.FormatPercent(note.PreviousPct), rates.FormatSGSDate(note.PreviousAsOf))
	} else {
		fmt.Fprintf(&b, "Previous: %s\n", rates.FormatPercent(note.PreviousPct))
	}
	fmt.Fprintf(&b, "Current: %s\n", rates.FormatPercent(note.CurrentPct))
	fmt.Fprintf(&b, "Change: %s pp (threshold %s pp)\n", note.ChangePP.StringFixed(2), note.ThresholdPP.StringFixed(2))
	fmt.Fprintf(&b, "Direction: %s\n", note.Direction)
	if note.Basis == string(rates.BasisPeriodAverage) {
		b.WriteString("Basis: period average, not annualized\n")
	}
	if len(note.Channels) > 0 {
		fmt.Fprintf(&b, "Channels: %s\n", strings.Join(note.Channels, ","))
	}
	if note.AdditionalMsg != "" {
		b.WriteString(note.AdditionalMsg)
	}
	return b.String()
}

// LogNotifier writes alerts to the logger. Used when no delivery channel is enabled.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Warn().Time("as_of", note.AsOf).
		Str("series", note.Series).
		Str("strategy", note.Strategy).
		Str("previous_pct", note.PreviousPct.String()).
		Str("current_pct", note.CurrentPct.String()).
		Str("change_pp", note.ChangePP.String()).
		Str("direction", note.Direction).
		Msg("rate change alert")
	return nil
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
