// Package notify delivers supervisor alerts.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Nop discards alerts. It is used when no alert channel is configured.
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }

// TelegramConfig configures the supervisor chat.
type TelegramConfig struct {
	Token  string
	ChatID int64
	// Endpoint overrides the Bot API URL format, mainly for tests.
	Endpoint  string
	ParseMode string
	Logger    *slog.Logger
}

// Telegram posts alerts to one chat through the Bot API. The bot connects on
// first use so a Telegram outage never blocks startup.
type Telegram struct {
	cfg    TelegramConfig
	logger *slog.Logger

	mu  sync.Mutex
	bot *tgbotapi.BotAPI

	sleep func(ctx context.Context, d time.Duration) error
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.Endpoint == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{cfg: cfg, logger: logger, sleep: sleepCtx}
}

func (t *Telegram) connect() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(t.cfg.Token, t.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)
	t.bot = bot
	return bot, nil
}

// Notify sends text to the configured chat, split into chunks that fit the
// Bot API limit.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	bot, err := t.connect()
	if err != nil {
		return err
	}
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		if err := t.sendChunk(ctx, bot, chunk); err != nil {
			return err
		}
	}
	return nil
}

// sendChunk tries the configured parse mode first, then plain text, and backs
// off on rate limits and transient errors.
func (t *Telegram) sendChunk(ctx context.Context, bot *tgbotapi.BotAPI, text string) error {
	var lastErr error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(t.cfg.ChatID, text)
		if attempt == 0 && t.cfg.ParseMode != "" {
			msg.ParseMode = t.cfg.ParseMode
		}
		_, err := bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err

		code, retryAfter := apiError(err)

		if attempt == 0 && msg.ParseMode != "" && strings.Contains(err.Error(), "can't parse entities") {
			t.logger.Warn("telegram parse error, retrying as plain text", "err", err)
			continue
		}
		if attempt == telegramMaxSendRetries {
			break
		}

		backoff := time.Duration(attempt+1) * time.Second
		if code == 429 {
			backoff = time.Duration(attempt+1) * 3 * time.Second
			if retryAfter > 0 {
				backoff = time.Duration(retryAfter) * time.Second
			}
			t.logger.Warn("telegram rate limited, backing off", "retry_after", backoff, "attempt", attempt+1)
		} else {
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
		}
		if err := t.sleep(ctx, backoff); err != nil {
			return err
		}
	}
	t.logger.Error("telegram send failed after retries", "err", lastErr, "attempts", telegramMaxSendRetries+1)
	return fmt.Errorf("telegram send: %w", lastErr)
}

// apiError extracts the Bot API error code and retry hint, if err carries one.
func apiError(err error) (code, retryAfter int) {
	var p *tgbotapi.Error
	if errors.As(err, &p) {
		return p.Code, p.RetryAfter
	}
	var v tgbotapi.Error
	if errors.As(err, &v) {
		return v.Code, v.RetryAfter
	}
	return 0, 0
}

// splitMessage cuts text into pieces of at most maxLen bytes, preferring
// newline boundaries in the second half of a piece. Pieces never split a
// UTF-8 sequence.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cutAt := strings.LastIndex(text[:maxLen], "\n")
		if cutAt < maxLen/2 {
			cutAt = maxLen
			for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
				cutAt--
			}
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
