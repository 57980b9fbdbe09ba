// Package telegram connects the conversation engine to the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/spigell/network-scout/internal/archive"
	"github.com/spigell/network-scout/internal/conversation"
	"github.com/spigell/network-scout/internal/domain"
	"github.com/spigell/network-scout/internal/platform"
	"github.com/spigell/network-scout/internal/utils"
)

const (
	offsetName = "telegram"

	defaultPollInterval = time.Second
	defaultErrorBackoff = 5 * time.Second
	defaultMaxBackoff   = 2 * time.Minute
)

type Config struct {
	Token        string        `mapstructure:"token"`
	TokenFile    string        `mapstructure:"token-file"`
	Endpoint     string        `mapstructure:"endpoint"`
	PollInterval time.Duration `mapstructure:"poll-interval"`
	ErrorBackoff time.Duration `mapstructure:"error-backoff"`
	// MaxBackoff caps the pause after consecutive poll failures.
	MaxBackoff time.Duration `mapstructure:"max-backoff"`
	// LongPoll is the getUpdates timeout in seconds.
	LongPoll int `mapstructure:"long-poll"`
}

type Handler interface {
	HandleMessage(ctx context.Context, in platform.Inbound) (*conversation.Outcome, error)
}

type Bot struct {
	api     *tgbotapi.BotAPI
	offsets archive.Offsets
	cfg     Config
	logger  *zap.Logger
}

// New authenticates against the Bot API. A nil client uses http.DefaultClient.
func New(token string, cfg Config, offsets archive.Offsets, client tgbotapi.HTTPClient, logger *zap.Logger) (*Bot, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = defaultErrorBackoff
	}
	if cfg.MaxBackoff < cfg.ErrorBackoff {
		cfg.MaxBackoff = max(defaultMaxBackoff, cfg.ErrorBackoff)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	api, err := tgbotapi.NewBotAPIWithClient(token, cfg.Endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}

	logger.Info("telegram bot authorized", zap.String("bot", api.Self.UserName))
	return &Bot{api: api, offsets: offsets, cfg: cfg, logger: logger}, nil
}

// Username is the bot's own handle.
func (b *Bot) Username() string {
	return b.api.Self.UserName
}

// Send delivers text to the candidate's chat. A 403 from Telegram maps to platform.ErrPermission.
func (b *Bot) Send(ctx context.Context, c *domain.Candidate, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	chatID, err := chatID(c)
	if err != nil {
		return err
	}

	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusForbidden {
			return fmt.Errorf("telegram: %s: %w", apiErr.Message, platform.ErrPermission)
		}
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func chatID(c *domain.Candidate) (int64, error) {
	if c.ChatID != 0 {
		return c.ChatID, nil
	}
	raw := strings.TrimPrefix(c.PlatformID, domain.PlatformTelegram+":")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("candidate %s has no telegram chat", c.PlatformID)
	}
	return id, nil
}

// Poll fetches updates until ctx is cancelled. Iteration errors are logged and followed by a pause
// that doubles with each consecutive failure.
func (b *Bot) Poll(ctx context.Context, h Handler) error {
	b.logger.Info("telegram polling started")
	failures := 0
	for {
		if err := b.pollOnce(ctx, h); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			b.logger.Error("telegram poll failed", zap.Error(err), zap.Int("failures", failures), zap.Duration("backoff", b.nextDelay(failures)))
		} else {
			failures = 0
		}
		delay := b.nextDelay(failures)

		if err := utils.WaitFor(ctx, delay); err != nil {
			b.logger.Info("telegram polling stopped")
			return nil
		}
	}
}

func (b *Bot) nextDelay(failures int) time.Duration {
	if failures == 0 {
		return b.cfg.PollInterval
	}
	return utils.Backoff(failures, b.cfg.ErrorBackoff, b.cfg.MaxBackoff)
}

func (b *Bot) pollOnce(ctx context.Context, h Handler) error {
	offset, err := b.offset(ctx)
	if err != nil {
		return err
	}

	update := tgbotapi.NewUpdate(offset)
	update.Timeout = b.cfg.LongPoll
	updates, err := b.api.GetUpdates(update)
	if err != nil {
		return fmt.Errorf("get updates: %w", err)
	}

	for _, u := range updates {
		if in, ok := toInbound(u); ok {
			if _, err := h.HandleMessage(ctx, in); err != nil {
				b.logger.Warn("message not handled",
					zap.Int("update_id", u.UpdateID),
					zap.String("platform_id", in.PlatformID()),
					zap.Error(err),
				)
			}
		}

		// The offset moves past every update so a failing message does not block the queue.
		if err := b.offsets.SetOffset(ctx, offsetName, strconv.Itoa(u.UpdateID+1)); err != nil {
			return fmt.Errorf("store offset: %w", err)
		}
	}
	return nil
}

func (b *Bot) offset(ctx context.Context) (int, error) {
	raw, err := b.offsets.Offset(ctx, offsetName)
	if err != nil {
		return 0, fmt.Errorf("load offset: %w", err)
	}
	if raw == "" {
		return 0, nil
	}
	offset, err := strconv.Atoi(raw)
	if err != nil {
		b.logger.Warn("ignoring malformed telegram offset", zap.String("offset", raw))
		return 0, nil
	}
	return offset, nil
}

// toInbound keeps private text messages from humans.
func toInbound(u tgbotapi.Update) (platform.Inbound, bool) {
	m := u.Message
	if m == nil || m.From == nil || m.From.IsBot || m.Chat == nil || strings.TrimSpace(m.Text) == "" {
		return platform.Inbound{}, false
	}
	if !m.Chat.IsPrivate() {
		return platform.Inbound{}, false
	}

	name := strings.TrimSpace(m.From.FirstName + " " + m.From.LastName)
	return platform.Inbound{
		Platform:    domain.PlatformTelegram,
		UserID:      strconv.FormatInt(m.From.ID, 10),
		ChatID:      m.Chat.ID,
		Handle:      m.From.UserName,
		DisplayName: name,
		MessageID:   strconv.Itoa(m.MessageID),
		Text:        m.Text,
	}, true
}
