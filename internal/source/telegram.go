package source

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/harunnryd/matsuri/internal/config"
	"github.com/harunnryd/matsuri/internal/digest"
	"github.com/harunnryd/matsuri/internal/errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// TelegramSource drains pending bot updates from the configured chats.
// The Bot API only surfaces updates queued since the last acknowledged
// offset, so one run sees a bounded backlog; the archive accumulates
// history across runs.
type TelegramSource struct {
	cfg     config.TelegramConfig
	chats   map[int64]bool
	bot     *tgbotapi.BotAPI
	limiter *rate.Limiter
}

func NewTelegram(cfg config.TelegramConfig) *TelegramSource {
	if cfg.UpdateTimeout <= 0 {
		cfg.UpdateTimeout = config.DefaultTelegramUpdateTimeout
	}
	chats := make(map[int64]bool, len(cfg.Chats))
	for _, id := range cfg.Chats {
		chats[id] = true
	}
	return &TelegramSource{
		cfg:     cfg,
		chats:   chats,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

func (t *TelegramSource) Name() string {
	return "telegram"
}

func (t *TelegramSource) Connect(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.cfg.BotToken)
	if err != nil {
		return errors.Wrap(err, "failed to init telegram bot")
	}
	t.bot = bot

	slog.Info("Telegram source connected", "user", bot.Self.UserName)
	return nil
}

func (t *TelegramSource) FetchMessages(ctx context.Context, since time.Time) ([]digest.SourceMessage, error) {
	if t.bot == nil {
		return nil, errors.Transient("Telegram bot not initialized")
	}

	var messages []digest.SourceMessage
	offset := 0

	for {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		u := tgbotapi.NewUpdate(offset)
		u.Timeout = 0
		u.Limit = 100

		updates, err := t.bot.GetUpdates(u)
		if err != nil {
			return nil, errors.Wrap(err, "failed to fetch telegram updates")
		}
		if len(updates) == 0 {
			break
		}

		for _, update := range updates {
			offset = update.UpdateID + 1

			msg := update.Message
			if msg == nil {
				msg = update.ChannelPost
			}
			if msg == nil {
				continue
			}
			if len(t.chats) > 0 && !t.chats[msg.Chat.ID] {
				continue
			}
			if msg.Time().Before(since) {
				continue
			}

			text := msg.Text
			if text == "" {
				text = msg.Caption
			}
			if text == "" {
				continue
			}

			messages = append(messages, digest.SourceMessage{
				Text:      text,
				Link:      telegramLink(msg.Chat, msg.MessageID),
				Source:    t.Name(),
				Timestamp: msg.Time(),
			})
		}
	}

	return messages, nil
}

func (t *TelegramSource) Disconnect(ctx context.Context) error {
	return nil
}

func (t *TelegramSource) Health(ctx context.Context) error {
	if t.bot == nil {
		return errors.Transient("Telegram bot not initialized")
	}

	_, err := t.bot.GetMe()
	if err != nil {
		return errors.Transient("Telegram connection failed: " + err.Error())
	}

	return nil
}

// telegramLink builds the canonical t.me URL for a message. Public chats
// link by username; private channels and supergroups use the /c/ form with
// the -100 marker stripped from the chat ID.
func telegramLink(chat *tgbotapi.Chat, messageID int) string {
	if chat == nil {
		return ""
	}
	if chat.UserName != "" {
		return fmt.Sprintf("https://t.me/%s/%d", chat.UserName, messageID)
	}
	id := strconv.FormatInt(chat.ID, 10)
	if internal, ok := strings.CutPrefix(id, "-100"); ok {
		return fmt.Sprintf("https://t.me/c/%s/%d", internal, messageID)
	}
	return fmt.Sprintf("telegram:%s:%d", id, messageID)
}
