package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"rss_reader/internal/config"
	"rss_reader/internal/explore"
	"rss_reader/internal/model"
	"rss_reader/internal/notify"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// FeedService manages the saved feeds.
type FeedService interface {
	Add(ctx context.Context, url string) (*model.Feed, error)
	Delete(ctx context.Context, url string) (*model.Feed, error)
	List(ctx context.Context) ([]model.Feed, error)
	Get(ctx context.Context, url string) (*model.Feed, error)
	Items(ctx context.Context, url string) (*model.Feed, []model.FeedItem, error)
	Favorites(ctx context.Context) ([]model.Feed, error)
	ToggleFavorite(ctx context.Context, url string) (*model.Feed, error)
	ToggleNotifications(ctx context.Context, url string) (*model.Feed, error)
}

// Refresher runs a refresh of the notification-enabled feeds on demand.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Telegram allows roughly one message per second to the same chat.
const deliveryInterval = time.Second

// Bot is the Telegram front end of the reader. It handles user commands and
// delivers scheduled notifications to the configured chat.
type Bot struct {
	api       telegramAPI
	feeds     FeedService
	catalog   *explore.Catalog
	refresher Refresher
	cfg       *config.Config
	limiter   *rate.Limiter
	log       *slog.Logger
}

// New creates a Bot for the token and chat in cfg. Services are attached
// with SetServices before Run.
func New(cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return newBot(api, cfg, log), nil
}

func newBot(api telegramAPI, cfg *config.Config, log *slog.Logger) *Bot {
	return &Bot{
		api:     api,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(deliveryInterval), 1),
		log:     log,
	}
}

// SetServices attaches the services commands operate on. The bot is also the
// notification deliverer of those services, so it is created first.
func (b *Bot) SetServices(feeds FeedService, catalog *explore.Catalog, refresher Refresher) {
	b.feeds = feeds
	b.catalog = catalog
	b.refresher = refresher
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.CallbackQuery != nil {
				if !b.cfg.IsUserAllowed(update.CallbackQuery.From.ID) {
					continue
				}
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if !b.cfg.IsUserAllowed(update.Message.From.ID) {
				b.reply(update.Message.Chat.ID, "Access denied.")
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// Ready reports whether notifications have a chat to go to.
func (b *Bot) Ready(_ context.Context) error {
	if b.cfg.TelegramChatID == 0 {
		return errors.New("no notification chat configured")
	}
	return nil
}

// Deliver sends a notification to the configured chat, pacing consecutive
// messages to stay within Telegram's per-chat limit.
func (b *Bot) Deliver(ctx context.Context, req notify.Request) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for delivery slot: %w", err)
	}
	msg := tgbotapi.NewMessage(b.cfg.TelegramChatID, FormatNotification(req))
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) replyWithKeyboard(chatID int64, text string, markup tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	if len(markup.InlineKeyboard) > 0 {
		msg.ReplyMarkup = markup
	}
	b.send(msg)
}

func (b *Bot) send(msg tgbotapi.MessageConfig) {
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", msg.ChatID, "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "add":
		b.handleAdd(ctx, chatID, args)
	case cmdList:
		b.handleList(ctx, chatID)
	case "remove":
		b.handleRemove(ctx, chatID, args)
	case cmdItems:
		b.handleItems(ctx, chatID, args)
	case cmdFav:
		b.handleFavorite(ctx, chatID, args)
	case "favorites":
		b.handleFavorites(ctx, chatID)
	case cmdNotify:
		b.handleNotify(ctx, chatID, args)
	case "explore":
		b.handleExplore(ctx, chatID, args)
	case "refresh":
		b.handleRefresh(ctx, chatID)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
