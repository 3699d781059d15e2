package bot

import (
	"context"
	"errors"
	"fmt"

	"rss_reader/internal/apperr"
	"rss_reader/internal/model"
	"rss_reader/internal/refresh"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to RSS Reader!

Subscribe to RSS feeds, read their latest items and get notified about new ones.

Quick start:
1. /add <url> — add an RSS feed
2. /list — see your feeds
3. /notify <n> — get notified about new items of feed n

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Feeds:
/add <url> — subscribe to a feed
/list — show your feeds
/items <n|url> — latest items of a feed
/remove <n|url> — unsubscribe

Favorites and notifications:
/fav <n|url> — mark or unmark a favorite
/favorites — show favorite feeds
/notify <n|url> — turn notifications on or off
/refresh — check notified feeds now

Discover:
/explore [category] — suggested feeds

<n> is the feed number shown by /list.`)
}

// resolveFeed finds the saved feed a FeedRef points at.
func (b *Bot) resolveFeed(ctx context.Context, ref FeedRef) (*model.Feed, error) {
	if ref.URL != "" {
		return b.feeds.Get(ctx, ref.URL)
	}
	feeds, err := b.feeds.List(ctx)
	if err != nil {
		return nil, err
	}
	if ref.Index < 1 || ref.Index > len(feeds) {
		return nil, apperr.New(apperr.FeedNotFound, fmt.Sprintf("no feed #%d", ref.Index))
	}
	return &feeds[ref.Index-1], nil
}

// feedArg parses args and resolves the feed, replying with usage or the
// error message when that fails.
func (b *Bot) feedArg(ctx context.Context, chatID int64, args, usage string) (*model.Feed, bool) {
	ref, err := ParseFeedRef(args)
	if err != nil {
		b.reply(chatID, "Usage: "+usage)
		return nil, false
	}
	feed, err := b.resolveFeed(ctx, ref)
	if err != nil {
		b.replyError(chatID, err)
		return nil, false
	}
	return feed, true
}

func (b *Bot) replyError(chatID int64, err error) {
	if apperr.KindOf(err) == apperr.Unknown {
		b.log.Error("command failed", "chat_id", chatID, "error", err)
	}
	b.reply(chatID, apperr.UserMessage(err))
}

func (b *Bot) handleAdd(ctx context.Context, chatID int64, args string) {
	if args == "" {
		b.reply(chatID, "Usage: /add <url>")
		return
	}

	feed, err := b.feeds.Add(ctx, args)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Feed added: %s\nURL: %s\nUse /notify to get notified about new items.",
		feed.DisplayTitle(), feed.URL))
}

func (b *Bot) handleList(ctx context.Context, chatID int64) {
	feeds, err := b.feeds.List(ctx)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.replyWithKeyboard(chatID, FormatFeedList(feeds), listKeyboard(feeds))
}

func (b *Bot) handleRemove(ctx context.Context, chatID int64, args string) {
	feed, ok := b.feedArg(ctx, chatID, args, "/remove <n|url>")
	if !ok {
		return
	}
	if _, err := b.feeds.Delete(ctx, feed.URL); err != nil {
		b.replyError(chatID, err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Feed \"%s\" deleted.", feed.DisplayTitle()))
}

func (b *Bot) handleItems(ctx context.Context, chatID int64, args string) {
	feed, ok := b.feedArg(ctx, chatID, args, "/items <n|url>")
	if !ok {
		return
	}
	feed, items, err := b.feeds.Items(ctx, feed.URL)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.reply(chatID, FormatItems(feed, items))
}

func (b *Bot) handleFavorite(ctx context.Context, chatID int64, args string) {
	feed, ok := b.feedArg(ctx, chatID, args, "/fav <n|url>")
	if !ok {
		return
	}
	feed, err := b.feeds.ToggleFavorite(ctx, feed.URL)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	if feed.IsFavorite {
		b.reply(chatID, fmt.Sprintf("\"%s\" added to favorites.", feed.DisplayTitle()))
		return
	}
	b.reply(chatID, fmt.Sprintf("\"%s\" removed from favorites.", feed.DisplayTitle()))
}

func (b *Bot) handleFavorites(ctx context.Context, chatID int64) {
	feeds, err := b.feeds.Favorites(ctx)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.reply(chatID, FormatFavorites(feeds))
}

func (b *Bot) handleNotify(ctx context.Context, chatID int64, args string) {
	feed, ok := b.feedArg(ctx, chatID, args, "/notify <n|url>")
	if !ok {
		return
	}
	feed, err := b.feeds.ToggleNotifications(ctx, feed.URL)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	if feed.NotificationsEnabled {
		b.reply(chatID, fmt.Sprintf("Notifications on for \"%s\".", feed.DisplayTitle()))
		return
	}
	b.reply(chatID, fmt.Sprintf("Notifications off for \"%s\".", feed.DisplayTitle()))
}

func (b *Bot) handleExplore(ctx context.Context, chatID int64, args string) {
	saved, err := b.feeds.List(ctx)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	categories := b.catalog.Categories()
	b.reply(chatID, FormatSuggestions(categories, b.catalog.Suggestions(args, saved)))
}

func (b *Bot) handleRefresh(ctx context.Context, chatID int64) {
	if b.refresher == nil {
		b.reply(chatID, "Background refresh is not available.")
		return
	}
	err := b.refresher.Refresh(ctx)
	var rerr *refresh.Error
	switch {
	case err == nil:
		b.reply(chatID, "Refresh finished. New items will arrive as notifications.")
	case errors.As(err, &rerr):
		b.reply(chatID, fmt.Sprintf("Refresh finished, but %d of %d feeds could not be checked.", rerr.Failed, rerr.Total))
	default:
		b.replyError(chatID, err)
	}
}
