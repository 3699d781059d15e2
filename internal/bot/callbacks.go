package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rss_reader/internal/model"
)

const (
	cmdList   = "list"
	cmdItems  = "items"
	cmdFav    = "fav"
	cmdNotify = "notify"

	actionDeleteConfirm = "delete_confirm"
	actionDelete        = "delete"
	actionNoop          = "noop"
)

// listKeyboard builds one row of buttons per listed feed. Buttons carry the
// feed's position in the list.
func listKeyboard(feeds []model.Feed) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(feeds))
	for i, f := range feeds {
		n := i + 1
		fav := "Favorite"
		if f.IsFavorite {
			fav = "Unfavorite"
		}
		bell := "Notify"
		if f.NotificationsEnabled {
			bell = "Mute"
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%d. Items", n), callbackData(cmdItems, n)),
			tgbotapi.NewInlineKeyboardButtonData(fav, callbackData(cmdFav, n)),
			tgbotapi.NewInlineKeyboardButtonData(bell, callbackData(cmdNotify, n)),
			tgbotapi.NewInlineKeyboardButtonData("Delete", callbackData(actionDeleteConfirm, n)),
		))
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, n, err := ParseCallback(cb.Data)
	if err != nil {
		b.log.Debug("ignore callback", "data", cb.Data, "error", err)
		return
	}

	userID, userName := int64(0), ""
	if cb.From != nil {
		userID, userName = cb.From.ID, cb.From.UserName
	}
	b.log.Info("callback",
		"action", action,
		"index", n,
		"chat_id", chatID,
		"user_id", userID,
		"username", userName,
	)

	arg := fmt.Sprint(n)
	switch action {
	case cmdItems:
		b.handleItems(ctx, chatID, arg)
	case cmdFav:
		b.handleFavorite(ctx, chatID, arg)
	case cmdNotify:
		b.handleNotify(ctx, chatID, arg)
	case actionDeleteConfirm:
		feed, err := b.resolveFeed(ctx, FeedRef{Index: n})
		if err != nil {
			b.replyError(chatID, err)
			return
		}
		b.replyWithKeyboard(chatID,
			fmt.Sprintf("Delete \"%s\"? This cannot be undone.", feed.DisplayTitle()),
			tgbotapi.NewInlineKeyboardMarkup(
				tgbotapi.NewInlineKeyboardRow(
					tgbotapi.NewInlineKeyboardButtonData("Yes, delete", callbackData(actionDelete, n)),
					tgbotapi.NewInlineKeyboardButtonData("Cancel", callbackData(actionNoop, 0)),
				),
			))
	case actionDelete:
		b.handleRemove(ctx, chatID, arg)
	}
}
