package bot

import (
	"fmt"
	"strings"

	"rss_reader/internal/explore"
	"rss_reader/internal/model"
	"rss_reader/internal/notify"
	"rss_reader/internal/sanitize"
)

const (
	maxListedItems = 10
	itemSnippetLen = 160
	dateLayout     = "2006-01-02 15:04 UTC"
)

// FormatNotification formats a scheduled notification as a Telegram message.
func FormatNotification(req notify.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]\n\n", req.Title)
	b.WriteString(req.Body)
	if req.Link != "" {
		b.WriteString("\n\n")
		b.WriteString(req.Link)
	}
	return b.String()
}

// FormatFeedList formats the saved feeds, numbered as accepted by feed
// commands.
func FormatFeedList(feeds []model.Feed) string {
	if len(feeds) == 0 {
		return "You have no feeds yet. Use /add <url> to add one, or /explore for suggestions."
	}
	return writeFeeds("Your feeds:", feeds)
}

// FormatFavorites formats the favorite feeds.
func FormatFavorites(feeds []model.Feed) string {
	if len(feeds) == 0 {
		return "No favorite feeds yet. Use /fav <n> to mark one."
	}
	return writeFeeds("Favorites:", feeds)
}

func writeFeeds(header string, feeds []model.Feed) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	for i, f := range feeds {
		fmt.Fprintf(&b, "\n%d. %s%s\n   %s\n", i+1, f.DisplayTitle(), feedFlags(f), f.URL)
	}
	return b.String()
}

func feedFlags(f model.Feed) string {
	var flags []string
	if f.IsFavorite {
		flags = append(flags, "favorite")
	}
	if f.NotificationsEnabled {
		flags = append(flags, "notifications")
	}
	if len(flags) == 0 {
		return ""
	}
	return " [" + strings.Join(flags, ", ") + "]"
}

// FormatItems formats up to ten items of a feed.
func FormatItems(feed *model.Feed, items []model.FeedItem) string {
	if len(items) == 0 {
		return fmt.Sprintf("No items in \"%s\".", feed.DisplayTitle())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Latest in \"%s\":\n", feed.DisplayTitle())
	for i, it := range items {
		if i == maxListedItems {
			fmt.Fprintf(&b, "\n...and %d more.", len(items)-maxListedItems)
			break
		}
		fmt.Fprintf(&b, "\n%d. %s\n", i+1, it.Title)
		if it.PubDate != nil {
			fmt.Fprintf(&b, "   %s\n", it.PubDate.UTC().Format(dateLayout))
		}
		if snippet := sanitize.Plain(it.Description, itemSnippetLen); snippet != "" {
			fmt.Fprintf(&b, "   %s\n", snippet)
		}
		fmt.Fprintf(&b, "   %s\n", it.Link)
	}
	return b.String()
}

// FormatSuggestions formats explore catalog entries, grouped by category.
func FormatSuggestions(categories []string, suggestions []explore.Suggestion) string {
	if len(suggestions) == 0 {
		return "No suggestions in that category. Available: " + strings.Join(categories, ", ")
	}

	byCategory := make(map[string][]explore.Suggestion)
	for _, s := range suggestions {
		byCategory[s.Category] = append(byCategory[s.Category], s)
	}

	var b strings.Builder
	b.WriteString("Suggested feeds:\n")
	for _, cat := range categories {
		group := byCategory[cat]
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s:\n", cat)
		for _, s := range group {
			mark := ""
			if s.Added {
				mark = " (added)"
			}
			fmt.Fprintf(&b, "  %s%s\n  %s\n", s.Name, mark, s.URL)
		}
	}
	b.WriteString("\nUse /add <url> to subscribe.")
	return b.String()
}
