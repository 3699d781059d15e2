// Package model defines the domain types used across the application.
package model

import "time"

// Feed represents a subscribed RSS source. The URL is its identity.
type Feed struct {
	URL                  string
	Title                string
	Description          string
	ImageURL             string
	IsFavorite           bool
	NotificationsEnabled bool
	CreatedAt            time.Time
}

// DisplayTitle returns the feed title, falling back to the URL.
func (f Feed) DisplayTitle() string {
	if f.Title != "" {
		return f.Title
	}
	return f.URL
}

// FeedItem is one entry of a feed. FeedID holds the owning feed's URL.
type FeedItem struct {
	FeedID      string
	Title       string
	Link        string
	PubDate     *time.Time
	Description string
	ImageURL    string
}

// PublishedAfter reports whether the item carries a publish date later than t.
func (i FeedItem) PublishedAfter(t time.Time) bool {
	return i.PubDate != nil && i.PubDate.After(t)
}

// ExploreFeed is a catalog suggestion that the user has not necessarily added.
type ExploreFeed struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Category string `json:"category"`
}
