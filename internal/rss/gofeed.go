package rss

import (
	"bytes"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"

	"rss_reader/internal/model"
)

// parseWithGofeed handles Atom and RDF documents.
func parseWithGofeed(data []byte, sourceURL string) (*model.Feed, []model.FeedItem, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	feed := &model.Feed{
		URL:         sourceURL,
		Title:       parsed.Title,
		Description: parsed.Description,
	}
	if parsed.Image != nil {
		feed.ImageURL = parsed.Image.URL
	}

	var items []model.FeedItem
	for _, it := range parsed.Items {
		if it == nil || it.Title == "" || !isAbsoluteURL(it.Link) {
			continue
		}
		desc := it.Description
		if desc == "" {
			desc = it.Content
		}
		items = append(items, model.FeedItem{
			FeedID:      sourceURL,
			Title:       it.Title,
			Link:        it.Link,
			PubDate:     publishedAt(it),
			Description: desc,
			ImageURL:    itemImage(it),
		})
	}
	return feed, items, nil
}

func publishedAt(it *gofeed.Item) *time.Time {
	if it.PublishedParsed != nil {
		return it.PublishedParsed
	}
	return it.UpdatedParsed
}

func itemImage(it *gofeed.Item) string {
	if it.Image != nil && it.Image.URL != "" {
		return it.Image.URL
	}
	for _, enc := range it.Enclosures {
		if enc != nil && isImageType(enc.Type) && enc.URL != "" {
			return enc.URL
		}
	}
	return ""
}
