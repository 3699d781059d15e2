// Package feeds manages the saved feed subscriptions.
package feeds

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"rss_reader/internal/apperr"
	"rss_reader/internal/fetcher"
	"rss_reader/internal/model"
	"rss_reader/internal/storage"
)

// Fetcher downloads and parses a feed.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*model.Feed, []model.FeedItem, error)
}

// Authorizer grants permission to deliver notifications.
type Authorizer interface {
	RequestAuthorization(ctx context.Context) (bool, error)
}

// RefreshScheduler is asked to schedule a background refresh whenever the set
// of notification-enabled feeds changes.
type RefreshScheduler interface {
	ScheduleAppRefresh(ctx context.Context) error
}

// Service implements feed operations on top of a Storage. Every returned
// error is an *apperr.Error.
type Service struct {
	store   storage.Storage
	fetcher Fetcher
	auth    Authorizer
	refresh RefreshScheduler
	log     *slog.Logger
}

// New creates a Service.
func New(store storage.Storage, f Fetcher, auth Authorizer, refresh RefreshScheduler, log *slog.Logger) *Service {
	return &Service{
		store:   store,
		fetcher: f,
		auth:    auth,
		refresh: refresh,
		log:     log,
	}
}

// Add subscribes to the feed at rawURL. The document is fetched to obtain the
// feed header; when rawURL is a page advertising a feed, the advertised feed
// URL is stored instead.
func (s *Service) Add(ctx context.Context, rawURL string) (*model.Feed, error) {
	rawURL = strings.TrimSpace(rawURL)
	if err := fetcher.ValidateURL(rawURL); err != nil {
		return nil, err
	}
	if err := s.ensureAbsent(ctx, rawURL); err != nil {
		return nil, err
	}

	header, _, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if header == nil {
		return nil, apperr.New(apperr.Parse, "document has no channel")
	}

	feed := &model.Feed{
		URL:         header.URL,
		Title:       header.Title,
		Description: header.Description,
		ImageURL:    header.ImageURL,
	}
	if feed.URL == "" {
		feed.URL = rawURL
	}
	if feed.URL != rawURL {
		if err := s.ensureAbsent(ctx, feed.URL); err != nil {
			return nil, err
		}
	}

	if err := s.store.CreateFeed(ctx, feed); err != nil {
		return nil, storeError(err, "save feed")
	}
	s.log.Info("feed added", "feed_url", feed.URL, "title", feed.Title)
	return feed, nil
}

func (s *Service) ensureAbsent(ctx context.Context, url string) error {
	_, err := s.store.GetFeed(ctx, url)
	switch {
	case err == nil:
		return apperr.New(apperr.DuplicateFeed, url)
	case errors.Is(err, storage.ErrNotFound):
		return nil
	}
	return storeError(err, "look up feed")
}

// Delete removes the feed with the given URL.
func (s *Service) Delete(ctx context.Context, url string) (*model.Feed, error) {
	feed, err := s.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteFeed(ctx, url); err != nil {
		return nil, storeError(err, "delete feed")
	}
	s.log.Info("feed deleted", "feed_url", url)
	if feed.NotificationsEnabled {
		s.scheduleRefresh(ctx)
	}
	return feed, nil
}

// List returns all saved feeds in the order they were added.
func (s *Service) List(ctx context.Context) ([]model.Feed, error) {
	feeds, err := s.store.ListFeeds(ctx)
	if err != nil {
		return nil, storeError(err, "list feeds")
	}
	return feeds, nil
}

// Favorites returns the saved feeds marked as favorite.
func (s *Service) Favorites(ctx context.Context) ([]model.Feed, error) {
	feeds, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Feed
	for _, f := range feeds {
		if f.IsFavorite {
			out = append(out, f)
		}
	}
	return out, nil
}

// Get returns the saved feed with the given URL.
func (s *Service) Get(ctx context.Context, url string) (*model.Feed, error) {
	feed, err := s.store.GetFeed(ctx, url)
	if err != nil {
		return nil, storeError(err, "get feed")
	}
	return feed, nil
}

// Items fetches the current items of a saved feed.
func (s *Service) Items(ctx context.Context, url string) (*model.Feed, []model.FeedItem, error) {
	feed, err := s.Get(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	_, items, err := s.fetcher.Fetch(ctx, feed.URL)
	if err != nil {
		return nil, nil, err
	}
	return feed, items, nil
}

// ToggleFavorite flips the favorite flag of a saved feed.
func (s *Service) ToggleFavorite(ctx context.Context, url string) (*model.Feed, error) {
	feed, err := s.store.ToggleFavorite(ctx, url)
	if err != nil {
		return nil, storeError(err, "toggle favorite")
	}
	return feed, nil
}

// swapAttempts bounds how often a notification toggle is retried when another
// toggle of the same feed lands in between.
const swapAttempts = 3

// ToggleNotifications flips the notification flag of a saved feed. Enabling
// requires notification authorization; when it is refused the feed is left
// unchanged and a PermissionDenied error is returned.
func (s *Service) ToggleNotifications(ctx context.Context, url string) (*model.Feed, error) {
	for range swapAttempts {
		feed, err := s.Get(ctx, url)
		if err != nil {
			return nil, err
		}

		if !feed.NotificationsEnabled {
			ok, err := s.auth.RequestAuthorization(ctx)
			if err != nil {
				return nil, apperr.Wrap(apperr.PermissionDenied, "request authorization", err)
			}
			if !ok {
				return nil, apperr.New(apperr.PermissionDenied, "notifications are not authorized")
			}
		}

		updated, err := s.store.SwapNotifications(ctx, url, feed.NotificationsEnabled, !feed.NotificationsEnabled)
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, storeError(err, "update feed")
		}
		s.log.Info("feed notifications toggled", "feed_url", url, "enabled", updated.NotificationsEnabled)
		s.scheduleRefresh(ctx)
		return updated, nil
	}
	return nil, apperr.New(apperr.Unknown, "feed changed while toggling notifications, try again")
}

func (s *Service) scheduleRefresh(ctx context.Context) {
	if s.refresh == nil {
		return
	}
	if err := s.refresh.ScheduleAppRefresh(ctx); err != nil {
		s.log.Warn("schedule background refresh", "error", err)
	}
}

func storeError(err error, op string) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return apperr.Wrap(apperr.FeedNotFound, op, err)
	case errors.Is(err, storage.ErrDuplicate):
		return apperr.Wrap(apperr.DuplicateFeed, op, err)
	}
	return apperr.Wrap(apperr.Unknown, op, err)
}
