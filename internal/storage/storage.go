// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"rss_reader/internal/model"
)

var (
	// ErrNotFound is returned when no feed has the requested URL.
	ErrNotFound = errors.New("feed not found")
	// ErrDuplicate is returned when a feed with the same URL already exists.
	ErrDuplicate = errors.New("feed already exists")
	// ErrConflict is returned when a conditional update finds the feed changed.
	ErrConflict = errors.New("feed changed concurrently")
)

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateFeed(ctx context.Context, feed *model.Feed) error
	GetFeed(ctx context.Context, url string) (*model.Feed, error)
	ListFeeds(ctx context.Context) ([]model.Feed, error)
	ListNotificationFeeds(ctx context.Context) ([]model.Feed, error)
	UpdateFeed(ctx context.Context, feed *model.Feed) error
	ToggleFavorite(ctx context.Context, url string) (*model.Feed, error)
	SwapNotifications(ctx context.Context, url string, old, enabled bool) (*model.Feed, error)
	DeleteFeed(ctx context.Context, url string) error

	LastRefreshAt(ctx context.Context) (*time.Time, error)
	SetLastRefreshAt(ctx context.Context, t time.Time) error

	Close() error
}
