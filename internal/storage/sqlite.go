package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"rss_reader/internal/model"
	"rss_reader/migrations"
)

const (
	timeLayout = "2006-01-02T15:04:05Z"

	keyLastRefresh = "last_refresh_at"
)

const feedColumns = `url, title, description, image_url, is_favorite, notifications_enabled, created_at`

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateFeed inserts a new feed and populates its CreatedAt.
// A feed whose URL is already stored yields ErrDuplicate.
func (s *SQLite) CreateFeed(ctx context.Context, feed *model.Feed) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO feeds (`+feedColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO NOTHING`,
		feed.URL, feed.Title, feed.Description, feed.ImageURL,
		boolToInt(feed.IsFavorite), boolToInt(feed.NotificationsEnabled), now,
	)
	if err != nil {
		return fmt.Errorf("insert feed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrDuplicate
	}
	feed.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetFeed returns a single feed by its URL.
func (s *SQLite) GetFeed(ctx context.Context, url string) (*model.Feed, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE url = ?`, url,
	)
	f, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return f, err
}

// ListFeeds returns every stored feed in insertion order.
func (s *SQLite) ListFeeds(ctx context.Context) ([]model.Feed, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+feedColumns+` FROM feeds ORDER BY created_at, rowid`,
	)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFeeds(rows)
}

// ListNotificationFeeds returns the feeds with notifications enabled.
func (s *SQLite) ListNotificationFeeds(ctx context.Context) ([]model.Feed, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE notifications_enabled = 1 ORDER BY created_at, rowid`,
	)
	if err != nil {
		return nil, fmt.Errorf("query notification feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFeeds(rows)
}

// UpdateFeed persists changes to an existing feed.
func (s *SQLite) UpdateFeed(ctx context.Context, feed *model.Feed) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE feeds SET title = ?, description = ?, image_url = ?, is_favorite = ?, notifications_enabled = ?
		 WHERE url = ?`,
		feed.Title, feed.Description, feed.ImageURL,
		boolToInt(feed.IsFavorite), boolToInt(feed.NotificationsEnabled), feed.URL,
	)
	if err != nil {
		return fmt.Errorf("update feed: %w", err)
	}
	return requireRow(res)
}

// ToggleFavorite flips the favorite flag in a single statement and returns
// the updated feed.
func (s *SQLite) ToggleFavorite(ctx context.Context, url string) (*model.Feed, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE feeds SET is_favorite = 1 - is_favorite WHERE url = ? RETURNING `+feedColumns, url)
	feed, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("toggle favorite: %w", err)
	}
	return feed, nil
}

// SwapNotifications sets the notification flag to enabled only if it is
// still old. A feed whose flag has moved on yields ErrConflict.
func (s *SQLite) SwapNotifications(ctx context.Context, url string, old, enabled bool) (*model.Feed, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE feeds SET notifications_enabled = ? WHERE url = ? AND notifications_enabled = ? RETURNING `+feedColumns,
		boolToInt(enabled), url, boolToInt(old))
	feed, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		if _, gerr := s.GetFeed(ctx, url); gerr != nil {
			return nil, gerr
		}
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("swap notifications: %w", err)
	}
	return feed, nil
}

// DeleteFeed removes a feed.
func (s *SQLite) DeleteFeed(ctx context.Context, url string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM feeds WHERE url = ?`, url)
	if err != nil {
		return fmt.Errorf("delete feed: %w", err)
	}
	return requireRow(res)
}

// LastRefreshAt returns the time of the last completed refresh, or nil.
func (s *SQLite) LastRefreshAt(ctx context.Context) (*time.Time, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM refresh_state WHERE key = ?`, keyLastRefresh,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last refresh: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, fmt.Errorf("parse last refresh %q: %w", value, err)
	}
	return &t, nil
}

// SetLastRefreshAt records the time of the last completed refresh.
func (s *SQLite) SetLastRefreshAt(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO refresh_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		keyLastRefresh, t.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("set last refresh: %w", err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanFeed(row scannable) (*model.Feed, error) {
	var f model.Feed
	var favorite, notify int
	var created string
	err := row.Scan(&f.URL, &f.Title, &f.Description, &f.ImageURL, &favorite, &notify, &created)
	if err != nil {
		return nil, fmt.Errorf("scan feed: %w", err)
	}
	f.IsFavorite = favorite == 1
	f.NotificationsEnabled = notify == 1
	f.CreatedAt, _ = time.Parse(timeLayout, created)
	return &f, nil
}

func scanFeeds(rows *sql.Rows) ([]model.Feed, error) {
	var feeds []model.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, *f)
	}
	return feeds, rows.Err()
}
