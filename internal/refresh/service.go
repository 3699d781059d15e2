// Package refresh re-fetches notification-enabled feeds in the background and
// raises one notification for every item published since the previous run.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"rss_reader/internal/apperr"
	"rss_reader/internal/bgtask"
	"rss_reader/internal/model"
	"rss_reader/internal/notify"
	"rss_reader/internal/sanitize"
)

// TaskIdentifier names the refresh task in the background scheduler.
const TaskIdentifier = "rss_reader.refresh"

const (
	defaultInterval = 15 * time.Minute
	debounceWindow  = 3 * time.Second
	defaultStagger  = time.Second
	bodySnippetLen  = 200
)

// ErrNotConfigured is returned when scheduling before Configure.
var ErrNotConfigured = errors.New("refresh service not configured")

// TaskScheduler runs the refresh task at requested times.
type TaskScheduler interface {
	Register(id string, handler bgtask.Handler) error
	Submit(req bgtask.Request) error
	PendingRequests() []bgtask.Request
}

// FeedStore provides the persisted feeds and the last check time.
type FeedStore interface {
	ListNotificationFeeds(ctx context.Context) ([]model.Feed, error)
	LastRefreshAt(ctx context.Context) (*time.Time, error)
	SetLastRefreshAt(ctx context.Context, t time.Time) error
}

// ItemFetcher downloads the current items of a feed.
type ItemFetcher interface {
	FetchItems(ctx context.Context, url string) ([]model.FeedItem, error)
}

// Notifier schedules local notifications.
type Notifier interface {
	RequestAuthorization(ctx context.Context) (bool, error)
	Add(ctx context.Context, req notify.Request) error
}

// Recorder receives refresh metrics.
type Recorder interface {
	RecordRefresh(d time.Duration, err error)
	RecordFetch(err error, parseFailure bool)
	RecordNotifications(n int)
}

// Error reports feeds that failed during one refresh run.
type Error struct {
	Failed int
	Total  int
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d of %d feeds failed to refresh: %v", e.Failed, e.Total, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Service schedules and performs background refreshes. Its mutable state is
// guarded by mu, ScheduleAppRefresh runs one call at a time, and refresh runs
// never overlap.
type Service struct {
	scheduler TaskScheduler
	store     FeedStore
	fetcher   ItemFetcher
	notifier  Notifier
	recorder  Recorder
	log       *slog.Logger

	interval time.Duration
	stagger  time.Duration
	now      func() time.Time

	running chan struct{}

	mu              sync.Mutex
	configured      bool
	needsScheduling bool
	lastAttempt     time.Time
	retry           *time.Timer
}

// New creates a Service with a 15 minute refresh interval.
func New(scheduler TaskScheduler, store FeedStore, fetcher ItemFetcher, notifier Notifier, log *slog.Logger) *Service {
	return &Service{
		scheduler: scheduler,
		store:     store,
		fetcher:   fetcher,
		notifier:  notifier,
		recorder:  nopRecorder{},
		log:       log,
		interval:  defaultInterval,
		stagger:   defaultStagger,
		now:       time.Now,
		running:   make(chan struct{}, 1),
	}
}

// SetInterval overrides the delay between scheduled refreshes.
func (s *Service) SetInterval(d time.Duration) {
	s.interval = d
}

// SetRecorder installs a metrics recorder.
func (s *Service) SetRecorder(r Recorder) {
	s.recorder = r
}

// Configure registers the refresh task. Later calls are no-ops. A schedule
// request made before configuration is honoured here.
func (s *Service) Configure(ctx context.Context) error {
	s.mu.Lock()
	if s.configured {
		s.mu.Unlock()
		return nil
	}
	if err := s.scheduler.Register(TaskIdentifier, s.handleTask); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("register refresh task: %w", err)
	}
	s.configured = true
	pending := s.needsScheduling
	s.mu.Unlock()

	s.log.Info("background refresh configured", "interval", s.interval)
	if pending {
		return s.ScheduleAppRefresh(ctx)
	}
	return nil
}

// ScheduleAppRefresh requests the next refresh. Requests arriving within
// three seconds of the previous attempt are folded into a single retry at the
// end of the window. Nothing is submitted when a request is already pending
// or no feed has notifications enabled.
func (s *Service) ScheduleAppRefresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.needsScheduling = true
	if !s.configured {
		return ErrNotConfigured
	}

	now := s.now()
	if since := now.Sub(s.lastAttempt); !s.lastAttempt.IsZero() && since < debounceWindow {
		s.armRetry(debounceWindow - since)
		s.log.Debug("refresh scheduling debounced", "retry_in", debounceWindow-since)
		return nil
	}
	s.lastAttempt = now

	if s.hasPendingRequest() {
		s.needsScheduling = false
		return nil
	}

	feeds, err := s.store.ListNotificationFeeds(ctx)
	if err != nil {
		return fmt.Errorf("list notification feeds: %w", err)
	}
	if len(feeds) == 0 {
		s.needsScheduling = false
		s.log.Debug("no feeds with notifications, refresh not scheduled")
		return nil
	}

	begin := now.Add(s.interval)
	if err := s.scheduler.Submit(bgtask.Request{Identifier: TaskIdentifier, EarliestBegin: begin}); err != nil {
		return fmt.Errorf("submit refresh request: %w", err)
	}
	s.needsScheduling = false
	s.log.Info("background refresh scheduled", "earliest_begin", begin, "feeds", len(feeds))
	return nil
}

// NeedsScheduling reports whether a schedule request is still outstanding.
func (s *Service) NeedsScheduling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.needsScheduling
}

// Close stops a pending debounce retry.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}

func (s *Service) armRetry(after time.Duration) {
	if s.retry != nil {
		return
	}
	s.retry = time.AfterFunc(after, func() {
		s.mu.Lock()
		s.retry = nil
		needed := s.needsScheduling
		s.mu.Unlock()
		if !needed {
			return
		}
		if err := s.ScheduleAppRefresh(context.Background()); err != nil {
			s.log.Error("retry refresh scheduling", "error", err)
		}
	})
}

func (s *Service) hasPendingRequest() bool {
	for _, r := range s.scheduler.PendingRequests() {
		if r.Identifier == TaskIdentifier {
			return true
		}
	}
	return false
}

type newItem struct {
	feed model.Feed
	item model.FeedItem
}

// Refresh fetches every notification-enabled feed and schedules a
// notification for each item published after the last recorded check. A
// failing feed does not stop the others; if any failed, an *Error is returned
// after all feeds have been processed. A call made while another run is in
// progress waits for it to finish. When notifications are not authorized a
// PermissionDenied error is returned and the check time is left unchanged.
func (s *Service) Refresh(ctx context.Context) error {
	select {
	case s.running <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.running }()

	start := s.now()

	feeds, err := s.store.ListNotificationFeeds(ctx)
	if err != nil {
		return fmt.Errorf("list notification feeds: %w", err)
	}

	since, err := s.store.LastRefreshAt(ctx)
	if err != nil {
		return fmt.Errorf("load last refresh: %w", err)
	}
	cutoff := start.Add(-s.interval)
	if since != nil {
		cutoff = *since
	}

	var (
		found    []newItem
		failures []error
	)
	for _, feed := range feeds {
		if err := ctx.Err(); err != nil {
			return err
		}
		items, err := s.fetcher.FetchItems(ctx, feed.URL)
		s.recorder.RecordFetch(err, apperr.Is(err, apperr.Parse))
		if err != nil {
			s.log.Error("refresh feed", "feed_url", feed.URL, "error", err)
			failures = append(failures, fmt.Errorf("%s: %w", feed.URL, err))
			continue
		}
		for _, it := range items {
			if it.PublishedAfter(cutoff) {
				found = append(found, newItem{feed: feed, item: it})
			}
		}
	}

	if len(found) > 0 {
		granted, err := s.notifier.RequestAuthorization(ctx)
		if err != nil {
			return apperr.Wrap(apperr.PermissionDenied, "request authorization", err)
		}
		if !granted {
			s.log.Warn("refresh found new items but notifications are not authorized", "new_items", len(found))
			return apperr.New(apperr.PermissionDenied, "notifications are not authorized")
		}
	}

	scheduled, err := s.notify(ctx, found)
	s.recorder.RecordNotifications(scheduled)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.store.SetLastRefreshAt(ctx, start); err != nil {
		return fmt.Errorf("save last refresh: %w", err)
	}

	s.log.Info("refresh finished",
		"feeds", len(feeds), "failed", len(failures), "new_items", len(found), "notifications", scheduled)

	if len(failures) > 0 {
		return &Error{Failed: len(failures), Total: len(feeds), Err: errors.Join(failures...)}
	}
	return nil
}

// notify schedules the items oldest first, each one stagger later than the
// previous, and returns how many were accepted. It stops at the first
// PermissionDenied and returns that error.
func (s *Service) notify(ctx context.Context, found []newItem) (int, error) {
	sort.SliceStable(found, func(i, j int) bool {
		return found[i].item.PubDate.Before(*found[j].item.PubDate)
	})

	scheduled := 0
	for i, n := range found {
		req := notify.Request{
			Title:    n.feed.DisplayTitle(),
			Body:     notificationBody(n.item),
			Link:     n.item.Link,
			Delay:    time.Duration(i+1) * s.stagger,
			ThreadID: n.feed.URL,
		}
		if err := s.notifier.Add(ctx, req); err != nil {
			s.log.Error("schedule notification", "feed_url", n.feed.URL, "item", n.item.Link, "error", err)
			if apperr.Is(err, apperr.PermissionDenied) {
				return scheduled, err
			}
			continue
		}
		scheduled++
	}
	return scheduled, nil
}

func notificationBody(it model.FeedItem) string {
	snippet := sanitize.Plain(it.Description, bodySnippetLen)
	if snippet == "" {
		return it.Title
	}
	return it.Title + "\n\n" + snippet
}

func (s *Service) handleTask(ctx context.Context, task *bgtask.Task) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	task.SetExpirationHandler(cancel)

	start := time.Now()
	err := s.Refresh(runCtx)
	s.recorder.RecordRefresh(time.Since(start), err)
	if err != nil {
		s.log.Error("background refresh", "error", err)
	}

	if serr := s.ScheduleAppRefresh(context.Background()); serr != nil {
		s.log.Error("re-arm background refresh", "error", serr)
	}
	task.SetTaskCompleted(err == nil)
}

type nopRecorder struct{}

func (nopRecorder) RecordRefresh(time.Duration, error) {}
func (nopRecorder) RecordFetch(error, bool)            {}
func (nopRecorder) RecordNotifications(int)            {}
