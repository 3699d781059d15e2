package refresh

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"rss_reader/internal/apperr"
	"rss_reader/internal/bgtask"
	"rss_reader/internal/model"
	"rss_reader/internal/notify"
)

// --- fakes ---

type fakeScheduler struct {
	mu         sync.Mutex
	registered int
	submits    int
	pending    map[string]bgtask.Request
	submitErr  error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{pending: make(map[string]bgtask.Request)}
}

func (f *fakeScheduler) Register(_ string, _ bgtask.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered++
	return nil
}

func (f *fakeScheduler) Submit(req bgtask.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submits++
	f.pending[req.Identifier] = req
	return nil
}

func (f *fakeScheduler) PendingRequests() []bgtask.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []bgtask.Request
	for _, r := range f.pending {
		out = append(out, r)
	}
	return out
}

type fakeStore struct {
	mu          sync.Mutex
	feeds       []model.Feed
	lastRefresh *time.Time
}

func (f *fakeStore) ListNotificationFeeds(_ context.Context) ([]model.Feed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Feed
	for _, feed := range f.feeds {
		if feed.NotificationsEnabled {
			out = append(out, feed)
		}
	}
	return out, nil
}

func (f *fakeStore) LastRefreshAt(_ context.Context) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastRefresh, nil
}

func (f *fakeStore) SetLastRefreshAt(_ context.Context, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRefresh = &t
	return nil
}

type fakeFetcher struct {
	items map[string][]model.FeedItem
	errs  map[string]error
	delay time.Duration
}

func (f *fakeFetcher) FetchItems(_ context.Context, url string) ([]model.FeedItem, error) {
	time.Sleep(f.delay)
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	return f.items[url], nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	requests []notify.Request
	err      error
	denied   bool
	asked    int
}

func (r *recordingNotifier) RequestAuthorization(context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asked++
	return !r.denied, nil
}

func (r *recordingNotifier) Add(_ context.Context, req notify.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.requests = append(r.requests, req)
	return nil
}

func (r *recordingNotifier) all() []notify.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Request, len(r.requests))
	copy(out, r.requests)
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- helpers ---

var base = time.Date(2025, 8, 12, 10, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := base.Add(d)
	return &t
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	svc      *Service
	sched    *fakeScheduler
	store    *fakeStore
	fetcher  *fakeFetcher
	notifier *recordingNotifier
	clock    *clock
}

func newFixture(t *testing.T, feeds ...model.Feed) *fixture {
	t.Helper()
	f := &fixture{
		sched:    newFakeScheduler(),
		store:    &fakeStore{feeds: feeds},
		fetcher:  &fakeFetcher{items: map[string][]model.FeedItem{}, errs: map[string]error{}},
		notifier: &recordingNotifier{},
		clock:    &clock{now: base},
	}
	f.svc = New(f.sched, f.store, f.fetcher, f.notifier, discardLogger())
	f.svc.now = f.clock.Now
	t.Cleanup(f.svc.Close)
	return f
}

func enabledFeed(url, title string) model.Feed {
	return model.Feed{URL: url, Title: title, NotificationsEnabled: true}
}

// --- configuration and scheduling ---

func TestConfigureIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := f.svc.Configure(ctx); err != nil {
			t.Fatalf("configure #%d: %v", i, err)
		}
	}
	if diff := cmp.Diff(1, f.sched.registered); diff != "" {
		t.Errorf("register count mismatch (-want +got):\n%s", diff)
	}
}

func TestScheduleBeforeConfigure(t *testing.T) {
	f := newFixture(t, enabledFeed("https://a.example.com/rss", "A"))
	ctx := context.Background()

	if err := f.svc.ScheduleAppRefresh(ctx); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if !f.svc.NeedsScheduling() {
		t.Error("expected scheduling to remain needed")
	}

	if err := f.svc.Configure(ctx); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if diff := cmp.Diff(1, f.sched.submits); diff != "" {
		t.Errorf("configure should honour the earlier request (-want +got):\n%s", diff)
	}
	if f.svc.NeedsScheduling() {
		t.Error("expected scheduling flag cleared")
	}
}

func TestScheduleSubmitsAtInterval(t *testing.T) {
	f := newFixture(t, enabledFeed("https://a.example.com/rss", "A"))
	ctx := context.Background()
	f.svc.SetInterval(30 * time.Minute)

	if err := f.svc.Configure(ctx); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := f.svc.ScheduleAppRefresh(ctx); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	want := []bgtask.Request{{Identifier: TaskIdentifier, EarliestBegin: base.Add(30 * time.Minute)}}
	if diff := cmp.Diff(want, f.sched.PendingRequests()); diff != "" {
		t.Errorf("pending mismatch (-want +got):\n%s", diff)
	}
	if f.svc.NeedsScheduling() {
		t.Error("expected scheduling flag cleared after submit")
	}
}

func TestScheduleDebounce(t *testing.T) {
	f := newFixture(t, enabledFeed("https://a.example.com/rss", "A"))
	ctx := context.Background()
	if err := f.svc.Configure(ctx); err != nil {
		t.Fatalf("configure: %v", err)
	}

	if err := f.svc.ScheduleAppRefresh(ctx); err != nil {
		t.Fatalf("first schedule: %v", err)
	}
	// Drop the pending request so only the debounce can prevent a second submit.
	f.sched.mu.Lock()
	delete(f.sched.pending, TaskIdentifier)
	f.sched.mu.Unlock()

	f.clock.Advance(time.Second)
	if err := f.svc.ScheduleAppRefresh(ctx); err != nil {
		t.Fatalf("second schedule: %v", err)
	}
	if diff := cmp.Diff(1, f.sched.submits); diff != "" {
		t.Errorf("submit count mismatch (-want +got):\n%s", diff)
	}
	if !f.svc.NeedsScheduling() {
		t.Error("debounced request should stay outstanding")
	}

	f.clock.Advance(3 * time.Second)
	if err := f.svc.ScheduleAppRefresh(ctx); err != nil {
		t.Fatalf("third schedule: %v", err)
	}
	if diff := cmp.Diff(2, f.sched.submits); diff != "" {
		t.Errorf("submit count after window mismatch (-want +got):\n%s", diff)
	}
}

func TestScheduleTwiceWithinWindowKeepsOnePending(t *testing.T) {
	f := newFixture(t, enabledFeed("https://a.example.com/rss", "A"))
	ctx := context.Background()
	if err := f.svc.Configure(ctx); err != nil {
		t.Fatalf("configure: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := f.svc.ScheduleAppRefresh(ctx); err != nil {
			t.Fatalf("schedule #%d: %v", i, err)
		}
		f.clock.Advance(500 * time.Millisecond)
	}
	if diff := cmp.Diff(1, len(f.sched.PendingRequests())); diff != "" {
		t.Errorf("pending count mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(1, f.sched.submits); diff != "" {
		t.Errorf("submit count mismatch (-want +got):\n%s", diff)
	}
}

func TestScheduleUnnecessary(t *testing.T) {
	tests := []struct {
		name    string
		feeds   []model.Feed
		pending bool
	}{
		{
			name:  "no feeds with notifications",
			feeds: []model.Feed{{URL: "https://a.example.com/rss"}},
		},
		{
			name:    "request already pending",
			feeds:   []model.Feed{enabledFeed("https://a.example.com/rss", "A")},
			pending: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.feeds...)
			ctx := context.Background()
			if err := f.svc.Configure(ctx); err != nil {
				t.Fatalf("configure: %v", err)
			}
			if tt.pending {
				f.sched.pending[TaskIdentifier] = bgtask.Request{Identifier: TaskIdentifier, EarliestBegin: base}
			}

			if err := f.svc.ScheduleAppRefresh(ctx); err != nil {
				t.Fatalf("schedule: %v", err)
			}
			if diff := cmp.Diff(0, f.sched.submits); diff != "" {
				t.Errorf("submit count mismatch (-want +got):\n%s", diff)
			}
			if f.svc.NeedsScheduling() {
				t.Error("expected scheduling flag cleared")
			}
		})
	}
}

func TestScheduleSubmitFailureKeepsFlag(t *testing.T) {
	f := newFixture(t, enabledFeed("https://a.example.com/rss", "A"))
	ctx := context.Background()
	if err := f.svc.Configure(ctx); err != nil {
		t.Fatalf("configure: %v", err)
	}
	f.sched.submitErr = errors.New("too many pending requests")

	if err := f.svc.ScheduleAppRefresh(ctx); err == nil {
		t.Fatal("expected submit error")
	}
	if !f.svc.NeedsScheduling() {
		t.Error("expected scheduling to remain needed after failed submit")
	}
}

// --- refresh ---

func TestRefreshFanOut(t *testing.T) {
	a := enabledFeed("https://a.example.com/rss", "Feed A")
	b := enabledFeed("https://b.example.com/rss", "Feed B")
	muted := model.Feed{URL: "https://muted.example.com/rss", Title: "Muted"}
	f := newFixture(t, a, b, muted)

	f.store.lastRefresh = at(-time.Hour)
	f.fetcher.items[a.URL] = []model.FeedItem{
		{FeedID: a.URL, Title: "A new", Link: "https://a.example.com/2", PubDate: at(-10 * time.Minute), Description: "<p>Fresh <b>news</b></p>"},
		{FeedID: a.URL, Title: "A old", Link: "https://a.example.com/1", PubDate: at(-2 * time.Hour)},
		{FeedID: a.URL, Title: "A undated", Link: "https://a.example.com/0"},
	}
	f.fetcher.items[b.URL] = []model.FeedItem{
		{FeedID: b.URL, Title: "B newest", Link: "https://b.example.com/3", PubDate: at(-5 * time.Minute)},
		{FeedID: b.URL, Title: "B newer", Link: "https://b.example.com/2", PubDate: at(-30 * time.Minute)},
	}
	f.fetcher.items[muted.URL] = []model.FeedItem{
		{FeedID: muted.URL, Title: "Muted new", Link: "https://muted.example.com/1", PubDate: at(-time.Minute)},
	}

	if err := f.svc.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	got := f.notifier.all()
	want := []notify.Request{
		{Title: "Feed B", Body: "B newer", Link: "https://b.example.com/2", Delay: 1 * time.Second, ThreadID: b.URL},
		{Title: "Feed A", Body: "A new\n\nFresh news", Link: "https://a.example.com/2", Delay: 2 * time.Second, ThreadID: a.URL},
		{Title: "Feed B", Body: "B newest", Link: "https://b.example.com/3", Delay: 3 * time.Second, ThreadID: b.URL},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("notifications mismatch (-want +got):\n%s", diff)
	}

	for i := 1; i < len(got); i++ {
		if got[i].Delay <= got[i-1].Delay {
			t.Errorf("delay %d (%v) not greater than delay %d (%v)", i, got[i].Delay, i-1, got[i-1].Delay)
		}
	}

	if f.store.lastRefresh == nil || !f.store.lastRefresh.Equal(base) {
		t.Errorf("last refresh = %v, want %v", f.store.lastRefresh, base)
	}
}

func TestRefreshWithoutPreviousCheck(t *testing.T) {
	a := enabledFeed("https://a.example.com/rss", "A")
	f := newFixture(t, a)
	f.svc.SetInterval(15 * time.Minute)
	f.fetcher.items[a.URL] = []model.FeedItem{
		{Title: "within interval", Link: "https://a.example.com/1", PubDate: at(-10 * time.Minute)},
		{Title: "before interval", Link: "https://a.example.com/0", PubDate: at(-20 * time.Minute)},
	}

	if err := f.svc.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	var bodies []string
	for _, r := range f.notifier.all() {
		bodies = append(bodies, r.Body)
	}
	if diff := cmp.Diff([]string{"within interval"}, bodies); diff != "" {
		t.Errorf("notified items mismatch (-want +got):\n%s", diff)
	}
}

func TestRefreshPerFeedFailure(t *testing.T) {
	bad := enabledFeed("https://bad.example.com/rss", "Bad")
	good := enabledFeed("https://good.example.com/rss", "Good")
	f := newFixture(t, bad, good)
	f.store.lastRefresh = at(-time.Hour)

	f.fetcher.errs[bad.URL] = apperr.Wrap(apperr.Network, "http get", errors.New("connection refused"))
	f.fetcher.items[good.URL] = []model.FeedItem{
		{Title: "Good news", Link: "https://good.example.com/1", PubDate: at(-time.Minute)},
	}

	err := f.svc.Refresh(context.Background())
	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if diff := cmp.Diff(Error{Failed: 1, Total: 2}, *rerr, cmpIgnoreErr); diff != "" {
		t.Errorf("error mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(apperr.Network, apperr.KindOf(err)); diff != "" {
		t.Errorf("wrapped kind mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(1, len(f.notifier.all())); diff != "" {
		t.Errorf("remaining feeds should still notify (-want +got):\n%s", diff)
	}
}

func TestRefreshAllSucceedReturnsNil(t *testing.T) {
	a := enabledFeed("https://a.example.com/rss", "A")
	f := newFixture(t, a)
	f.fetcher.items[a.URL] = nil

	if err := f.svc.Refresh(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestRefreshCancelled(t *testing.T) {
	a := enabledFeed("https://a.example.com/rss", "A")
	f := newFixture(t, a)
	f.fetcher.items[a.URL] = []model.FeedItem{
		{Title: "x", Link: "https://a.example.com/1", PubDate: at(-time.Minute)},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := f.svc.Refresh(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(f.notifier.all()) != 0 {
		t.Error("expected no notifications for a cancelled refresh")
	}
	if f.store.lastRefresh != nil {
		t.Error("expected last refresh untouched for a cancelled refresh")
	}
}

func TestRefreshStopsNotifyingWhenDenied(t *testing.T) {
	a := enabledFeed("https://a.example.com/rss", "A")
	f := newFixture(t, a)
	f.store.lastRefresh = at(-time.Hour)
	f.notifier.err = apperr.New(apperr.PermissionDenied, "denied")
	f.fetcher.items[a.URL] = []model.FeedItem{
		{Title: "1", Link: "https://a.example.com/1", PubDate: at(-time.Minute)},
		{Title: "2", Link: "https://a.example.com/2", PubDate: at(-2 * time.Minute)},
	}

	err := f.svc.Refresh(context.Background())
	if diff := cmp.Diff(apperr.PermissionDenied, apperr.KindOf(err)); diff != "" {
		t.Errorf("error kind mismatch (-want +got):\n%s", diff)
	}
	if len(f.notifier.all()) != 0 {
		t.Error("expected no accepted notifications")
	}
	if !f.store.lastRefresh.Equal(*at(-time.Hour)) {
		t.Errorf("last refresh = %v, want it unchanged", f.store.lastRefresh)
	}
}

func TestRefreshNotAuthorizedKeepsCheckTime(t *testing.T) {
	tests := []struct {
		name      string
		items     []model.FeedItem
		wantAsked int
		advanced  bool
	}{
		{
			name:      "new items",
			items:     []model.FeedItem{{Title: "1", Link: "https://a.example.com/1", PubDate: at(-time.Minute)}},
			wantAsked: 1,
		},
		{
			name:      "nothing new",
			items:     []model.FeedItem{{Title: "0", Link: "https://a.example.com/0", PubDate: at(-2 * time.Hour)}},
			wantAsked: 0,
			advanced:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := enabledFeed("https://a.example.com/rss", "A")
			f := newFixture(t, a)
			f.store.lastRefresh = at(-time.Hour)
			f.notifier.denied = true
			f.fetcher.items[a.URL] = tt.items

			err := f.svc.Refresh(context.Background())
			if tt.advanced {
				if err != nil {
					t.Fatalf("refresh: %v", err)
				}
			} else if diff := cmp.Diff(apperr.PermissionDenied, apperr.KindOf(err)); diff != "" {
				t.Errorf("error kind mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantAsked, f.notifier.asked); diff != "" {
				t.Errorf("authorization requests (-want +got):\n%s", diff)
			}
			want := *at(-time.Hour)
			if tt.advanced {
				want = base
			}
			if !f.store.lastRefresh.Equal(want) {
				t.Errorf("last refresh = %v, want %v", f.store.lastRefresh, want)
			}
		})
	}
}

type readyDeliverer struct{}

func (readyDeliverer) Ready(context.Context) error                   { return nil }
func (readyDeliverer) Deliver(context.Context, notify.Request) error { return nil }

func TestRefreshAuthorizesFreshCenter(t *testing.T) {
	a := enabledFeed("https://a.example.com/rss", "A")
	f := newFixture(t, a)
	f.store.lastRefresh = at(-time.Hour)
	f.fetcher.items[a.URL] = []model.FeedItem{
		{Title: "new", Link: "https://a.example.com/1", PubDate: at(-time.Minute)},
	}

	center := notify.NewCenter(readyDeliverer{}, discardLogger())
	t.Cleanup(center.Close)
	f.svc.notifier = center

	if err := f.svc.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if diff := cmp.Diff(notify.Authorized, center.AuthorizationStatus()); diff != "" {
		t.Errorf("authorization status (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(1, len(center.Pending())); diff != "" {
		t.Errorf("pending notifications (-want +got):\n%s", diff)
	}
}

func TestConcurrentRefreshesDoNotDuplicate(t *testing.T) {
	a := enabledFeed("https://a.example.com/rss", "A")
	f := newFixture(t, a)
	f.store.lastRefresh = at(-time.Hour)
	f.fetcher.delay = 50 * time.Millisecond
	f.fetcher.items[a.URL] = []model.FeedItem{
		{Title: "new", Link: "https://a.example.com/1", PubDate: at(-time.Minute)},
	}

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.svc.Refresh(context.Background()); err != nil {
				t.Errorf("refresh: %v", err)
			}
		}()
	}
	wg.Wait()

	if diff := cmp.Diff(1, len(f.notifier.all())); diff != "" {
		t.Errorf("notifications for one new item (-want +got):\n%s", diff)
	}
}

func TestRefreshWaitingRunHonoursContext(t *testing.T) {
	f := newFixture(t)
	f.svc.running <- struct{}{}
	defer func() { <-f.svc.running }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.svc.Refresh(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

var cmpIgnoreErr = cmp.FilterPath(func(p cmp.Path) bool {
	return p.Last().String() == ".Err"
}, cmp.Ignore())

// --- task handler ---

func TestTaskAlwaysRearms(t *testing.T) {
	tests := []struct {
		name string
		fail bool
	}{
		{name: "successful refresh"},
		{name: "failed refresh", fail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := enabledFeed("https://a.example.com/rss", "A")
			f := newFixture(t, a)
			if tt.fail {
				f.fetcher.errs[a.URL] = errors.New("boom")
			}

			sched := bgtask.New(5*time.Second, discardLogger())
			t.Cleanup(sched.Close)
			f.svc.scheduler = sched
			f.clock.now = time.Now()

			ctx := context.Background()
			if err := f.svc.Configure(ctx); err != nil {
				t.Fatalf("configure: %v", err)
			}
			if err := f.svc.ScheduleAppRefresh(ctx); err != nil {
				t.Fatalf("schedule: %v", err)
			}

			f.clock.Advance(time.Minute)
			if !sched.Launch(TaskIdentifier) {
				t.Fatal("expected a pending request to launch")
			}

			deadline := time.After(2 * time.Second)
			for len(sched.PendingRequests()) == 0 {
				select {
				case <-deadline:
					t.Fatal("refresh task did not re-arm")
				case <-time.After(5 * time.Millisecond):
				}
			}

			got := sched.PendingRequests()
			if diff := cmp.Diff(TaskIdentifier, got[0].Identifier); diff != "" {
				t.Errorf("identifier mismatch (-want +got):\n%s", diff)
			}
			f.store.mu.Lock()
			recorded := f.store.lastRefresh != nil
			f.store.mu.Unlock()
			if !recorded {
				t.Error("expected the run to record its check time")
			}
		})
	}
}
