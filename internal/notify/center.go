// Package notify schedules local notifications and hands them to a delivery
// channel once their delay has elapsed.
package notify

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"rss_reader/internal/apperr"
)

// Request describes one notification. ThreadID groups notifications of the
// same feed and holds the feed URL; Link points at the item.
type Request struct {
	ID       string
	Title    string
	Body     string
	Link     string
	Delay    time.Duration
	ThreadID string
}

// Deliverer sends notifications to the user.
type Deliverer interface {
	// Ready reports whether notifications can be delivered at all.
	Ready(ctx context.Context) error
	Deliver(ctx context.Context, req Request) error
}

// AuthorizationStatus is the outcome of asking for permission to notify.
type AuthorizationStatus int

// Authorization states. NotDetermined moves to Authorized or Denied once.
const (
	NotDetermined AuthorizationStatus = iota
	Authorized
	Denied
)

func (s AuthorizationStatus) String() string {
	switch s {
	case Authorized:
		return "authorized"
	case Denied:
		return "denied"
	}
	return "not_determined"
}

type pending struct {
	req     Request
	timer   *time.Timer
	fireAt  time.Time
	ordinal int
}

// Center keeps pending notifications and delivers them when they fire.
type Center struct {
	deliverer Deliverer
	log       *slog.Logger

	mu      sync.Mutex
	status  AuthorizationStatus
	pending map[string]*pending
	seq     int
	wg      sync.WaitGroup
}

// NewCenter creates a Center delivering through d. A nil d denies every
// authorization request.
func NewCenter(d Deliverer, log *slog.Logger) *Center {
	return &Center{
		deliverer: d,
		log:       log,
		pending:   make(map[string]*pending),
	}
}

// RequestAuthorization asks the deliverer once whether it can deliver and
// remembers the answer. The deliverer is consulted without holding the lock;
// when two callers race, the first decision stored wins.
func (c *Center) RequestAuthorization(ctx context.Context) (bool, error) {
	c.mu.Lock()
	status := c.status
	c.mu.Unlock()
	if status != NotDetermined {
		return status == Authorized, nil
	}

	decided := Denied
	if c.deliverer != nil {
		if err := c.deliverer.Ready(ctx); err != nil {
			c.log.Warn("notification delivery unavailable", "error", err)
		} else {
			decided = Authorized
		}
	}

	c.mu.Lock()
	if c.status == NotDetermined {
		c.status = decided
		c.log.Info("notification authorization decided", "status", decided.String())
	}
	status = c.status
	c.mu.Unlock()
	return status == Authorized, nil
}

// AuthorizationStatus returns the current authorization state.
func (c *Center) AuthorizationStatus() AuthorizationStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Add schedules req for delivery after req.Delay. An empty ID is replaced by
// a random one; an existing request with the same ID is replaced.
func (c *Center) Add(_ context.Context, req Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != Authorized {
		return apperr.New(apperr.PermissionDenied, "notifications are not authorized")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if old, ok := c.pending[req.ID]; ok {
		old.timer.Stop()
		delete(c.pending, req.ID)
	}

	c.seq++
	p := &pending{req: req, fireAt: time.Now().Add(req.Delay), ordinal: c.seq}
	p.timer = time.AfterFunc(req.Delay, func() { c.fire(p) })
	c.pending[req.ID] = p
	return nil
}

func (c *Center) fire(p *pending) {
	c.mu.Lock()
	if c.pending[p.req.ID] != p {
		c.mu.Unlock()
		return
	}
	delete(c.pending, p.req.ID)
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	if err := c.deliverer.Deliver(context.Background(), p.req); err != nil {
		c.log.Error("deliver notification", "id", p.req.ID, "thread", p.req.ThreadID, "error", err)
		return
	}
	c.log.Debug("notification delivered", "id", p.req.ID, "thread", p.req.ThreadID)
}

// Pending returns the requests not yet delivered, earliest first.
func (c *Center) Pending() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := make([]*pending, 0, len(c.pending))
	for _, p := range c.pending {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].fireAt.Equal(list[j].fireAt) {
			return list[i].fireAt.Before(list[j].fireAt)
		}
		return list[i].ordinal < list[j].ordinal
	})

	out := make([]Request, len(list))
	for i, p := range list {
		out[i] = p.req
	}
	return out
}

// Remove cancels the pending requests with the given IDs.
func (c *Center) Remove(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if p, ok := c.pending[id]; ok {
			p.timer.Stop()
			delete(c.pending, id)
		}
	}
}

// RemoveAll cancels every pending request.
func (c *Center) RemoveAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, id)
	}
}

// Close cancels pending requests and waits for in-flight deliveries.
func (c *Center) Close() {
	c.RemoveAll()
	c.wg.Wait()
}
