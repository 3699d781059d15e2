// Package bgtask runs registered background tasks at requested times within
// a fixed execution budget.
//
// A task is registered once under an identifier. Submitting a request arms a
// timer for its earliest begin date; when the timer fires the handler runs
// with a context bounded by the budget. A handler that has not completed when
// the budget elapses has its expiration handler invoked.
package bgtask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	// ErrAlreadyRegistered is returned when an identifier is registered twice.
	ErrAlreadyRegistered = errors.New("task already registered")
	// ErrNotRegistered is returned when submitting an unknown identifier.
	ErrNotRegistered = errors.New("task not registered")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("scheduler closed")
)

// Handler runs one launch of a task. It must eventually call
// SetTaskCompleted.
type Handler func(ctx context.Context, task *Task)

// Request asks for a task to run no earlier than EarliestBegin.
type Request struct {
	Identifier    string
	EarliestBegin time.Time
}

type entry struct {
	req   Request
	timer *time.Timer
}

// Scheduler holds registered handlers and pending requests.
type Scheduler struct {
	budget time.Duration
	log    *slog.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	pending  map[string]*entry
	closed   bool
	wg       sync.WaitGroup
}

// New creates a Scheduler whose launches may run for at most budget.
func New(budget time.Duration, log *slog.Logger) *Scheduler {
	return &Scheduler{
		budget:   budget,
		log:      log,
		handlers: make(map[string]Handler),
		pending:  make(map[string]*entry),
	}
}

// Register binds handler to id.
func (s *Scheduler) Register(id string, handler Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handlers[id]; ok {
		return fmt.Errorf("register %q: %w", id, ErrAlreadyRegistered)
	}
	s.handlers[id] = handler
	return nil
}

// Submit arms req, replacing any pending request with the same identifier.
func (s *Scheduler) Submit(req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, ok := s.handlers[req.Identifier]; !ok {
		return fmt.Errorf("submit %q: %w", req.Identifier, ErrNotRegistered)
	}
	if old, ok := s.pending[req.Identifier]; ok {
		old.timer.Stop()
	}

	e := &entry{req: req}
	delay := max(time.Until(req.EarliestBegin), 0)
	e.timer = time.AfterFunc(delay, func() { s.fire(e) })
	s.pending[req.Identifier] = e

	s.log.Debug("background task submitted", "id", req.Identifier, "earliest_begin", req.EarliestBegin)
	return nil
}

// PendingRequests returns the requests that have not launched yet.
func (s *Scheduler) PendingRequests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Request, 0, len(s.pending))
	for _, e := range s.pending {
		out = append(out, e.req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

// Cancel drops the pending request for id.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.pending[id]; ok {
		e.timer.Stop()
		delete(s.pending, id)
	}
}

// Launch starts the pending request for id immediately. It reports whether a
// request was pending.
func (s *Scheduler) Launch(id string) bool {
	s.mu.Lock()
	e, ok := s.pending[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	e.timer.Stop()
	return s.fire(e)
}

// Close cancels pending requests and waits for running tasks.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for id, e := range s.pending {
		e.timer.Stop()
		delete(s.pending, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) fire(e *entry) bool {
	s.mu.Lock()
	if s.pending[e.req.Identifier] != e || s.closed {
		s.mu.Unlock()
		return false
	}
	delete(s.pending, e.req.Identifier)
	handler := s.handlers[e.req.Identifier]
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.run(e.req.Identifier, handler)
	}()
	return true
}

func (s *Scheduler) run(id string, handler Handler) {
	ctx, cancel := context.WithTimeout(context.Background(), s.budget)
	defer cancel()

	task := newTask(id)
	start := time.Now()
	s.log.Info("background task launched", "id", id)

	go handler(ctx, task)

	select {
	case <-task.done:
		s.log.Info("background task completed",
			"id", id, "success", task.Success(), "duration", time.Since(start))
	case <-ctx.Done():
		s.log.Warn("background task expired", "id", id, "budget", s.budget)
		task.expire()
		<-task.done
	}
}
