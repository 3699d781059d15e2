package bgtask

import "sync"

// Task is one launch of a registered background task.
type Task struct {
	Identifier string

	mu         sync.Mutex
	expiration func()
	expired    bool
	success    bool
	once       sync.Once
	done       chan struct{}
}

func newTask(id string) *Task {
	return &Task{Identifier: id, done: make(chan struct{})}
}

// SetExpirationHandler installs fn to be called if the budget elapses before
// the task completes. fn must lead to SetTaskCompleted.
func (t *Task) SetExpirationHandler(fn func()) {
	t.mu.Lock()
	t.expiration = fn
	expired := t.expired
	t.mu.Unlock()
	if expired && fn != nil {
		fn()
	}
}

// SetTaskCompleted marks the launch finished. Only the first call counts.
func (t *Task) SetTaskCompleted(success bool) {
	t.once.Do(func() {
		t.mu.Lock()
		t.success = success
		t.mu.Unlock()
		close(t.done)
	})
}

// Success reports the value passed to SetTaskCompleted.
func (t *Task) Success() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.success
}

// Done is closed once the task completes.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) expire() {
	t.mu.Lock()
	t.expired = true
	fn := t.expiration
	t.mu.Unlock()
	if fn != nil {
		fn()
		return
	}
	t.SetTaskCompleted(false)
}
