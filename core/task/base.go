// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package task

import (
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
)

// BaseConfig holds the immutable identity of a task.
type BaseConfig struct {
	Title               string
	StartDescription    string
	EndDescription      string
	RequiredPermissions []string
	Clock               clock.Clock
}

// Validate returns an error if the config cannot describe a task.
func (c BaseConfig) Validate() error {
	if c.Title == "" {
		return errors.NotValidf("empty Title")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	return nil
}

type observer struct {
	id int
	fn func(Change)
}

// Base implements the observable state machine shared by every task:
// monotonic progress, latest-wins title and description, an at most
// once terminal transition, and cooperative cancellation. Concrete
// tasks embed a *Base and drive it from their Execute.
type Base struct {
	config BaseConfig

	mu          sync.Mutex
	title       string
	description string
	status      Status
	percent     int
	err         error
	started     time.Time
	finished    time.Time

	changeObservers     []observer
	completionObservers []observer
	nextObserverID      int
	completionFired     bool
	tornDown            bool

	done     chan struct{}
	doneOnce sync.Once
}

// NewBase returns a Base describing a not yet started task.
func NewBase(config BaseConfig) (*Base, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Base{
		config:      config,
		title:       config.Title,
		description: config.StartDescription,
		status:      NotStarted,
		done:        make(chan struct{}),
	}, nil
}

// Title returns the task's current title.
func (b *Base) Title() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.title
}

// Description returns the task's current description.
func (b *Base) Description() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.description
}

// Status returns the task's current lifecycle status.
func (b *Base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Err returns the task's error, nil before any failure is recorded.
func (b *Base) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// PercentComplete returns the task's progress in the range 0 to 100.
func (b *Base) PercentComplete() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.percent
}

// RequiredPermissions returns a copy of the remote API methods the
// task needs authorized.
func (b *Base) RequiredPermissions() []string {
	perms := make([]string, len(b.config.RequiredPermissions))
	copy(perms, b.config.RequiredPermissions)
	return perms
}

// Started returns when the task began running, zero if it never has.
func (b *Base) Started() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

// Finished returns when the task became terminal, zero until then.
func (b *Base) Finished() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finished
}

// SetTitle updates the task's title and notifies observers.
func (b *Base) SetTitle(title string) {
	b.mu.Lock()
	if b.title == title {
		b.mu.Unlock()
		return
	}
	b.title = title
	b.mu.Unlock()
	b.NotifyChanged()
}

// SetDescription updates the task's description and notifies observers.
func (b *Base) SetDescription(description string) {
	b.mu.Lock()
	if b.description == description {
		b.mu.Unlock()
		return
	}
	b.description = description
	b.mu.Unlock()
	b.NotifyChanged()
}

// SetPercentComplete advances the task's progress. Progress is
// monotonic while running; values below the current one or outside
// 0..100 are clamped.
func (b *Base) SetPercentComplete(percent int) {
	b.mu.Lock()
	if percent > 100 {
		percent = 100
	}
	if percent <= b.percent {
		b.mu.Unlock()
		return
	}
	b.percent = percent
	b.mu.Unlock()
	b.NotifyChanged()
}

// SetErr records err as the task's error without making the task
// terminal. A composite uses this to hold the first sub-task failure
// while later sub-tasks are still being attempted.
func (b *Base) SetErr(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

// Begin moves the task from NotStarted to Running. It returns
// ErrCancelled if the task was cancelled before it started, or another
// error if the task has already run.
func (b *Base) Begin() error {
	b.mu.Lock()
	switch {
	case b.status == Cancelled:
		b.mu.Unlock()
		return ErrCancelled
	case b.status.Terminal():
		status := b.status
		b.mu.Unlock()
		return errors.Errorf("task already %s", status)
	case b.status == Running:
		b.mu.Unlock()
		return errors.New("task already running")
	}
	b.status = Running
	b.started = b.config.Clock.Now()
	b.description = b.config.StartDescription
	b.mu.Unlock()
	b.NotifyChanged()
	return nil
}

// Finish moves the task to its terminal state: Completed if err is
// nil, Cancelled if err indicates cancellation, Failed otherwise.
// Only the first terminal transition has any effect.
func (b *Base) Finish(err error) {
	switch {
	case err == nil:
		b.finishAs(Completed, nil)
	case IsCancelled(err):
		b.finishAs(Cancelled, ErrCancelled)
	default:
		b.finishAs(Failed, err)
	}
}

// FinishCompleted moves the task to Completed while still recording
// err. A composite finishes this way when the batch ran to the end but
// some sub-tasks failed: completion with an aggregate error rather
// than a hard failure.
func (b *Base) FinishCompleted(err error) {
	b.finishAs(Completed, err)
}

// Cancel requests cooperative cancellation. A task that has not
// started goes straight to Cancelled; a running task is signalled via
// Done and is expected to stop and Finish with ErrCancelled; a
// terminal task is left untouched.
func (b *Base) Cancel() {
	b.mu.Lock()
	if b.status.Terminal() {
		b.mu.Unlock()
		return
	}
	b.doneOnce.Do(func() { close(b.done) })
	if b.status == NotStarted {
		b.mu.Unlock()
		b.finishAs(Cancelled, ErrCancelled)
		return
	}
	b.mu.Unlock()
}

// Done returns a channel closed when cancellation has been requested.
// Task implementations select on it at their suspension points.
func (b *Base) Done() <-chan struct{} {
	return b.done
}

// CancelRequested reports whether Cancel has been called.
func (b *Base) CancelRequested() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// OnChange implements Task.
func (b *Base) OnChange(fn func(Change)) func() {
	return b.addObserver(&b.changeObservers, fn)
}

// OnCompletion implements Task.
func (b *Base) OnCompletion(fn func(Change)) func() {
	b.mu.Lock()
	if b.completionFired {
		b.mu.Unlock()
		return func() {}
	}
	b.mu.Unlock()
	return b.addObserver(&b.completionObservers, fn)
}

func (b *Base) addObserver(list *[]observer, fn func(Change)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tornDown {
		return func() {}
	}
	id := b.nextObserverID
	b.nextObserverID++
	*list = append(*list, observer{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, o := range *list {
			if o.id == id {
				*list = append((*list)[:i], (*list)[i+1:]...)
				return
			}
		}
	}
}

// NotifyChanged publishes the current snapshot to change observers.
// Observers run on the caller's goroutine, in registration order, and
// must not block.
func (b *Base) NotifyChanged() {
	b.mu.Lock()
	fns := make([]func(Change), len(b.changeObservers))
	for i, o := range b.changeObservers {
		fns[i] = o.fn
	}
	snapshot := b.snapshotLocked()
	b.mu.Unlock()
	for _, fn := range fns {
		fn(snapshot)
	}
}

// Teardown drops every registered observer. It is idempotent and safe
// to call whether or not observers were ever registered.
func (b *Base) Teardown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tornDown {
		return
	}
	b.tornDown = true
	b.changeObservers = nil
	b.completionObservers = nil
}

func (b *Base) finishAs(status Status, err error) {
	b.mu.Lock()
	if b.status.Terminal() {
		b.mu.Unlock()
		return
	}
	b.status = status
	b.err = err
	b.finished = b.config.Clock.Now()
	if status == Completed {
		b.description = b.config.EndDescription
	}
	b.completionFired = true
	changed := make([]func(Change), len(b.changeObservers))
	for i, o := range b.changeObservers {
		changed[i] = o.fn
	}
	completion := make([]func(Change), len(b.completionObservers))
	for i, o := range b.completionObservers {
		completion[i] = o.fn
	}
	snapshot := b.snapshotLocked()
	b.mu.Unlock()
	for _, fn := range changed {
		fn(snapshot)
	}
	for _, fn := range completion {
		fn(snapshot)
	}
}

func (b *Base) snapshotLocked() Change {
	return Change{
		Title:           b.title,
		Description:     b.description,
		Status:          b.status,
		PercentComplete: b.percent,
	}
}
