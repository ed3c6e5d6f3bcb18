// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package multitask provides the composite task: an ordered list of
// sub-tasks run sequentially as one logical operation, with aggregated
// progress, collected partial failures and forwarded cancellation.
//
// The composite is a best-effort batch. A sub-task failure is recorded
// and never stops the sub-tasks after it: skipping the remainder of a
// fleet-wide operation because one member failed would leave the fleet
// in a worse, harder-to-diagnose state than attempting every member
// and reporting the union of failures.
package multitask

import (
	"sync"

	"github.com/juju/clock"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/juju/hostops/core/task"
	"github.com/juju/hostops/rbac"
)

var logger = loggo.GetLogger("hostops.multitask")

// ErrPartialFailure is the exposed terminal error of a composite in
// which one or more sub-tasks failed. It is deliberately generic: it
// gives callers one stable error value to branch on, with the detail
// available from Failures.
var ErrPartialFailure = errors.New("some errors were encountered")

// Config describes a composite task.
type Config struct {
	Title            string
	StartDescription string
	EndDescription   string

	// Tasks are run in order. The list is fixed at construction and
	// must not be empty or contain a nil element. A task instance must
	// not be shared between two composites.
	Tasks []task.Task

	// ShowSubTaskDetails forwards each sub-task's title and
	// description changes through the composite's own change
	// notification, so an observer watching only the composite sees
	// live sub-task identity.
	ShowSubTaskDetails bool

	// Resolver, if set, is consulted when a sub-task fails with a
	// permission-denied error. Escalation changes the session's
	// subsequent authorization only; the failed sub-task is not
	// re-run.
	Resolver rbac.Resolver

	Clock clock.Clock
}

// Validate returns an error if the config cannot describe a composite
// task.
func (c Config) Validate() error {
	if c.Title == "" {
		return errors.NotValidf("empty Title")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if len(c.Tasks) == 0 {
		return errors.NotValidf("empty Tasks")
	}
	for i, sub := range c.Tasks {
		if sub == nil {
			return errors.NotValidf("nil task at index %d", i)
		}
	}
	return nil
}

// Task runs an ordered list of sub-tasks sequentially as one
// cancellable operation. It implements task.Task itself, so composites
// nest and anything able to run a task can run a composite.
type Task struct {
	*task.Base
	config Config

	mu             sync.Mutex
	subTitle       string
	subDescription string
	failures       []error
	firstFailure   error
	unsubs         []func()
	forwardingDown bool
}

// New returns a composite task over config.Tasks. When detail
// surfacing is enabled the sub-task subscriptions are registered here,
// before execution begins.
func New(config Config) (*Task, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	base, err := task.NewBase(task.BaseConfig{
		Title:            config.Title,
		StartDescription: config.StartDescription,
		EndDescription:   config.EndDescription,
		Clock:            config.Clock,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	t := &Task{Base: base, config: config}
	if config.ShowSubTaskDetails {
		for _, sub := range config.Tasks {
			t.unsubs = append(t.unsubs, sub.OnChange(t.forwardSubChange))
		}
	}
	// However the composite reaches a terminal state, no sub-task may
	// be left running against a connection the caller has abandoned.
	t.Base.OnCompletion(func(task.Change) {
		t.cancelIncompleteSubTasks()
		t.teardownForwarding()
	})
	return t, nil
}

// RequiredPermissions implements task.Task. It returns the union of
// every sub-task's required permissions in first-seen order, letting a
// caller make one up-front authorization check for the whole
// operation.
func (t *Task) RequiredPermissions() []string {
	seen := set.NewStrings()
	var union []string
	for _, sub := range t.config.Tasks {
		for _, method := range sub.RequiredPermissions() {
			if seen.Contains(method) {
				continue
			}
			seen.Add(method)
			union = append(union, method)
		}
	}
	return union
}

// Execute implements task.Task. Sub-tasks run in list order, strictly
// sequentially, all against the supplied connection; a sub-task
// failure is recorded and the batch carries on. The composite
// completes once every sub-task has been attempted, with
// ErrPartialFailure recorded when any of them failed.
func (t *Task) Execute(conn task.Connection) error {
	if err := t.Begin(); err != nil {
		return errors.Trace(err)
	}
	total := len(t.config.Tasks)
	for i, sub := range t.config.Tasks {
		if t.CancelRequested() {
			t.Finish(task.ErrCancelled)
			return t.Err()
		}
		logger.Debugf("%s: running sub-task %d/%d %q", t.Title(), i+1, total, sub.Title())
		err := sub.Execute(conn)
		if err != nil && !t.CancelRequested() {
			if rbac.IsPermissionDenied(err) && t.config.Resolver != nil && conn != nil {
				if t.config.Resolver.TryEscalate(err, conn) {
					// The sub-task that was denied is not re-run;
					// escalation benefits the sub-tasks still to come.
					logger.Debugf("%s: session escalated after %q was denied", t.Title(), sub.Title())
				}
			}
			t.recordFailure(err)
		}
		t.SetPercentComplete(100 * (i + 1) / total)
	}
	if t.CancelRequested() {
		t.Finish(task.ErrCancelled)
		return t.Err()
	}
	failures := t.Failures()
	if len(failures) == 0 {
		t.Finish(nil)
		return nil
	}
	for i, err := range failures {
		logger.Errorf("%s: sub-task failure %d of %d: %v", t.Title(), i+1, len(failures), err)
	}
	t.FinishCompleted(ErrPartialFailure)
	return t.Err()
}

// Cancel implements task.Task. The request is forwarded immediately to
// every sub-task not already terminal, so a sub-task blocked on remote
// I/O observes it without waiting for the composite's loop to regain
// control.
func (t *Task) Cancel() {
	t.Base.Cancel()
	t.cancelIncompleteSubTasks()
}

// Failures returns the recorded sub-task failures in execution order.
func (t *Task) Failures() []error {
	t.mu.Lock()
	defer t.mu.Unlock()
	failures := make([]error, len(t.failures))
	copy(failures, t.failures)
	return failures
}

// FirstFailure returns the error of the first sub-task to fail, nil if
// none has.
func (t *Task) FirstFailure() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.firstFailure
}

// SubTaskTitle returns the title of the most recently active sub-task.
// It is only maintained when detail surfacing is enabled.
func (t *Task) SubTaskTitle() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subTitle
}

// SubTaskDescription returns the description of the most recently
// active sub-task. It is only maintained when detail surfacing is
// enabled.
func (t *Task) SubTaskDescription() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subDescription
}

// Teardown implements the disposal contract: the detail-forwarding
// subscriptions are dropped along with the composite's own observers.
// Idempotent, and safe when detail surfacing was never enabled.
func (t *Task) Teardown() {
	t.teardownForwarding()
	t.Base.Teardown()
}

func (t *Task) recordFailure(err error) {
	t.mu.Lock()
	t.failures = append(t.failures, err)
	first := t.firstFailure == nil
	if first {
		t.firstFailure = err
	}
	t.mu.Unlock()
	if first {
		// Held as the exposed error until the loop finishes; a
		// non-empty failure list then replaces it with
		// ErrPartialFailure.
		t.SetErr(err)
	}
}

func (t *Task) forwardSubChange(change task.Change) {
	t.mu.Lock()
	t.subTitle = change.Title
	t.subDescription = change.Description
	t.mu.Unlock()
	t.NotifyChanged()
}

func (t *Task) cancelIncompleteSubTasks() {
	for _, sub := range t.config.Tasks {
		if sub.Status().Terminal() {
			continue
		}
		sub.Cancel()
	}
}

func (t *Task) teardownForwarding() {
	t.mu.Lock()
	if t.forwardingDown {
		t.mu.Unlock()
		return
	}
	t.forwardingDown = true
	unsubs := t.unsubs
	t.unsubs = nil
	t.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}
