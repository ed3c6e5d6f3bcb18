// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package task defines the contract for long-lived administrative
// operations run against members of a host fleet: cancellable,
// progress-reporting units of work bound to a shared management
// connection. Leaf tasks wrap a single remote operation; composite
// tasks sequence many of them as one logical operation.
package task

import (
	"github.com/juju/errors"
	"github.com/juju/names/v5"
)

// Status describes where a task is in its lifecycle.
type Status string

const (
	NotStarted Status = "not started"
	Running    Status = "running"
	Completed  Status = "completed"
	Cancelled  Status = "cancelled"
	Failed     Status = "failed"
)

// Terminal reports whether the status is one a task never leaves.
func (s Status) Terminal() bool {
	switch s {
	case Completed, Cancelled, Failed:
		return true
	}
	return false
}

// ErrCancelled is the terminal error of a task that was cancelled
// before it could complete.
var ErrCancelled = errors.New("task cancelled")

// IsCancelled reports whether err indicates a cancelled task.
func IsCancelled(err error) bool {
	return errors.Cause(err) == ErrCancelled
}

// Change is a point-in-time snapshot of an observable task, published
// to observers whenever the task's visible state changes. Observers
// must treat it as read-only.
type Change struct {
	Title           string
	Description     string
	Status          Status
	PercentComplete int
}

// Session is an authenticated capability against the remote management
// API. Establishing one is outside this module's scope; tasks only
// consume it.
type Session interface {
	// AuthTag identifies the user the session is authenticated as.
	AuthTag() names.UserTag

	// Authorized reports whether the session may invoke the named
	// API method.
	Authorized(method string) bool

	// Reauthenticate replaces the session's credentials in place,
	// typically to escalate to a more privileged role. Tasks already
	// running continue on the same session object.
	Reauthenticate(user names.UserTag, password string) error
}

// Connection is the shared context a task executes against. It is
// passed through unmodified to every task of an operation; no task may
// assume exclusive ownership of it.
type Connection interface {
	// ID identifies the connection in log messages.
	ID() string

	// Session returns the authentication session bound to this
	// connection.
	Session() Session
}

// Task is a single cancellable, progress-reporting operation.
//
// Execute runs the task to a terminal state against the supplied
// connection and returns the terminal error, if any. Execute is called
// at most once; a task instance is not reusable.
type Task interface {
	Execute(conn Connection) error

	// Cancel requests cooperative cancellation. It is safe to call at
	// any point in the lifecycle, from any goroutine, and is a no-op
	// once the task is terminal.
	Cancel()

	Status() Status
	Err() error
	PercentComplete() int
	Title() string
	Description() string

	// RequiredPermissions lists the remote API methods that must be
	// authorized for the task to succeed.
	RequiredPermissions() []string

	// OnChange registers an observer invoked with a snapshot whenever
	// the task's visible state changes. The returned function removes
	// the registration and is safe to call more than once.
	OnChange(fn func(Change)) (unsubscribe func())

	// OnCompletion registers an observer invoked exactly once, when
	// the task reaches a terminal state. Observers registered after
	// that point are never invoked.
	OnCompletion(fn func(Change)) (unsubscribe func())
}
