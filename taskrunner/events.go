// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package taskrunner

import (
	"github.com/juju/hostops/core/task"
)

// Topics on which the runner republishes task notifications. UI
// observers subscribe to the hub instead of wiring to every task.
const (
	TopicTaskChanged   = "taskrunner.task-changed"
	TopicTaskCompleted = "taskrunner.task-completed"
)

// ChangeEvent is published on TopicTaskChanged whenever the running
// task's visible state changes.
type ChangeEvent struct {
	OperationID string
	Change      task.Change
}

// CompletedEvent is published on TopicTaskCompleted exactly once, when
// the running task reaches a terminal state.
type CompletedEvent struct {
	OperationID string
	Change      task.Change

	// Err is the task's terminal error, possibly an aggregate for a
	// composite, nil on clean completion.
	Err error
}
