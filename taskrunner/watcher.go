// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package taskrunner

import (
	"sync"

	"github.com/juju/pubsub/v2"
	"gopkg.in/tomb.v2"

	"github.com/juju/hostops/core/task"
)

// ProgressWatcher surfaces the hub's task events as a channel of
// snapshots, for observers that prefer channel semantics over
// callbacks. Delivery is latest-wins: a slow consumer sees the most
// recent snapshot, not every intermediate one.
type ProgressWatcher struct {
	tomb    tomb.Tomb
	changes chan task.Change
	// We can't send down a closed channel, so protect the sending
	// with a mutex and bool.
	closed bool
	mu     sync.Mutex

	operationID string
}

// NewProgressWatcher returns a watcher emitting snapshots for the
// given operation ID, or for every operation if the ID is empty.
func NewProgressWatcher(hub *pubsub.SimpleHub, operationID string) *ProgressWatcher {
	w := &ProgressWatcher{
		changes:     make(chan task.Change, 1),
		operationID: operationID,
	}
	unsubChanged := hub.Subscribe(TopicTaskChanged, w.onEvent)
	unsubCompleted := hub.Subscribe(TopicTaskCompleted, w.onEvent)
	w.tomb.Go(func() error {
		<-w.tomb.Dying()
		unsubChanged()
		unsubCompleted()
		return nil
	})
	return w
}

// Changes returns the snapshot channel. It is closed when the watcher
// is killed.
func (w *ProgressWatcher) Changes() <-chan task.Change {
	return w.changes
}

// Kill is part of the worker.Worker interface.
func (w *ProgressWatcher) Kill() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	// The watcher must be dying before the channel closes, otherwise
	// readers could see a closed channel from a watcher still
	// reporting itself alive.
	w.tomb.Kill(nil)
	w.closed = true
	close(w.changes)
}

// Wait is part of the worker.Worker interface.
func (w *ProgressWatcher) Wait() error {
	return w.tomb.Wait()
}

// Stop kills the watcher and waits for it to finish.
func (w *ProgressWatcher) Stop() error {
	w.Kill()
	return w.Wait()
}

func (w *ProgressWatcher) onEvent(topic string, data interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	var operationID string
	var change task.Change
	switch event := data.(type) {
	case ChangeEvent:
		operationID, change = event.OperationID, event.Change
	case CompletedEvent:
		operationID, change = event.OperationID, event.Change
	default:
		logger.Criticalf("programming error: topic data expected ChangeEvent or CompletedEvent, got %T", data)
		return
	}
	if w.operationID != "" && operationID != w.operationID {
		return
	}
	// Drop a stale pending snapshot so the latest one wins. Sending
	// inside the mutex means nobody can close the channel under us.
	select {
	case <-w.changes:
	default:
	}
	select {
	case w.changes <- change:
	default:
	}
}
