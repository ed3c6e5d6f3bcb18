// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package taskrunner executes a task as one asynchronous unit of work:
// a worker owning the goroutine the task runs on, forwarding Kill to
// the task's cooperative cancellation and fanning task notifications
// out over a pubsub hub.
package taskrunner

import (
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/pubsub/v2"
	"github.com/juju/worker/v4/catacomb"

	"github.com/juju/hostops/core/task"
)

var logger = loggo.GetLogger("hostops.taskrunner")

// Config defines the operation of a runner worker.
type Config struct {
	// Task is run once, on the worker's own goroutine. A composite
	// task runs its sub-tasks sequentially within that same goroutine.
	Task task.Task

	// Connection is the shared context the task executes against.
	Connection task.Connection

	// Hub, if set, receives ChangeEvent and CompletedEvent
	// republications of the task's notifications.
	Hub *pubsub.SimpleHub

	// Collector, if set, records run counts and durations.
	Collector *Collector

	Clock clock.Clock
}

// Validate returns an error if the config cannot drive a runner.
func (config Config) Validate() error {
	if config.Task == nil {
		return errors.NotValidf("nil Task")
	}
	if config.Connection == nil {
		return errors.NotValidf("nil Connection")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	return nil
}

// Worker runs a single task to a terminal state. Kill cancels the task
// cooperatively; Wait returns once the task has stopped. A task
// finishing with a recorded error is still a clean run from the
// worker's point of view: the outcome lives on the task, not in Wait.
type Worker struct {
	catacomb catacomb.Catacomb
	config   Config

	operationID string
	unsubs      []func()
}

// NewWorker starts running config.Task and returns the worker owning
// the run.
func NewWorker(config Config) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	w := &Worker{
		config:      config,
		operationID: uuid.New().String(),
	}
	if config.Hub != nil {
		w.unsubs = append(w.unsubs,
			config.Task.OnChange(w.publishChanged),
			config.Task.OnCompletion(w.publishCompleted),
		)
	}
	err := catacomb.Invoke(catacomb.Plan{
		Site: &w.catacomb,
		Work: w.loop,
	})
	if err != nil {
		w.unsubscribe()
		return nil, errors.Trace(err)
	}
	return w, nil
}

// OperationID identifies this run in log messages and published
// events.
func (w *Worker) OperationID() string {
	return w.operationID
}

// Kill is part of the worker.Worker interface.
func (w *Worker) Kill() {
	w.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *Worker) Wait() error {
	return w.catacomb.Wait()
}

// Report returns introspection details for the engine report.
func (w *Worker) Report() map[string]interface{} {
	return map[string]interface{}{
		"operation-id":     w.operationID,
		"title":            w.config.Task.Title(),
		"status":           string(w.config.Task.Status()),
		"percent-complete": w.config.Task.PercentComplete(),
	}
}

func (w *Worker) loop() error {
	defer w.unsubscribe()

	t := w.config.Task
	if c := w.config.Collector; c != nil {
		c.started.Inc()
	}
	start := w.config.Clock.Now()
	logger.Debugf("operation %s: running %q on connection %q",
		w.operationID, t.Title(), w.config.Connection.ID())

	done := make(chan error, 1)
	go func() {
		done <- t.Execute(w.config.Connection)
	}()

	var runErr error
	select {
	case <-w.catacomb.Dying():
		t.Cancel()
		runErr = <-done
		w.observe(start)
		return w.catacomb.ErrDying()
	case runErr = <-done:
	}
	w.observe(start)

	switch {
	case runErr == nil:
		logger.Debugf("operation %s: %q completed", w.operationID, t.Title())
	case task.IsCancelled(runErr):
		logger.Debugf("operation %s: %q cancelled", w.operationID, t.Title())
	default:
		logger.Errorf("operation %s: %q finished with error: %v",
			w.operationID, t.Title(), runErr)
	}
	return nil
}

func (w *Worker) observe(start time.Time) {
	c := w.config.Collector
	if c == nil {
		return
	}
	c.duration.Observe(w.config.Clock.Now().Sub(start).Seconds())
	c.finished.WithLabelValues(string(w.config.Task.Status())).Inc()
}

func (w *Worker) publishChanged(change task.Change) {
	_ = w.config.Hub.Publish(TopicTaskChanged, ChangeEvent{
		OperationID: w.operationID,
		Change:      change,
	})
}

func (w *Worker) publishCompleted(change task.Change) {
	_ = w.config.Hub.Publish(TopicTaskCompleted, CompletedEvent{
		OperationID: w.operationID,
		Change:      change,
		Err:         w.config.Task.Err(),
	})
}

func (w *Worker) unsubscribe() {
	for _, unsub := range w.unsubs {
		unsub()
	}
	w.unsubs = nil
}
