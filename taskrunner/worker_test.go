// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package taskrunner_test

import (
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/names/v5"
	"github.com/juju/pubsub/v2"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"

	"github.com/juju/hostops/core/task"
	"github.com/juju/hostops/core/task/tasktest"
	"github.com/juju/hostops/internal/testhelpers"
	"github.com/juju/hostops/taskrunner"
)

var _ worker.Worker = (*taskrunner.Worker)(nil)

type workerSuite struct {
	testing.IsolationSuite
	hub  *pubsub.SimpleHub
	conn *tasktest.Connection
}

var _ = gc.Suite(&workerSuite{})

func (s *workerSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.hub = pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{
		Logger: loggo.GetLogger("test.hub"),
	})
	session := tasktest.NewSession(names.NewUserTag("operator"))
	s.conn = tasktest.NewConnection("conn-0", session)
}

func (s *workerSuite) newTask(c *gc.C, run func(task.Connection, *task.Func) error) *task.Func {
	f, err := task.NewFunc(task.FuncConfig{
		BaseConfig: task.BaseConfig{
			Title:            "reboot host",
			StartDescription: "rebooting",
			EndDescription:   "rebooted",
			Clock:            clock.WallClock,
		},
		Run: run,
	})
	c.Assert(err, jc.ErrorIsNil)
	return f
}

// subscribeCompleted collects CompletedEvents published on the hub.
func (s *workerSuite) subscribeCompleted(c *gc.C) <-chan taskrunner.CompletedEvent {
	events := make(chan taskrunner.CompletedEvent, 10)
	unsub := s.hub.Subscribe(taskrunner.TopicTaskCompleted, func(_ string, data interface{}) {
		event, ok := data.(taskrunner.CompletedEvent)
		if !ok {
			c.Errorf("unexpected event payload %T", data)
			return
		}
		events <- event
	})
	s.AddCleanup(func(*gc.C) { unsub() })
	return events
}

func (s *workerSuite) TestValidateConfig(c *gc.C) {
	t := s.newTask(c, func(task.Connection, *task.Func) error { return nil })

	_, err := taskrunner.NewWorker(taskrunner.Config{
		Connection: s.conn, Clock: clock.WallClock,
	})
	c.Check(err, gc.ErrorMatches, "nil Task not valid")
	c.Check(err, jc.Satisfies, errors.IsNotValid)

	_, err = taskrunner.NewWorker(taskrunner.Config{
		Task: t, Clock: clock.WallClock,
	})
	c.Check(err, gc.ErrorMatches, "nil Connection not valid")

	_, err = taskrunner.NewWorker(taskrunner.Config{
		Task: t, Connection: s.conn,
	})
	c.Check(err, gc.ErrorMatches, "nil Clock not valid")
}

func (s *workerSuite) TestRunSuccess(c *gc.C) {
	events := s.subscribeCompleted(c)
	t := s.newTask(c, func(task.Connection, *task.Func) error { return nil })
	w, err := taskrunner.NewWorker(taskrunner.Config{
		Task:       t,
		Connection: s.conn,
		Hub:        s.hub,
		Clock:      clock.WallClock,
	})
	c.Assert(err, jc.ErrorIsNil)

	select {
	case event := <-events:
		c.Check(event.OperationID, gc.Equals, w.OperationID())
		c.Check(event.Err, jc.ErrorIsNil)
		c.Check(event.Change.Status, gc.Equals, task.Completed)
	case <-time.After(testhelpers.LongWait):
		c.Fatal("timed out waiting for completion event")
	}
	workertest.CleanKill(c, w)
	c.Check(t.Status(), gc.Equals, task.Completed)
}

func (s *workerSuite) TestCompletedPublishedOnce(c *gc.C) {
	events := s.subscribeCompleted(c)
	t := s.newTask(c, func(task.Connection, *task.Func) error { return nil })
	w, err := taskrunner.NewWorker(taskrunner.Config{
		Task:       t,
		Connection: s.conn,
		Hub:        s.hub,
		Clock:      clock.WallClock,
	})
	c.Assert(err, jc.ErrorIsNil)

	select {
	case <-events:
	case <-time.After(testhelpers.LongWait):
		c.Fatal("timed out waiting for completion event")
	}
	workertest.CleanKill(c, w)
	select {
	case event := <-events:
		c.Fatalf("unexpected second completion event: %#v", event)
	case <-time.After(testhelpers.ShortWait):
	}
}

func (s *workerSuite) TestFailedTaskIsStillACleanRun(c *gc.C) {
	events := s.subscribeCompleted(c)
	t := s.newTask(c, func(task.Connection, *task.Func) error {
		return errors.New("host went away")
	})
	w, err := taskrunner.NewWorker(taskrunner.Config{
		Task:       t,
		Connection: s.conn,
		Hub:        s.hub,
		Clock:      clock.WallClock,
	})
	c.Assert(err, jc.ErrorIsNil)

	select {
	case event := <-events:
		c.Check(event.Err, gc.ErrorMatches, "host went away")
		c.Check(event.Change.Status, gc.Equals, task.Failed)
	case <-time.After(testhelpers.LongWait):
		c.Fatal("timed out waiting for completion event")
	}
	// The failure lives on the task; the run itself was clean.
	workertest.CleanKill(c, w)
}

func (s *workerSuite) TestKillCancelsRunningTask(c *gc.C) {
	started := make(chan struct{})
	t := s.newTask(c, func(_ task.Connection, f *task.Func) error {
		close(started)
		<-f.Done()
		return task.ErrCancelled
	})
	w, err := taskrunner.NewWorker(taskrunner.Config{
		Task:       t,
		Connection: s.conn,
		Clock:      clock.WallClock,
	})
	c.Assert(err, jc.ErrorIsNil)

	select {
	case <-started:
	case <-time.After(testhelpers.LongWait):
		c.Fatal("timed out waiting for task to start")
	}
	workertest.CleanKill(c, w)
	c.Check(t.Status(), gc.Equals, task.Cancelled)
}

func (s *workerSuite) TestChangedEventsPublished(c *gc.C) {
	changes := make(chan taskrunner.ChangeEvent, 10)
	unsub := s.hub.Subscribe(taskrunner.TopicTaskChanged, func(_ string, data interface{}) {
		if event, ok := data.(taskrunner.ChangeEvent); ok {
			changes <- event
		}
	})
	defer unsub()

	t := s.newTask(c, func(_ task.Connection, f *task.Func) error {
		f.SetPercentComplete(50)
		return nil
	})
	w, err := taskrunner.NewWorker(taskrunner.Config{
		Task:       t,
		Connection: s.conn,
		Hub:        s.hub,
		Clock:      clock.WallClock,
	})
	c.Assert(err, jc.ErrorIsNil)
	defer workertest.CleanKill(c, w)

	timeout := time.After(testhelpers.LongWait)
	for sawProgress := false; !sawProgress; {
		select {
		case event := <-changes:
			c.Check(event.OperationID, gc.Equals, w.OperationID())
			sawProgress = event.Change.PercentComplete == 50
		case <-timeout:
			c.Fatal("timed out waiting for progress event")
		}
	}
}

func (s *workerSuite) TestReport(c *gc.C) {
	started := make(chan struct{})
	t := s.newTask(c, func(_ task.Connection, f *task.Func) error {
		close(started)
		<-f.Done()
		return task.ErrCancelled
	})
	w, err := taskrunner.NewWorker(taskrunner.Config{
		Task:       t,
		Connection: s.conn,
		Clock:      clock.WallClock,
	})
	c.Assert(err, jc.ErrorIsNil)
	defer workertest.CleanKill(c, w)

	select {
	case <-started:
	case <-time.After(testhelpers.LongWait):
		c.Fatal("timed out waiting for task to start")
	}
	report := w.Report()
	c.Check(report["operation-id"], gc.Equals, w.OperationID())
	c.Check(report["title"], gc.Equals, "reboot host")
	c.Check(report["status"], gc.Equals, "running")
}
