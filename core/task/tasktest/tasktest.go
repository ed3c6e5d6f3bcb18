// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package tasktest provides in-memory connections and sessions for
// testing task implementations.
package tasktest

import (
	"sync"

	"github.com/juju/names/v5"
	"github.com/juju/testing"

	"github.com/juju/hostops/core/task"
)

// Session is an in-memory task.Session. Calls are recorded on Stub,
// and Reauthenticate failures are driven by the stub's error sequence.
type Session struct {
	Stub *testing.Stub

	mu         sync.Mutex
	user       names.UserTag
	authorized map[string]bool
}

// NewSession returns a session authenticated as user, authorized for
// the given methods.
func NewSession(user names.UserTag, methods ...string) *Session {
	s := &Session{
		Stub:       &testing.Stub{},
		user:       user,
		authorized: make(map[string]bool),
	}
	s.Authorize(methods...)
	return s
}

// Authorize marks the given methods as permitted for the session.
func (s *Session) Authorize(methods ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, method := range methods {
		s.authorized[method] = true
	}
}

// AuthTag is part of the task.Session interface.
func (s *Session) AuthTag() names.UserTag {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Authorized is part of the task.Session interface.
func (s *Session) Authorized(method string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authorized[method]
}

// Reauthenticate is part of the task.Session interface.
func (s *Session) Reauthenticate(user names.UserTag, password string) error {
	s.Stub.AddCall("Reauthenticate", user, password)
	if err := s.Stub.NextErr(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
	return nil
}

// Connection is an in-memory task.Connection.
type Connection struct {
	ConnID      string
	ConnSession task.Session
}

// NewConnection returns a connection wrapping the given session.
func NewConnection(id string, session task.Session) *Connection {
	return &Connection{ConnID: id, ConnSession: session}
}

// ID is part of the task.Connection interface.
func (c *Connection) ID() string {
	return c.ConnID
}

// Session is part of the task.Connection interface.
func (c *Connection) Session() task.Session {
	return c.ConnSession
}
