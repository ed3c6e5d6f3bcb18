// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package rbac classifies permission-denied failures from the remote
// management API and attempts credential escalation against the
// session they occurred on.
package rbac

import (
	"fmt"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/juju/hostops/core/task"
)

var logger = loggo.GetLogger("hostops.rbac")

// PermissionDeniedError reports that the session was not authorized to
// invoke a remote API method.
type PermissionDeniedError struct {
	// Method is the remote API method that was denied.
	Method string
}

// Error is part of the error interface.
func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied for method %q", e.Method)
}

// NewPermissionDenied returns a PermissionDeniedError for method.
func NewPermissionDenied(method string) error {
	return &PermissionDeniedError{Method: method}
}

// IsPermissionDenied reports whether err, however wrapped, is a
// PermissionDeniedError.
func IsPermissionDenied(err error) bool {
	_, ok := errors.Cause(err).(*PermissionDeniedError)
	return ok
}

// DeniedMethod returns the method a permission-denied error refers to,
// or the empty string if err is not one.
func DeniedMethod(err error) string {
	if denied, ok := errors.Cause(err).(*PermissionDeniedError); ok {
		return denied.Method
	}
	return ""
}

// Resolver attempts to recover from a permission-denied failure by
// escalating the session's credentials. It reports whether the session
// was re-authenticated. It does not re-run the operation that failed:
// escalation affects only the session's subsequent authorization.
type Resolver interface {
	TryEscalate(failure error, conn task.Connection) bool
}

// Missing returns, in first-seen order, the methods the session is not
// authorized to invoke. Duplicates in methods are dropped. Callers use
// it for one up-front check covering a whole operation.
func Missing(session task.Session, methods []string) []string {
	seen := set.NewStrings()
	var missing []string
	for _, method := range methods {
		if seen.Contains(method) {
			continue
		}
		seen.Add(method)
		if !session.Authorized(method) {
			missing = append(missing, method)
		}
	}
	return missing
}
