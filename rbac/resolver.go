// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package rbac

import (
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/names/v5"
	"github.com/juju/retry"

	"github.com/juju/hostops/core/task"
)

var retryDelay = 500 * time.Millisecond

// ErrDeclined is returned by a CredentialProvider when no elevated
// credentials are forthcoming, typically because the user dismissed
// the prompt.
var ErrDeclined = errors.New("credential request declined")

// CredentialProvider supplies elevated credentials for a denied
// method. Implementations usually prompt the user out-of-band.
type CredentialProvider interface {
	ElevatedCredentials(method string) (names.UserTag, string, error)
}

// CredentialResolverConfig holds the dependencies of a
// CredentialResolver.
type CredentialResolverConfig struct {
	Provider CredentialProvider
	Clock    clock.Clock

	// Attempts bounds re-authentication attempts against the session;
	// zero means the default of 3.
	Attempts int
}

// Validate returns an error if the config cannot drive a resolver.
func (c CredentialResolverConfig) Validate() error {
	if c.Provider == nil {
		return errors.NotValidf("nil Provider")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	return nil
}

// CredentialResolver is the default Resolver. On a permission-denied
// failure it asks its provider for elevated credentials and
// re-authenticates the connection's session in place, retrying
// transient authentication failures.
type CredentialResolver struct {
	config CredentialResolverConfig
}

// NewCredentialResolver returns a Resolver backed by config.
func NewCredentialResolver(config CredentialResolverConfig) (*CredentialResolver, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.Attempts == 0 {
		config.Attempts = 3
	}
	return &CredentialResolver{config: config}, nil
}

// TryEscalate implements Resolver.
func (r *CredentialResolver) TryEscalate(failure error, conn task.Connection) bool {
	method := DeniedMethod(failure)
	if method == "" {
		return false
	}
	user, password, err := r.config.Provider.ElevatedCredentials(method)
	if err != nil {
		if errors.Cause(err) == ErrDeclined {
			logger.Debugf("escalation for method %q declined", method)
		} else {
			logger.Errorf("obtaining elevated credentials for method %q: %v", method, err)
		}
		return false
	}
	session := conn.Session()
	previous := session.AuthTag()
	err = retry.Call(retry.CallArgs{
		Func: func() error {
			return session.Reauthenticate(user, password)
		},
		Attempts: r.config.Attempts,
		Delay:    retryDelay,
		Clock:    r.config.Clock,
	})
	if err != nil {
		logger.Errorf("re-authenticating connection %q as %q: %v", conn.ID(), user, err)
		return false
	}
	logger.Warningf("connection %q escalated from %q to %q for method %q",
		conn.ID(), previous, user, method)
	return true
}
