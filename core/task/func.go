// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package task

import (
	"github.com/juju/errors"
	"github.com/juju/names/v5"
)

// FuncConfig describes a leaf task wrapping a single function.
type FuncConfig struct {
	BaseConfig

	// Target optionally names the fleet member the operation applies
	// to, for log messages and observers.
	Target names.Tag

	// Run performs the operation. It receives the shared connection
	// and the task itself, through which it reports progress and
	// observes cancellation via Done.
	Run func(conn Connection, t *Func) error
}

// Validate returns an error if the config cannot drive a task.
func (c FuncConfig) Validate() error {
	if err := c.BaseConfig.Validate(); err != nil {
		return errors.Trace(err)
	}
	if c.Run == nil {
		return errors.NotValidf("nil Run")
	}
	return nil
}

var _ Task = (*Func)(nil)

// Func is a leaf Task wrapping one function.
type Func struct {
	*Base
	config FuncConfig
}

// NewFunc returns a task that runs the configured function.
func NewFunc(config FuncConfig) (*Func, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	base, err := NewBase(config.BaseConfig)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Func{Base: base, config: config}, nil
}

// Target returns the fleet member the operation applies to, which may
// be nil.
func (f *Func) Target() names.Tag {
	return f.config.Target
}

// Execute implements Task. It runs the configured function to a
// terminal state and returns the terminal error, if any.
func (f *Func) Execute(conn Connection) error {
	if err := f.Begin(); err != nil {
		return errors.Trace(err)
	}
	err := f.config.Run(conn, f)
	if err == nil && f.CancelRequested() {
		// The function returned cleanly after a cancellation request
		// without observing it; honour the request.
		err = ErrCancelled
	}
	f.Finish(err)
	return f.Err()
}
