// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mockupdb

import (
	"time"

	"github.com/pkg/errors"
)

// TestingT is the subset of *testing.T (and testify's require.TestingT)
// that Going needs: enough to fail the test if the background call's
// result is never joined.
type TestingT interface {
	Helper()
	Cleanup(func())
	Errorf(format string, args ...interface{})
}

// Future is the outcome of a call started with Go or Going. Exactly one
// of the values Join returns is meaningful, per fn's own contract.
type Future struct {
	done   chan struct{}
	result interface{}
	err    error
	joined *bool // non-nil only for futures created via Going
}

// Go starts fn on a new goroutine and returns immediately. It is the Go
// analogue of running a driver call "in the background" while the test
// thread plays the server side of the conversation via Receive/Reply.
// This is a client-side convenience only: it has no dependency on any
// Server and works equally well against a real `mongod`.
func Go(fn func() (interface{}, error)) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.result, f.err = fn()
	}()
	return f
}

// Going is Go, plus a t.Cleanup registration that fails the test if the
// future is never Join-ed before the test function returns, and then
// waits for the background call to finish: an un-joined background call
// usually means the test forgot to drive the corresponding Receive/Reply
// exchange.
func Going(t TestingT, fn func() (interface{}, error)) *Future {
	f := Go(fn)
	joined := false
	f.joined = &joined
	t.Cleanup(func() {
		t.Helper()
		if !joined {
			t.Errorf("mockupdb: background call was never joined via Future.Join")
			<-f.done
		}
	})
	return f
}

// Join blocks until the background call started by Go/Going completes,
// then returns its result and error.
func (f *Future) Join() (interface{}, error) {
	<-f.done
	if f.joined != nil {
		*f.joined = true
	}
	return f.result, f.err
}

// JoinTimeout is Join bounded by a deadline; it returns ErrNoRequest if
// the background call has not finished in time, matching Receive's
// timeout error for a consistent test-facing vocabulary.
func (f *Future) JoinTimeout(timeout time.Duration) (interface{}, error) {
	select {
	case <-f.done:
		if f.joined != nil {
			*f.joined = true
		}
		return f.result, f.err
	case <-time.After(timeout):
		return nil, ErrNoRequest
	}
}

// WaitUntil polls predicate until it returns true or timeout elapses
// (default 10s), for tests asserting on state that changes
// asynchronously with the mock server's handling of a request (for
// example, a driver's internal topology description after a handshake).
func WaitUntil(predicate func() bool, description string, timeout ...time.Duration) error {
	d := 10 * time.Second
	if len(timeout) > 0 {
		d = timeout[0]
	}
	deadline := time.Now().Add(d)
	for {
		if predicate() {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Errorf("mockupdb: timed out waiting for %s", description)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
