// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mockupdb

import "errors"

// Sentinel errors for every test-visible failure mode. Callers should
// use errors.Is against these; wrapping (via github.com/pkg/errors) adds
// call-site context without hiding the sentinel.
var (
	// ErrNoRequest is returned by Receive when the inbox yields nothing
	// within the requested timeout.
	ErrNoRequest = errors.New("mockupdb: no request arrived before timeout")
	// ErrMismatch is returned by Receive when the popped request does
	// not satisfy the supplied pattern. The request is consumed either way.
	ErrMismatch = errors.New("mockupdb: request did not match pattern")
	// ErrServerStopped is returned by Receive when Stop closed the
	// inbox while a receive was pending, and by Run if called on an
	// already-stopped server.
	ErrServerStopped = errors.New("mockupdb: server stopped")
	// ErrConnectionGone is returned by Reply/CommandError/Fail/Hangup
	// when the originating connection has already been closed.
	ErrConnectionGone = errors.New("mockupdb: connection is gone")
	// ErrAlreadyReplied is returned when a Request is replied to more
	// than once.
	ErrAlreadyReplied = errors.New("mockupdb: request was already replied to")
	// ErrUnixSocketUnsupported is returned (wrapped) by Run for a server
	// built with WithUnixSocket on platforms without Unix-domain socket
	// support. NewServer itself does not fail for that option.
	ErrUnixSocketUnsupported = errors.New("mockupdb: unix-domain sockets are not supported on this platform")
)
