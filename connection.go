// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mockupdb

import (
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/mongodb-labs/mongo-mockup-db/internal/wire"
)

// connection is one accepted client socket and the goroutine that
// services it. Reads are single-owner (the worker goroutine); writes
// are serialized by writeMu since Reply() may be called concurrently
// with the worker still reading the next request.
type connection struct {
	server *Server
	nc     net.Conn
	id     uint64
	peer   string

	writeMu sync.Mutex
	closed  int32 // atomic bool
}

func newConnection(s *Server, nc net.Conn, id uint64) *connection {
	return &connection{server: s, nc: nc, id: id, peer: nc.RemoteAddr().String()}
}

func (c *connection) isClosed() bool { return atomic.LoadInt32(&c.closed) == 1 }

// Close closes the underlying socket. It is idempotent.
func (c *connection) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	return c.nc.Close()
}

func (c *connection) writeMessage(buf []byte) error {
	if c.isClosed() {
		return ErrConnectionGone
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.isClosed() {
		return ErrConnectionGone
	}
	if _, err := c.nc.Write(buf); err != nil {
		_ = c.Close()
		return errors.Wrap(ErrConnectionGone, err.Error())
	}
	return nil
}

// run is the per-connection loop described in SPEC_FULL.md §4.5: read a
// framed message, run the autoresponder chain, and either reply
// immediately or enqueue the request for the test thread. It returns
// when the connection is closed, from either end.
func (c *connection) run() {
	defer c.server.removeConnection(c)
	defer c.Close()

	for {
		msg, err := wire.ReadMessage(c.nc)
		if err != nil {
			if !c.isClosed() && !isCleanClose(err) {
				c.server.logger.Fault(c.id, err)
			}
			return
		}

		req := newRequest(msg, c, c.server)
		c.server.countRequest()
		c.server.logger.Request(c.id, msg)

		if args, handled := c.server.autoresponders.evaluate(req); handled {
			if err := req.Reply(args...); err != nil && !errors.Is(err, ErrConnectionGone) {
				c.server.logger.Fault(c.id, err)
				return
			}
			continue
		}

		if !c.server.inbox.push(req) {
			// Server is stopping; nothing left to do but let the read
			// loop unwind via the socket close that Stop() triggers.
			return
		}
	}
}

// isCleanClose reports whether err is the ordinary way a connection
// worker's read unblocks when a peer disconnects or Stop() closes the
// socket out from under it, as opposed to a protocol-level fault worth
// logging.
func isCleanClose(err error) bool {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection reset by peer")
}
