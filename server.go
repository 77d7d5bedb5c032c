// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mockupdb

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"

	"github.com/mongodb-labs/mongo-mockup-db/internal/wire"
	"github.com/mongodb-labs/mongo-mockup-db/internal/wirelog"
)

// State is a Server's lifecycle state.
type State int32

// Server lifecycle states, entered in this order; Stop is idempotent
// once Stopped is reached.
const (
	Listening State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Listening:
		return "listening"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Server is a mock MongoDB wire-protocol listener. The zero value is
// not usable; construct one with NewServer. A single Server is meant to
// be driven by one test goroutine; concurrent Receive calls on the same
// Server are unsupported, though client connections themselves are
// fully concurrent-safe (see SPEC_FULL.md §5).
type Server struct {
	cfg    config
	logger *wirelog.Logger

	state int32 // atomic State

	listener net.Listener

	connMu  sync.Mutex
	conns   map[uint64]*connection
	connSeq uint64

	inbox          *inbox
	autoresponders *autoresponderChain

	reqCounter   int32
	requestsSeen int64

	group  *errgroup.Group
	stopMu sync.Mutex
}

// NewServer constructs a Server with the given options. It does not
// start listening; call Run for that.
func NewServer(opts ...Option) *Server {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{
		cfg:            cfg,
		conns:          make(map[uint64]*connection),
		inbox:          newInbox(),
		autoresponders: &autoresponderChain{},
		reqCounter:     wire.NextRequestID(),
	}
	s.logger = wirelog.New(cfg.logger, cfg.verbose)
	if cfg.autoIsmaster.enabled {
		s.autoresponders.addLast(CommandName("ismaster"), HandlerFunc(s.replyIsmaster))
		s.autoresponders.addLast(CommandName("hello"), HandlerFunc(s.replyIsmaster))
	}
	return s
}

func (s *Server) replyIsmaster(r *Request) ([]interface{}, bool, error) {
	doc := bson.D{
		{Key: "ok", Value: int32(1)},
		{Key: "ismaster", Value: true},
		{Key: "minWireVersion", Value: s.cfg.minWireVersion},
		{Key: "maxWireVersion", Value: s.cfg.maxWireVersion},
	}
	for _, e := range s.cfg.autoIsmaster.doc {
		replaced := false
		for i := range doc {
			if doc[i].Key == e.Key {
				doc[i].Value, replaced = e.Value, true
				break
			}
		}
		if !replaced {
			doc = append(doc, e)
		}
	}
	return []interface{}{doc}, true, nil
}

// State reports the server's current lifecycle state.
func (s *Server) State() State { return State(atomic.LoadInt32(&s.state)) }

func (s *Server) setState(st State) { atomic.StoreInt32(&s.state, int32(st)) }

// Address returns "host:port" for a TCP server or the Unix-domain
// socket path, once Run has succeeded.
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// URI returns the MongoDB connection string form of Address.
func (s *Server) URI() string {
	return "mongodb://" + s.Address()
}

// Run binds the listener and starts accepting connections in the
// background. It returns the bound Address.
func (s *Server) Run() (string, error) {
	if st := s.State(); st != Listening {
		if st >= Stopping {
			return "", errors.Wrapf(ErrServerStopped, "mockupdb: Run called in state %s", st)
		}
		return "", errors.Errorf("mockupdb: Run called in state %s", st)
	}

	var (
		ln  net.Listener
		err error
	)
	if s.cfg.unixSocketPath != "" {
		ln, err = listenUnix(s.cfg.unixSocketPath)
	} else {
		ln, err = net.Listen("tcp", "127.0.0.1:0")
	}
	if err != nil {
		return "", errors.Wrap(err, "mockupdb: bind failed")
	}
	if s.cfg.tlsConfig != nil {
		ln = tlsListener(ln, s.cfg.tlsConfig)
	}
	s.listener = ln
	s.setState(Running)

	var g errgroup.Group
	s.group = &g
	g.Go(s.acceptLoop)

	return s.Address(), nil
}

func (s *Server) acceptLoop() error {
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if s.State() >= Stopping {
				return nil
			}
			s.logger.Fault(0, err)
			return nil
		}
		s.connMu.Lock()
		s.connSeq++
		id := s.connSeq
		conn := newConnection(s, nc, id)
		s.conns[id] = conn
		s.connMu.Unlock()

		s.group.Go(func() error {
			conn.run()
			return nil
		})
	}
}

func (s *Server) removeConnection(c *connection) {
	s.connMu.Lock()
	delete(s.conns, c.id)
	s.connMu.Unlock()
}

// Stop moves the server through stopping to stopped: it closes the
// listener, closes every live connection (unblocking their workers'
// reads), closes the inbox, and waits for all workers to exit. Stop is
// idempotent.
func (s *Server) Stop() error {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if s.State() >= Stopping {
		return nil
	}
	s.setState(Stopping)

	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.connMu.Lock()
	conns := make([]*connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.connMu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}

	s.inbox.close()

	if s.group != nil {
		_ = s.group.Wait()
	}
	s.setState(Stopped)
	return nil
}

// ReceiveOption configures a single Receive call.
type ReceiveOption func(*receiveOptions)

type receiveOptions struct {
	pattern    Pattern
	hasPattern bool
	timeout    time.Duration
	hasTimeout bool
}

// WithPattern asserts the next request matches p; a mismatch still
// consumes the request and reports ErrMismatch.
func WithPattern(p Pattern) ReceiveOption {
	return func(o *receiveOptions) { o.pattern, o.hasPattern = p, true }
}

// WithTimeout overrides the server's default request timeout for this
// call only.
func WithTimeout(d time.Duration) ReceiveOption {
	return func(o *receiveOptions) { o.timeout, o.hasTimeout = d, true }
}

// Receive pops the next request from the inbox, blocking up to the
// timeout (WithTimeout, or the server's configured default). If a
// pattern is given (WithPattern) and the popped request does not
// satisfy it, Receive still consumes the request but returns
// ErrMismatch.
func (s *Server) Receive(opts ...ReceiveOption) (*Request, error) {
	ro := receiveOptions{timeout: s.cfg.requestTimeout}
	for _, opt := range opts {
		opt(&ro)
	}
	req, err := s.inbox.receive(ro.timeout)
	if err != nil {
		return nil, err
	}
	if ro.hasPattern {
		if ok, reason := req.Matches(ro.pattern); !ok {
			reqDump := wirelog.Sdump(req.msg)
			if doc := req.CommandDocument(); doc != nil {
				reqDump = wirelog.PrettyJSON(doc)
			}
			return req, errors.Wrapf(ErrMismatch, "%s\npattern: %s\nrequest: %s",
				reason, wirelog.Sdump(ro.pattern), reqDump)
		}
	}
	return req, nil
}

// Autoresponds registers an autoresponder at the highest precedence:
// it is consulted before every entry registered so far. reply is either
// a ReplyOrHandler (StaticReply/HandlerFunc) or a bare reply spec value
// (bson.D, bson.M, string, or number), wrapped as a StaticReply.
func (s *Server) Autoresponds(p Pattern, reply interface{}) *AutoresponderHandle {
	return s.autoresponders.add(p, toReplyOrHandler(reply))
}

// AppendResponder registers an autoresponder of last resort: it is
// consulted only after every other entry, including ones registered
// later via Autoresponds, has declined or failed to match.
func (s *Server) AppendResponder(p Pattern, reply interface{}) *AutoresponderHandle {
	return s.autoresponders.addLast(p, toReplyOrHandler(reply))
}

// RemoveAutoresponder removes a previously registered autoresponder. It
// reports whether an entry was actually removed.
func (s *Server) RemoveAutoresponder(h *AutoresponderHandle) bool {
	return s.autoresponders.remove(h)
}

// InboxLen reports the current inbox depth, for tests asserting the
// autoresponder-vs-inbox invariants from SPEC_FULL.md §8.
func (s *Server) InboxLen() int { return s.inbox.len() }

// RequestsCount reports how many requests this server has decoded across
// its whole lifetime, autoresponded or not: a lightweight aggregate
// counter tests can assert on without consuming the inbox.
func (s *Server) RequestsCount() int64 { return atomic.LoadInt64(&s.requestsSeen) }

func (s *Server) countRequest() { atomic.AddInt64(&s.requestsSeen, 1) }

func (s *Server) nextRequestID() int32 {
	return atomic.AddInt32(&s.reqCounter, 1)
}
