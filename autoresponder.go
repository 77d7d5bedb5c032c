// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mockupdb

import "sync"

// ReplyOrHandler is either a fixed reply spec (see StaticReply) or a
// callable that decides, per request, whether to answer and with what
// (see HandlerFunc). It is the Go analogue of the original's duck-typed
// "reply or callback" autoresponder value.
type ReplyOrHandler interface {
	respond(r *Request) (args []interface{}, handled bool, err error)
}

type staticReply struct{ args []interface{} }

// StaticReply builds a ReplyOrHandler that always answers with the same
// reply spec, built per the grammar in SPEC_FULL.md §6.
func StaticReply(args ...interface{}) ReplyOrHandler { return staticReply{args} }

func (s staticReply) respond(*Request) ([]interface{}, bool, error) { return s.args, true, nil }

// HandlerFunc builds a ReplyOrHandler from a callback. The callback
// returns handled=false to decline (the autoresponder walk continues to
// the next entry) or handled=true with a reply spec built per the
// grammar in SPEC_FULL.md §6.
type HandlerFunc func(r *Request) (args []interface{}, handled bool, err error)

func (h HandlerFunc) respond(r *Request) ([]interface{}, bool, error) { return h(r) }

// toReplyOrHandler lets Autoresponds/AppendResponder accept a bare
// bson.D/bson.M/string/number/ReplyOrHandler interchangeably, the way
// Reply's own variadic grammar does.
func toReplyOrHandler(v interface{}) ReplyOrHandler {
	if roh, ok := v.(ReplyOrHandler); ok {
		return roh
	}
	return StaticReply(v)
}

// AutoresponderHandle identifies a registered autoresponder entry so it
// can later be removed.
type AutoresponderHandle struct{ id uint64 }

type autoresponderEntry struct {
	id      uint64
	pattern Pattern
	reply   ReplyOrHandler
}

// autoresponderChain is the ordered list described in SPEC_FULL.md §4.4.
// entries[len-1] is the highest-precedence (most recently add-ed) entry;
// entries[0] is consulted last, which is where addLast places the
// responder of last resort regardless of what is add-ed afterward.
type autoresponderChain struct {
	mu      sync.Mutex
	entries []autoresponderEntry
	nextID  uint64
}

func (c *autoresponderChain) add(p Pattern, r ReplyOrHandler) *AutoresponderHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.entries = append(c.entries, autoresponderEntry{id: id, pattern: p, reply: r})
	return &AutoresponderHandle{id: id}
}

func (c *autoresponderChain) addLast(p Pattern, r ReplyOrHandler) *AutoresponderHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.entries = append([]autoresponderEntry{{id: id, pattern: p, reply: r}}, c.entries...)
	return &AutoresponderHandle{id: id}
}

func (c *autoresponderChain) remove(h *AutoresponderHandle) bool {
	if h == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.entries {
		if e.id == h.id {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return true
		}
	}
	return false
}

// evaluate walks the chain from most-recently-added to least, applying
// the first entry whose pattern matches r and whose handler does not
// decline. A handler error is treated as a decline (the walk continues)
// after being logged, matching the "never swallow silently, but never
// crash the connection either" policy of SPEC_FULL.md §7.
func (c *autoresponderChain) evaluate(r *Request) (args []interface{}, handled bool) {
	c.mu.Lock()
	entries := make([]autoresponderEntry, len(c.entries))
	copy(entries, c.entries)
	c.mu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if ok, _ := matches(e.pattern, r.msg); !ok {
			continue
		}
		respArgs, ok, err := e.reply.respond(r)
		if err != nil {
			r.Server.logger.Fault(r.conn.id, err)
			continue
		}
		if ok {
			return respArgs, true
		}
	}
	return nil, false
}
