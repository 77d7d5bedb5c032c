// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mockupdb

import (
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongodb-labs/mongo-mockup-db/internal/wire"
)

// Request is a decoded inbound wire protocol message, together with a
// non-owning back-reference to the connection and server it arrived on
// so that whoever is holding it — an autoresponder or the test thread —
// can reply. A Request may be replied to exactly once; see Reply.
type Request struct {
	msg  *wire.Message
	conn *connection

	// Server is the mock server this request arrived on.
	Server *Server

	mu      sync.Mutex
	replied bool
}

func newRequest(msg *wire.Message, conn *connection, server *Server) *Request {
	return &Request{msg: msg, conn: conn, Server: server}
}

// OpCode returns the request's wire protocol opcode.
func (r *Request) OpCode() wire.OpCode { return r.msg.Header.OpCode }

// RequestID returns the request's wire protocol request id. A correctly
// written handler cannot forge the corresponding reply's response_to:
// Reply and its siblings always set it from this value.
func (r *Request) RequestID() int32 { return r.msg.Header.RequestID }

// Namespace returns "db.collection" for legacy opcodes that carry one,
// or "" for OP_KILL_CURSORS and for OP_MSG lacking "$db".
func (r *Request) Namespace() string { return r.msg.Namespace }

// Flags returns the opcode's flag bits, widened to 32 bits.
func (r *Request) Flags() uint32 { return r.msg.Flags }

// Documents returns the request's ordered BSON payload documents; see
// wire.Message for the opcode-dependent meaning of the list.
func (r *Request) Documents() []bson.Raw { return r.msg.Documents }

// IsCommand reports whether this request's primary payload is a command
// document.
func (r *Request) IsCommand() bool { return r.msg.IsCommand() }

// CommandName returns the command name, or "" if this is not a command.
func (r *Request) CommandName() string { return r.msg.CommandName() }

// CommandDocument returns the document the matcher treats as "the
// command": the unwrapped $query document for legacy wrapping, or the
// sole/lead document otherwise.
func (r *Request) CommandDocument() bson.Raw { return r.msg.CommandDocument() }

// Database returns the target database of a command request.
func (r *Request) Database() string { return r.msg.Database() }

// NumToSkip returns OP_QUERY's numberToSkip.
func (r *Request) NumToSkip() int32 { return r.msg.NumToSkip }

// NumToReturn returns OP_QUERY/OP_GET_MORE's numberToReturn.
func (r *Request) NumToReturn() int32 { return r.msg.NumToReturn }

// CursorID returns OP_GET_MORE's cursor id.
func (r *Request) CursorID() int64 { return r.msg.CursorID }

// CursorIDs returns OP_KILL_CURSORS's cursor ids.
func (r *Request) CursorIDs() []int64 { return r.msg.CursorIDs }

// Matches reports whether p accepts this request, without consuming it.
func (r *Request) Matches(p Pattern) (bool, string) {
	return matches(p, r.msg)
}

// beginReply marks the request as replied to, or reports
// ErrAlreadyReplied if it already was.
func (r *Request) beginReply() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replied {
		return ErrAlreadyReplied
	}
	r.replied = true
	return nil
}

// Reply sends a successful reply built from args per the reply spec
// grammar (SPEC_FULL.md §6): no args defaults to {ok: 1} for a command
// request, or to no documents at all for a non-command legacy request
// (OP_INSERT/OP_UPDATE/OP_DELETE, or an OP_QUERY not against ".$cmd").
func (r *Request) Reply(args ...interface{}) error {
	docs, err := buildReplyDocs(args, r.msg.IsCommand())
	if err != nil {
		return err
	}
	return r.sendReply(docs, 0)
}

// CommandError replies with a command-error document: {ok: 0, errmsg,
// code}, extended with extra alternating key/value pairs.
func (r *Request) CommandError(code int32, errmsg string, extra ...interface{}) error {
	doc, err := commandErrorDoc(code, errmsg, extra)
	if err != nil {
		return err
	}
	return r.sendReply([]bson.D{doc}, 0)
}

// Fail replies using the legacy OP_QUERY query-failure flag: the
// response document is built from args (default {$err: "command
// failed", code: 1}) and the QueryFailure response flag bit is set. Real drivers
// only understand this flag on OP_REPLY; sending it in response to an
// OP_MSG request has no defined meaning and is unlikely to be what a
// test wants.
func (r *Request) Fail(args ...interface{}) error {
	if len(args) == 0 {
		args = []interface{}{bson.D{{Key: "$err", Value: "command failed"}, {Key: "code", Value: int32(1)}}}
	}
	doc, err := buildReplyDoc(args)
	if err != nil {
		return err
	}
	return r.sendReply([]bson.D{doc}, wire.ReplyQueryFailure)
}

// RepliesToGetLastError sends the conventional legacy getLastError
// acknowledgement, {ok: 1, err: nil, n: 0}, extended with extra
// alternating key/value pairs (e.g. "n", 1 for an acknowledged write).
// A key given in extra replaces the default value of the same name.
func (r *Request) RepliesToGetLastError(extra ...interface{}) error {
	base := bson.D{{Key: "ok", Value: int32(1)}, {Key: "err", Value: nil}, {Key: "n", Value: int32(0)}}
	doc, err := buildReplyDoc(append([]interface{}{base}, extra...))
	if err != nil {
		return err
	}
	var merged bson.D
	for _, e := range doc {
		replaced := false
		for i := range merged {
			if merged[i].Key == e.Key {
				merged[i].Value, replaced = e.Value, true
				break
			}
		}
		if !replaced {
			merged = append(merged, e)
		}
	}
	return r.Reply(merged)
}

// Hangup closes the originating connection without sending a reply. The
// client observes a connection reset, which drivers surface as a
// transient network error.
func (r *Request) Hangup() error {
	if err := r.beginReply(); err != nil {
		return err
	}
	if r.conn.isClosed() {
		return ErrConnectionGone
	}
	return r.conn.Close()
}

// sendReply encodes and sends docs as the reply to r. docs holds zero or
// one documents: zero only ever arises from a non-command Reply() with
// no arguments (see buildReplyDocs), and only legacy opcodes can carry
// it, since every OP_MSG request is a command and always replies with
// exactly one document.
func (r *Request) sendReply(docs []bson.D, flags wire.ReplyFlag) error {
	if err := r.beginReply(); err != nil {
		return err
	}

	raws := make([]wire.Raw, len(docs))
	for i, doc := range docs {
		raw, err := bson.Marshal(doc)
		if err != nil {
			return err
		}
		raws[i] = wire.Raw(raw)
	}

	reqID := r.Server.nextRequestID()
	var out []byte
	if r.msg.Header.OpCode == wire.OpMsg {
		out = wire.EncodeMsg(reqID, r.msg.Header.RequestID, 0, raws[0])
	} else {
		out = wire.EncodeReply(reqID, r.msg.Header.RequestID, flags, 0, 0, raws)
	}
	if err := r.conn.writeMessage(out); err != nil {
		return err
	}
	if len(raws) > 0 {
		r.Server.logger.Reply(r.conn.id, reqID, r.msg.Header.RequestID, bson.Raw(raws[0]))
	} else {
		r.Server.logger.Reply(r.conn.id, reqID, r.msg.Header.RequestID, nil)
	}
	return nil
}
