// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mockupdb_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	mockupdb "github.com/mongodb-labs/mongo-mockup-db"
	"github.com/mongodb-labs/mongo-mockup-db/internal/wire"
)

// wireClient is the hand-rolled minimal wire protocol client these tests
// drive the server with, so that exercising the protocol this repository
// implements does not require pulling in a full MongoDB driver as a test
// dependency.
type wireClient struct {
	t    *testing.T
	nc   net.Conn
	reqID int32
}

func dial(t *testing.T, addr string) *wireClient {
	t.Helper()
	nc, err := net.DialTimeout("tcp", addr, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = nc.Close() })
	return &wireClient{t: t, nc: nc}
}

func (c *wireClient) nextID() int32 {
	c.reqID++
	return c.reqID
}

// sendMsg sends an OP_MSG command against database db, returning the
// request id used so the caller can assert response_to.
func (c *wireClient) sendMsg(db string, cmd bson.D) int32 {
	c.t.Helper()
	full := append(bson.D{}, cmd...)
	full = append(full, bson.E{Key: "$db", Value: db})
	raw, err := bson.Marshal(full)
	require.NoError(c.t, err)
	id := c.nextID()
	buf := wire.EncodeMsg(id, 0, 0, []byte(raw))
	_, err = c.nc.Write(buf)
	require.NoError(c.t, err)
	return id
}

func (c *wireClient) sendQuery(ns string, query bson.D) int32 {
	c.t.Helper()
	raw, err := bson.Marshal(query)
	require.NoError(c.t, err)
	id := c.nextID()
	buf := wire.EncodeQuery(id, 0, ns, 0, 1, raw, nil)
	_, err = c.nc.Write(buf)
	require.NoError(c.t, err)
	return id
}

func (c *wireClient) sendGetMore(ns string, cursorID int64) int32 {
	c.t.Helper()
	id := c.nextID()
	body := make([]byte, 0, 32)
	body = append(body, 0, 0, 0, 0) // reserved
	body = append(body, ns...)
	body = append(body, 0)
	nb := func(v int32) []byte {
		return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	}
	body = append(body, nb(2)...) // numberToReturn
	cb := make([]byte, 8)
	for i := 0; i < 8; i++ {
		cb[i] = byte(cursorID >> (8 * i))
	}
	body = append(body, cb...)
	hdr := wire.Header{MessageLength: int32(wire.HeaderLen + len(body)), RequestID: id, OpCode: wire.OpGetMore}
	buf := hdr.Append(make([]byte, 0, hdr.MessageLength))
	buf = append(buf, body...)
	_, err := c.nc.Write(buf)
	require.NoError(c.t, err)
	return id
}

func (c *wireClient) readMessage() *wire.Message {
	c.t.Helper()
	_ = c.nc.SetReadDeadline(time.Now().Add(5 * time.Second))
	m, err := wire.ReadMessage(c.nc)
	require.NoError(c.t, err)
	return m
}

func newTestServer(t *testing.T, opts ...mockupdb.Option) *mockupdb.Server {
	t.Helper()
	s := mockupdb.NewServer(opts...)
	addr, err := s.Run()
	require.NoError(t, err)
	require.NotEmpty(t, addr)
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestHandshakeAutoresponse(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	c := dial(t, s.Address())

	id := c.sendMsg("admin", bson.D{{Key: "ismaster", Value: 1}})
	reply := c.readMessage()
	require.Equal(t, id, reply.Header.ResponseTo)
	require.True(t, reply.IsCommand())

	var doc bson.D
	require.NoError(t, bson.Unmarshal(reply.CommandDocument(), &doc))
	require.Equal(t, 0, s.InboxLen())
}

func TestRequestReplyRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, mockupdb.WithAutoIsmaster(false))
	c := dial(t, s.Address())

	id := c.sendMsg("test", bson.D{{Key: "find", Value: "coll"}})

	req, err := s.Receive(mockupdb.WithPattern(mockupdb.Command("find")))
	require.NoError(t, err)
	require.Equal(t, id, req.RequestID())
	require.Equal(t, "coll", func() string {
		v, _ := req.CommandDocument().Lookup("find").StringValueOK()
		return v
	}())

	err = req.Reply(bson.D{{Key: "cursor", Value: bson.D{
		{Key: "id", Value: int64(0)},
		{Key: "firstBatch", Value: bson.A{}},
		{Key: "ns", Value: "test.coll"},
	}}})
	require.NoError(t, err)

	reply := c.readMessage()
	require.Equal(t, id, reply.Header.ResponseTo)
}

func TestCommandError(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, mockupdb.WithAutoIsmaster(false))
	c := dial(t, s.Address())

	id := c.sendMsg("test", bson.D{{Key: "find", Value: "coll"}})
	req, err := s.Receive()
	require.NoError(t, err)

	require.NoError(t, req.CommandError(59, "CommandNotFound"))

	reply := c.readMessage()
	require.Equal(t, id, reply.Header.ResponseTo)
	var doc bson.D
	require.NoError(t, bson.Unmarshal(reply.CommandDocument(), &doc))

	m := doc.Map()
	require.Equal(t, int32(0), m["ok"])
	require.Equal(t, "CommandNotFound", m["errmsg"])
	require.Equal(t, int32(59), m["code"])
}

func TestHangup(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, mockupdb.WithAutoIsmaster(false))
	c := dial(t, s.Address())

	c.sendMsg("test", bson.D{{Key: "find", Value: "coll"}})
	req, err := s.Receive()
	require.NoError(t, err)

	require.NoError(t, req.Hangup())

	_ = c.nc.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 1)
	_, err = c.nc.Read(buf)
	require.Error(t, err)
}

func TestCursorInteractionViaGetMore(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, mockupdb.WithAutoIsmaster(false))
	c := dial(t, s.Address())

	c.sendQuery("test.coll", bson.D{{Key: "x", Value: 1}})
	req, err := s.Receive(mockupdb.WithPattern(mockupdb.OpQuery("test.coll")))
	require.NoError(t, err)
	require.NoError(t, req.Reply(bson.D{{Key: "ok", Value: int32(1)}}))
	_ = c.readMessage()

	c.sendGetMore("test.coll", 42)
	req2, err := s.Receive(mockupdb.WithPattern(mockupdb.OpGetMore("test.coll", 42)))
	require.NoError(t, err)
	require.Equal(t, int64(42), req2.CursorID())
	require.NoError(t, req2.Reply(bson.D{{Key: "ok", Value: int32(1)}}))
	_ = c.readMessage()
}

func TestAutoresponderPrecedence(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, mockupdb.WithAutoIsmaster(false))
	s.AppendResponder(mockupdb.CommandName("ping"), bson.D{{Key: "ok", Value: int32(1)}, {Key: "source", Value: "last-resort"}})
	s.Autoresponds(mockupdb.CommandName("ping"), bson.D{{Key: "ok", Value: int32(1)}, {Key: "source", Value: "specific"}})

	c := dial(t, s.Address())
	c.sendMsg("admin", bson.D{{Key: "ping", Value: 1}})

	reply := c.readMessage()
	var doc bson.D
	require.NoError(t, bson.Unmarshal(reply.CommandDocument(), &doc))
	require.Equal(t, "specific", doc.Map()["source"])
	require.Equal(t, 0, s.InboxLen())
}

func TestReceiveTimeout(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, mockupdb.WithAutoIsmaster(false), mockupdb.WithRequestTimeout(50*time.Millisecond))
	_, err := s.Receive()
	require.ErrorIs(t, err, mockupdb.ErrNoRequest)
}

func TestReceiveMismatch(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, mockupdb.WithAutoIsmaster(false))
	c := dial(t, s.Address())
	c.sendMsg("test", bson.D{{Key: "find", Value: "coll"}})

	_, err := s.Receive(mockupdb.WithPattern(mockupdb.CommandName("insert")))
	require.ErrorIs(t, err, mockupdb.ErrMismatch)
}

func TestOpMsg_StrictOpcodeExcludesLegacyCommandQuery(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, mockupdb.WithAutoIsmaster(false))
	c := dial(t, s.Address())

	// A command sent as legacy OP_QUERY against ".$cmd" is still a
	// command by Command's more permissive definition...
	c.sendQuery("test.$cmd", bson.D{{Key: "find", Value: "coll"}})
	req, err := s.Receive(mockupdb.WithPattern(mockupdb.Command("find")))
	require.NoError(t, err)
	require.NoError(t, req.Reply())
	_ = c.readMessage()

	// ...but OpMsg names the opcode explicitly, so the same request must
	// not satisfy it.
	c.sendQuery("test.$cmd", bson.D{{Key: "find", Value: "coll"}})
	req2, err := s.Receive()
	require.NoError(t, err)
	ok, _ := req2.Matches(mockupdb.OpMsg("find"))
	require.False(t, ok)
	require.NoError(t, req2.Reply())
	_ = c.readMessage()
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()

	s := mockupdb.NewServer()
	_, err := s.Run()
	require.NoError(t, err)
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestGoHelperJoinsBackgroundCall(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, mockupdb.WithAutoIsmaster(false))

	future := mockupdb.Going(t, func() (interface{}, error) {
		c := dial(t, s.Address())
		c.sendMsg("test", bson.D{{Key: "ping", Value: 1}})
		reply := c.readMessage()
		return reply.Header.ResponseTo, nil
	})

	req, err := s.Receive(mockupdb.WithPattern(mockupdb.CommandName("ping")))
	require.NoError(t, err)
	require.NoError(t, req.Reply())

	result, err := future.Join()
	require.NoError(t, err)
	require.Equal(t, req.RequestID(), result.(int32))
}
