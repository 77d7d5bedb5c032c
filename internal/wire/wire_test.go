// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wire_test

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongodb-labs/mongo-mockup-db/internal/wire"
)

func mustMarshal(t *testing.T, v interface{}) bson.Raw {
	t.Helper()
	raw, err := bson.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestReadMessage_OpQuery(t *testing.T) {
	t.Parallel()

	query := mustMarshal(t, bson.D{{Key: "find", Value: "coll"}})
	buf := wire.EncodeQuery(7, wire.QuerySecondaryOK, "db.coll", 0, 1, []byte(query), nil)

	m, err := wire.ReadMessage(bytes.NewReader(buf))
	require.NoError(t, err)
	require.Equal(t, wire.OpQuery, m.Header.OpCode)
	require.Equal(t, int32(7), m.Header.RequestID)
	require.Equal(t, "db.coll", m.Namespace)
	require.Equal(t, int32(1), m.NumToReturn)
	require.Len(t, m.Documents, 1)
	require.Equal(t, query, m.Documents[0])
}

func TestReadMessage_OpQuery_QueryWrapper(t *testing.T) {
	t.Parallel()

	inner := mustMarshal(t, bson.D{{Key: "find", Value: "coll"}})
	wrapped := mustMarshal(t, bson.D{{Key: "$query", Value: bson.Raw(inner)}, {Key: "$orderby", Value: bson.D{{Key: "x", Value: 1}}}})
	buf := wire.EncodeQuery(1, 0, "db.$cmd", 0, -1, []byte(wrapped), nil)

	m, err := wire.ReadMessage(bytes.NewReader(buf))
	require.NoError(t, err)
	require.NotNil(t, m.Unwrapped)
	require.Equal(t, "find", firstKey(t, m.Unwrapped))
	require.True(t, m.IsCommand())
	require.Equal(t, "find", m.CommandName())
	require.Equal(t, "db", m.Database())
}

func firstKey(t *testing.T, doc bson.Raw) string {
	t.Helper()
	elems, err := doc.Elements()
	require.NoError(t, err)
	require.NotEmpty(t, elems)
	return elems[0].Key()
}

func TestEncodeDecodeReply_RoundTrip(t *testing.T) {
	t.Parallel()

	doc := mustMarshal(t, bson.D{{Key: "ok", Value: int32(1)}})
	buf := wire.EncodeReply(2, 1, wire.ReplyAwaitCapable, 0, 0, []wire.Raw{[]byte(doc)})

	m, err := wire.ReadMessage(bytes.NewReader(buf))
	require.NoError(t, err)
	require.Equal(t, wire.OpReply, m.Header.OpCode)
	require.Equal(t, int32(1), m.Header.ResponseTo)
	require.Equal(t, int32(wire.ReplyAwaitCapable), m.ResponseFlags)
	require.Len(t, m.Documents, 1)
	require.Equal(t, doc, m.Documents[0])
}

func TestDecodeMsg_SingleSection(t *testing.T) {
	t.Parallel()

	doc := mustMarshal(t, bson.D{{Key: "ping", Value: int32(1)}, {Key: "$db", Value: "admin"}})
	buf := wire.EncodeMsg(3, 0, 0, []byte(doc))

	m, err := wire.ReadMessage(bytes.NewReader(buf))
	require.NoError(t, err)
	require.Equal(t, wire.OpMsg, m.Header.OpCode)
	require.True(t, m.IsCommand())
	require.Equal(t, "ping", m.CommandName())
	require.Equal(t, "admin", m.Database())
}

func TestDecodeMsg_DocumentSequenceMergedAsArray(t *testing.T) {
	t.Parallel()

	body := appendSection0(nil, mustMarshal(t, bson.D{
		{Key: "insert", Value: "coll"},
		{Key: "$db", Value: "test"},
	}))
	doc1 := mustMarshal(t, bson.D{{Key: "_id", Value: 1}})
	doc2 := mustMarshal(t, bson.D{{Key: "_id", Value: 2}})
	body = appendSection1(body, "documents", [][]byte{doc1, doc2})

	buf := wireEnvelope(4, 0, 0, body)

	m, err := wire.ReadMessage(bytes.NewReader(buf))
	require.NoError(t, err)
	require.True(t, m.IsCommand())
	require.Equal(t, "insert", m.CommandName())

	var merged bson.D
	require.NoError(t, bson.Unmarshal(m.Documents[0], &merged))
	want := bson.D{
		{Key: "insert", Value: "coll"},
		{Key: "$db", Value: "test"},
		{Key: "documents", Value: bson.A{
			bson.D{{Key: "_id", Value: int32(1)}},
			bson.D{{Key: "_id", Value: int32(2)}},
		}},
	}
	if diff := cmp.Diff(want, merged); diff != "" {
		t.Fatalf("merged document mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeMsg_SequenceShadowsSingleSectionKey(t *testing.T) {
	t.Parallel()

	body := appendSection0(nil, mustMarshal(t, bson.D{
		{Key: "insert", Value: "coll"},
		{Key: "documents", Value: bson.A{"should be shadowed"}},
		{Key: "$db", Value: "test"},
	}))
	doc1 := mustMarshal(t, bson.D{{Key: "_id", Value: 1}})
	body = appendSection1(body, "documents", [][]byte{doc1})

	buf := wireEnvelope(5, 0, 0, body)

	m, err := wire.ReadMessage(bytes.NewReader(buf))
	require.NoError(t, err)

	var merged bson.D
	require.NoError(t, bson.Unmarshal(m.Documents[0], &merged))
	want := bson.D{
		{Key: "insert", Value: "coll"},
		{Key: "$db", Value: "test"},
		{Key: "documents", Value: bson.A{
			bson.D{{Key: "_id", Value: int32(1)}},
		}},
	}
	if diff := cmp.Diff(want, merged); diff != "" {
		t.Fatalf("shadowed documents field mismatch (-want +got):\n%s", diff)
	}
}

func TestReadMessage_ShortHeader(t *testing.T) {
	t.Parallel()

	_, err := wire.ReadMessage(bytes.NewReader([]byte{1, 2, 3}))
	require.Error(t, err)
}

func TestDecode_UnknownOpCode(t *testing.T) {
	t.Parallel()

	_, err := wire.Decode(wire.Header{MessageLength: 16, OpCode: 9999}, nil)
	require.ErrorIs(t, err, wire.ErrUnknownOpCode)
}

// TestDecodeInsert, TestDecodeUpdate, TestDecodeDelete, and
// TestDecodeKillCursors round-trip the legacy write opcodes through
// Decode. This package's own encoder only emits OP_QUERY/OP_REPLY/OP_MSG
// (a mock server never needs to send OP_INSERT/OP_UPDATE/OP_DELETE/
// OP_KILL_CURSORS), so the wire bytes are hand-assembled here the same
// way appendSection0/appendSection1 hand-assemble an OP_MSG body below.

func TestDecodeInsert(t *testing.T) {
	t.Parallel()

	doc1 := mustMarshal(t, bson.D{{Key: "_id", Value: int32(1)}})
	doc2 := mustMarshal(t, bson.D{{Key: "_id", Value: int32(2)}})
	body := appendLE32(nil, 0) // flags
	body = appendCStr(body, "db.coll")
	body = append(body, doc1...)
	body = append(body, doc2...)
	buf := wireMessage(wire.OpInsert, 10, 0, body)

	m, err := wire.ReadMessage(bytes.NewReader(buf))
	require.NoError(t, err)
	require.Equal(t, wire.OpInsert, m.Header.OpCode)
	require.Equal(t, "db.coll", m.Namespace)
	require.Len(t, m.Documents, 2)
	require.Equal(t, bson.Raw(doc1), m.Documents[0])
	require.Equal(t, bson.Raw(doc2), m.Documents[1])
}

func TestDecodeUpdate(t *testing.T) {
	t.Parallel()

	selector := mustMarshal(t, bson.D{{Key: "_id", Value: int32(1)}})
	update := mustMarshal(t, bson.D{{Key: "$set", Value: bson.D{{Key: "x", Value: int32(2)}}}})
	body := appendLE32(nil, 0) // reserved
	body = appendCStr(body, "db.coll")
	const upsertFlag = uint32(1) // OP_UPDATE bit 0: Upsert
	body = appendLE32(body, upsertFlag)
	body = append(body, selector...)
	body = append(body, update...)
	buf := wireMessage(wire.OpUpdate, 11, 0, body)

	m, err := wire.ReadMessage(bytes.NewReader(buf))
	require.NoError(t, err)
	require.Equal(t, wire.OpUpdate, m.Header.OpCode)
	require.Equal(t, "db.coll", m.Namespace)
	require.Equal(t, upsertFlag, m.Flags)
	require.Len(t, m.Documents, 2)
	require.Equal(t, bson.Raw(selector), m.Documents[0])
	require.Equal(t, bson.Raw(update), m.Documents[1])
}

func TestDecodeDelete(t *testing.T) {
	t.Parallel()

	selector := mustMarshal(t, bson.D{{Key: "x", Value: int32(1)}})
	body := appendLE32(nil, 0) // reserved
	body = appendCStr(body, "db.coll")
	const singleRemoveFlag = uint32(1) // OP_DELETE bit 0: SingleRemove
	body = appendLE32(body, singleRemoveFlag)
	body = append(body, selector...)
	buf := wireMessage(wire.OpDelete, 12, 0, body)

	m, err := wire.ReadMessage(bytes.NewReader(buf))
	require.NoError(t, err)
	require.Equal(t, wire.OpDelete, m.Header.OpCode)
	require.Equal(t, "db.coll", m.Namespace)
	require.Equal(t, singleRemoveFlag, m.Flags)
	require.Len(t, m.Documents, 1)
	require.Equal(t, bson.Raw(selector), m.Documents[0])
}

func TestDecodeKillCursors(t *testing.T) {
	t.Parallel()

	ids := []int64{111, 222, 333}
	body := appendLE32(nil, 0) // reserved
	body = appendLE32(body, uint32(len(ids)))
	for _, id := range ids {
		body = appendLE64(body, uint64(id))
	}
	buf := wireMessage(wire.OpKillCursors, 13, 0, body)

	m, err := wire.ReadMessage(bytes.NewReader(buf))
	require.NoError(t, err)
	require.Equal(t, wire.OpKillCursors, m.Header.OpCode)
	require.Equal(t, ids, m.CursorIDs)
}

func appendLE32(dst []byte, v uint32) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendLE64(dst []byte, v uint64) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24), byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

func appendCStr(dst []byte, s string) []byte {
	dst = append(dst, s...)
	return append(dst, 0)
}

// wireMessage prepends a header to a hand-built opcode body.
func wireMessage(opCode wire.OpCode, requestID, responseTo int32, body []byte) []byte {
	hdr := wire.Header{
		MessageLength: int32(wire.HeaderLen + len(body)),
		RequestID:     requestID,
		ResponseTo:    responseTo,
		OpCode:        opCode,
	}
	out := hdr.Append(make([]byte, 0, hdr.MessageLength))
	return append(out, body...)
}

// appendSection0/appendSection1/wireEnvelope build a raw OP_MSG body by
// hand, exercising the decoder against bytes this package's own encoder
// cannot produce (EncodeMsg never emits a kind-1 section).

func appendSection0(buf []byte, doc []byte) []byte {
	buf = append(buf, byte(wire.SectionSingleDocument))
	return append(buf, doc...)
}

func appendSection1(buf []byte, identifier string, docs [][]byte) []byte {
	var seq []byte
	seq = append(seq, identifier...)
	seq = append(seq, 0)
	for _, d := range docs {
		seq = append(seq, d...)
	}
	lenBuf := make([]byte, 4)
	total := 4 + len(seq)
	lenBuf[0] = byte(total)
	lenBuf[1] = byte(total >> 8)
	lenBuf[2] = byte(total >> 16)
	lenBuf[3] = byte(total >> 24)

	buf = append(buf, byte(wire.SectionDocumentSequence))
	buf = append(buf, lenBuf...)
	buf = append(buf, seq...)
	return buf
}

func wireEnvelope(requestID, responseTo int32, flags uint32, sections []byte) []byte {
	body := make([]byte, 0, 4+len(sections))
	flagBuf := make([]byte, 4)
	flagBuf[0] = byte(flags)
	flagBuf[1] = byte(flags >> 8)
	flagBuf[2] = byte(flags >> 16)
	flagBuf[3] = byte(flags >> 24)
	body = append(body, flagBuf...)
	body = append(body, sections...)

	hdr := wire.Header{
		MessageLength: int32(wire.HeaderLen + len(body)),
		RequestID:     requestID,
		ResponseTo:    responseTo,
		OpCode:        wire.OpMsg,
	}
	out := hdr.Append(make([]byte, 0, hdr.MessageLength))
	return append(out, body...)
}
