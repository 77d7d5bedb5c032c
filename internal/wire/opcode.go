// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package wire implements the framing, encoding, and decoding of the
// MongoDB wire protocol's legacy opcodes and the modern OP_MSG envelope.
// BSON document values themselves are never interpreted here beyond
// slicing out their length-prefixed byte ranges; structured access is
// left to go.mongodb.org/mongo-driver/bson.
package wire

import "strings"

// OpCode identifies the kind of a wire protocol message.
type OpCode int32

// Legacy and modern opcodes. OpReply is never sent by a client; it is
// included so a Message can round-trip a mock server's own replies.
const (
	OpReply       OpCode = 1
	OpUpdate      OpCode = 2001
	OpInsert      OpCode = 2002
	OpQuery       OpCode = 2004
	OpGetMore     OpCode = 2005
	OpDelete      OpCode = 2006
	OpKillCursors OpCode = 2007
	OpMsg         OpCode = 2013
)

// String implements fmt.Stringer.
func (oc OpCode) String() string {
	switch oc {
	case OpReply:
		return "OP_REPLY"
	case OpUpdate:
		return "OP_UPDATE"
	case OpInsert:
		return "OP_INSERT"
	case OpQuery:
		return "OP_QUERY"
	case OpGetMore:
		return "OP_GET_MORE"
	case OpDelete:
		return "OP_DELETE"
	case OpKillCursors:
		return "OP_KILL_CURSORS"
	case OpMsg:
		return "OP_MSG"
	default:
		return "OP_UNKNOWN"
	}
}

// QueryFlag represents the bits of an OP_QUERY flags field.
type QueryFlag uint32

const (
	_ QueryFlag = 1 << iota
	QueryTailableCursor
	QuerySecondaryOK
	QueryOplogReplay
	QueryNoCursorTimeout
	QueryAwaitData
	QueryExhaust
	QueryPartial
)

func (qf QueryFlag) String() string { return flagString(uint32(qf), queryFlagNames) }

var queryFlagNames = []struct {
	bit  uint32
	name string
}{
	{uint32(QueryTailableCursor), "TailableCursor"},
	{uint32(QuerySecondaryOK), "SecondaryOK"},
	{uint32(QueryOplogReplay), "OplogReplay"},
	{uint32(QueryNoCursorTimeout), "NoCursorTimeout"},
	{uint32(QueryAwaitData), "AwaitData"},
	{uint32(QueryExhaust), "Exhaust"},
	{uint32(QueryPartial), "Partial"},
}

// ReplyFlag represents the bits of an OP_REPLY response flags field.
type ReplyFlag uint32

const (
	ReplyCursorNotFound ReplyFlag = 1 << iota
	ReplyQueryFailure
	ReplyShardConfigStale
	ReplyAwaitCapable
)

func (rf ReplyFlag) String() string { return flagString(uint32(rf), replyFlagNames) }

var replyFlagNames = []struct {
	bit  uint32
	name string
}{
	{uint32(ReplyCursorNotFound), "CursorNotFound"},
	{uint32(ReplyQueryFailure), "QueryFailure"},
	{uint32(ReplyShardConfigStale), "ShardConfigStale"},
	{uint32(ReplyAwaitCapable), "AwaitCapable"},
}

// MsgFlag represents the bits of an OP_MSG flags field.
type MsgFlag uint32

const (
	MsgChecksumPresent MsgFlag = 1 << iota
	MsgMoreToCome
	MsgExhaustAllowed MsgFlag = 1 << 16
)

func (mf MsgFlag) String() string { return flagString(uint32(mf), msgFlagNames) }

var msgFlagNames = []struct {
	bit  uint32
	name string
}{
	{uint32(MsgChecksumPresent), "ChecksumPresent"},
	{uint32(MsgMoreToCome), "MoreToCome"},
	{uint32(MsgExhaustAllowed), "ExhaustAllowed"},
}

func flagString(flags uint32, names []struct {
	bit  uint32
	name string
}) string {
	var strs []string
	for _, n := range names {
		if flags&n.bit == n.bit {
			strs = append(strs, n.name)
		}
	}
	return "[" + strings.Join(strs, ", ") + "]"
}

// SectionKind identifies the kind of a single OP_MSG section.
type SectionKind uint8

const (
	SectionSingleDocument SectionKind = 0
	SectionDocumentSequence SectionKind = 1
)

// OpMsgWireVersion is the minimum wire version at which drivers are
// expected to switch from legacy opcodes to OP_MSG.
const OpMsgWireVersion = 6
