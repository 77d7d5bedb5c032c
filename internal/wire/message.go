// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wire

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Message is the decoded, opcode-agnostic superset of every wire protocol
// message this package understands. Which fields are meaningful depends
// on Header.OpCode; see the per-opcode comments below. OP_REPLY is
// decoded too, so a mock server's own replies can be read back.
type Message struct {
	Header Header

	// Namespace is "db.collection" for legacy opcodes that carry one.
	// It is empty for OP_KILL_CURSORS and for OP_MSG messages that omit
	// "$db". CommandName/Database are derived from it (or from "$db")
	// when the message is a command.
	Namespace string

	// Flags carries the opcode's flag bits widened to 32 bits: QueryFlag
	// for OP_QUERY, ReplyFlag for OP_REPLY, MsgFlag for OP_MSG, or the
	// raw reserved/flags int32 for OP_UPDATE/OP_DELETE.
	Flags uint32

	// Documents holds the ordered BSON payload documents. Meaning is
	// opcode-dependent:
	//   OP_QUERY:   [query, fieldsSelector?]
	//   OP_INSERT:  one or more documents to insert
	//   OP_UPDATE:  [selector, update]
	//   OP_DELETE:  [selector]
	//   OP_MSG:     the kind-0 body document merged with kind-1
	//               sequences appended as array fields, as element 0
	//   OP_REPLY:   the returned documents
	Documents []bson.Raw

	// Unwrapped holds the inner document of a $query-wrapped OP_QUERY
	// query document, when the top-level query document's first key is
	// one of the recognized wrapper keys. Nil otherwise.
	Unwrapped bson.Raw

	NumToSkip   int32 // OP_QUERY
	NumToReturn int32 // OP_QUERY, OP_GET_MORE

	CursorID  int64   // OP_GET_MORE
	CursorIDs []int64 // OP_KILL_CURSORS

	// ResponseFlags and StartingFrom are meaningful for OP_REPLY only.
	ResponseFlags int32
	StartingFrom  int32

	// ChecksumPresent records whether an OP_MSG carried a (unverified)
	// trailing CRC-32C checksum.
	ChecksumPresent bool

	// commandName and database are computed once by classify() and
	// cached; see CommandName/Database/IsCommand.
	commandName string
	database    string
	isCommand   bool
}

// queryWrapperKeys are the legacy top-level keys that indicate an
// OP_QUERY query document wraps a real query under "$query" alongside
// modifiers like "$orderby" or "$hint".
var queryWrapperKeys = map[string]bool{
	"$query": true,
	"query":  true,
}

// classify inspects Namespace and the lead document to determine whether
// this message carries a command, and if so its name and target database.
// Called once by the decoder immediately after a Message is built.
func (m *Message) classify() {
	switch m.Header.OpCode {
	case OpMsg:
		m.isCommand = true
		if len(m.Documents) > 0 {
			db, _ := m.Documents[0].Lookup("$db").StringValueOK()
			m.database = db
			m.commandName = firstKey(m.Documents[0])
		}
	case OpQuery:
		if strings.HasSuffix(m.Namespace, ".$cmd") {
			m.isCommand = true
			m.database = strings.TrimSuffix(m.Namespace, ".$cmd")
			doc := m.Documents[0]
			if m.Unwrapped != nil {
				doc = m.Unwrapped
			}
			m.commandName = firstKey(doc)
		}
	}
}

// firstKey returns the name of the first key of a BSON document, or "".
func firstKey(doc bson.Raw) string {
	elems, err := doc.Elements()
	if err != nil || len(elems) == 0 {
		return ""
	}
	return elems[0].Key()
}

// IsCommand reports whether this message's primary payload is a command
// document: true for every OP_MSG, and for OP_QUERY against a ".$cmd"
// namespace.
func (m *Message) IsCommand() bool { return m.isCommand }

// CommandName returns the name of the command this message carries, or
// "" if it is not a command.
func (m *Message) CommandName() string { return m.commandName }

// Database returns the target database of a command message, derived
// from "$db" (OP_MSG) or from stripping ".$cmd" off Namespace (OP_QUERY).
func (m *Message) Database() string { return m.database }

// CommandDocument returns the document the matcher and autoresponders
// should treat as "the command": the unwrapped query for legacy $query
// wrapping, or the sole/lead document otherwise.
func (m *Message) CommandDocument() bson.Raw {
	if m.Unwrapped != nil {
		return m.Unwrapped
	}
	if len(m.Documents) == 0 {
		return nil
	}
	return m.Documents[0]
}
