// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package match implements the request/pattern matcher: deciding whether
// a decoded wire.Message satisfies a Pattern, both for test-thread
// assertions (Receive) and for autoresponder dispatch.
//
// The original mockupdb accepts mappings, opcode classes, and bare
// strings interchangeably as a "pattern" via Python duck typing. That
// doesn't translate: a Pattern here is a single struct of independently
// optional predicates (opcode class, flags, namespace, scalar fields,
// document list), built up through named constructors, so that a test
// can combine "this is an OP_MSG insert into db.coll with these
// documents" in one value instead of composing four different sum-type
// cases with an AND combinator.
package match

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongodb-labs/mongo-mockup-db/internal/wire"
)

// OpClass is a bitset of legacy opcodes a Pattern will accept. The zero
// value, ClassAny, places no restriction on opcode.
type OpClass uint16

// ClassAny places no restriction on opcode.
const ClassAny OpClass = 0

// Opcode classes usable in a Pattern's Op predicate.
const (
	ClassOpQuery OpClass = 1 << iota
	ClassOpInsert
	ClassOpUpdate
	ClassOpDelete
	ClassOpGetMore
	ClassOpKillCursors
	ClassOpMsg
)

func classOf(op wire.OpCode) OpClass {
	switch op {
	case wire.OpQuery:
		return ClassOpQuery
	case wire.OpInsert:
		return ClassOpInsert
	case wire.OpUpdate:
		return ClassOpUpdate
	case wire.OpDelete:
		return ClassOpDelete
	case wire.OpGetMore:
		return ClassOpGetMore
	case wire.OpKillCursors:
		return ClassOpKillCursors
	case wire.OpMsg:
		return ClassOpMsg
	default:
		return ClassAny
	}
}

func (c OpClass) allows(op wire.OpCode) bool {
	if c == ClassAny {
		return true
	}
	return c&classOf(op) != 0
}

// absentType is the type of the Absent sentinel. A pattern field value
// of this type asserts that the corresponding key must be missing from
// the request document (or array element), rather than present with
// some value.
type absentType struct{}

// Absent is bound to a document pattern key to assert that key's
// absence from the matched request document.
var Absent = absentType{}

// DocPattern describes one document in a Pattern's document list: a
// subset of key/value pairs the corresponding request document must
// contain, optionally with the constraint that the matched keys must
// appear in the same relative order in the request document as they do
// here.
type DocPattern struct {
	fields  bson.D
	ordered bool
}

// Doc builds an unordered document pattern: every key in fields must be
// present (or, if bound to Absent, absent) in the matched document;
// fields not mentioned are ignored.
func Doc(fields bson.M) DocPattern {
	d := make(bson.D, 0, len(fields))
	for k, v := range fields {
		d = append(d, bson.E{Key: k, Value: v})
	}
	return DocPattern{fields: d}
}

// OrderedDoc builds a document pattern like Doc, but additionally
// requires that fields' keys appear in the matched document in the same
// relative order they appear here.
func OrderedDoc(fields bson.D) DocPattern {
	return DocPattern{fields: fields, ordered: true}
}

// Pattern is a partial description of a wire.Message: every predicate
// left unset (zero value) is ignored during matching. The zero Pattern
// matches every message.
type Pattern struct {
	class          OpClass
	requireCommand bool

	hasFlagMask bool
	flagMask    uint32

	hasNamespace bool
	namespace    string

	hasDatabase bool
	database    string

	hasCommandName bool
	commandName    string

	hasNumToReturn bool
	numToReturn    int32

	hasCursorID bool
	cursorID    int64

	hasCursorIDs bool
	cursorIDs    []int64

	hasDocs bool
	docs    []DocPattern
}

// Empty returns the pattern that matches any request.
func Empty() Pattern { return Pattern{} }

// Op restricts a Pattern to a specific opcode class, e.g. Op(ClassOpMsg).
func Op(class OpClass) Pattern { return Pattern{class: class} }

// WithNamespace requires namespace equality (legacy opcodes).
func (p Pattern) WithNamespace(ns string) Pattern {
	p.hasNamespace, p.namespace = true, ns
	return p
}

// WithDatabase requires "$db" (or the ".$cmd" prefix) equality.
func (p Pattern) WithDatabase(db string) Pattern {
	p.hasDatabase, p.database = true, db
	return p
}

// WithFlags requires request.Flags&mask == mask.
func (p Pattern) WithFlags(mask uint32) Pattern {
	p.hasFlagMask, p.flagMask = true, mask
	return p
}

// WithNumToReturn requires NumberToReturn equality.
func (p Pattern) WithNumToReturn(n int32) Pattern {
	p.hasNumToReturn, p.numToReturn = true, n
	return p
}

// WithCursorID requires CursorID equality (OP_GET_MORE).
func (p Pattern) WithCursorID(id int64) Pattern {
	p.hasCursorID, p.cursorID = true, id
	return p
}

// WithCursorIDs requires CursorIDs equality (OP_KILL_CURSORS).
func (p Pattern) WithCursorIDs(ids ...int64) Pattern {
	p.hasCursorIDs, p.cursorIDs = true, ids
	return p
}

// WithDocs requires the message's document list (see messageDocs) to
// have exactly len(docs) entries, each satisfying the corresponding
// DocPattern.
func (p Pattern) WithDocs(docs ...DocPattern) Pattern {
	p.hasDocs, p.docs = true, docs
	return p
}

// Command returns a pattern matching any command-carrying message (an
// OP_MSG, or an OP_QUERY against a ".$cmd" namespace) whose command
// document's first key is name. extra, if given, further constrains
// that document as an unordered subset (equivalent to WithDocs(Doc(extra))).
//
// This is the Go analogue of the original's bare-string sugar
// ("cmdName" expanding to {cmdName: 1}): CommandName(name) here plays
// that role, and Command(name, extra) is the general form.
func Command(name string, extra ...bson.M) Pattern {
	return command(ClassOpMsg|ClassOpQuery, name, extra...)
}

// CommandInClass is Command, further restricted to a single opcode
// class instead of accepting both OP_MSG and command-carrying OP_QUERY.
// It backs convenience wrappers like OpMsg(name, extra...) that need
// strict opcode matching alongside command-name matching (SPEC_FULL.md
// §4.2 rule 1).
func CommandInClass(class OpClass, name string, extra ...bson.M) Pattern {
	return command(class, name, extra...)
}

func command(class OpClass, name string, extra ...bson.M) Pattern {
	p := Pattern{class: class, requireCommand: true, hasCommandName: true, commandName: name}
	if len(extra) > 0 {
		merged := bson.M{}
		for _, e := range extra {
			for k, v := range e {
				merged[k] = v
			}
		}
		p.hasDocs, p.docs = true, []DocPattern{Doc(merged)}
	}
	return p
}

// CommandName is the bare-name form: Command(name) with no further
// constraint on the command document beyond its first key. See
// DESIGN.md's open-question decisions (item 6) for why this checks only the
// key, not the {name: 1} value literal rule 6's text suggests: real
// named commands like "find" or "insert" never carry that literal
// value, and this is the primitive both use to match by name.
func CommandName(name string) Pattern { return command(ClassOpMsg|ClassOpQuery, name) }
