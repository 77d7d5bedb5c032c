// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mockupdb

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongodb-labs/mongo-mockup-db/internal/match"
	"github.com/mongodb-labs/mongo-mockup-db/internal/wire"
)

// Pattern is a partial description of a Request, used both for
// Receive's assertions and for autoresponder dispatch. The zero value,
// via Empty(), matches every request.
type Pattern = match.Pattern

// DocPattern describes one document within a Pattern's document list.
type DocPattern = match.DocPattern

// OpClass is a bitset of legacy opcodes a Pattern may restrict itself to.
type OpClass = match.OpClass

// Opcode classes, for use with OpClassPattern.
const (
	ClassOpQuery       = match.ClassOpQuery
	ClassOpInsert      = match.ClassOpInsert
	ClassOpUpdate      = match.ClassOpUpdate
	ClassOpDelete      = match.ClassOpDelete
	ClassOpGetMore     = match.ClassOpGetMore
	ClassOpKillCursors = match.ClassOpKillCursors
	ClassOpMsg         = match.ClassOpMsg
)

// Absent, bound to a document pattern key, asserts that key's absence
// from the matched document.
var Absent = match.Absent

// Empty returns the pattern that matches any request.
func Empty() Pattern { return match.Empty() }

// OpClassPattern restricts a Pattern to a specific opcode class.
func OpClassPattern(class OpClass) Pattern { return match.Op(class) }

// Doc builds an unordered document pattern.
func Doc(fields bson.M) DocPattern { return match.Doc(fields) }

// OrderedDoc builds a document pattern that also requires matched keys
// to appear in the request document in the given relative order.
func OrderedDoc(fields bson.D) DocPattern { return match.OrderedDoc(fields) }

// Command matches any command-carrying message (OP_MSG, or OP_QUERY
// against a ".$cmd" namespace) whose command document's first key is
// name, optionally further constrained by extra (merged, unordered
// subset).
func Command(name string, extra ...bson.M) Pattern { return match.Command(name, extra...) }

// CommandName is Command(name) with no further constraint: the Go
// analogue of the original's bare-string pattern sugar.
func CommandName(name string) Pattern { return match.CommandName(name) }

// OpQuery matches a legacy OP_QUERY request against namespace ns,
// further constrained by extra document fields against the query
// document (a subset match, as with Command).
func OpQuery(ns string, extra ...bson.M) Pattern {
	p := match.Op(match.ClassOpQuery).WithNamespace(ns)
	if len(extra) > 0 {
		p = p.WithDocs(mergeDoc(extra))
	}
	return p
}

// OpMsg matches an OP_MSG request (strictly: never a command-carrying
// OP_QUERY, unlike the more permissive Command) whose command name is
// name, optionally constrained by extra document fields.
func OpMsg(name string, extra ...bson.M) Pattern {
	return match.CommandInClass(match.ClassOpMsg, name, extra...)
}

// OpInsert matches a legacy OP_INSERT request against namespace ns
// inserting exactly docs (in order).
func OpInsert(ns string, docs ...bson.M) Pattern {
	p := match.Op(match.ClassOpInsert).WithNamespace(ns)
	dps := make([]DocPattern, len(docs))
	for i, d := range docs {
		dps[i] = match.Doc(d)
	}
	return p.WithDocs(dps...)
}

// OpGetMore matches a legacy OP_GET_MORE request.
func OpGetMore(ns string, cursorID int64) Pattern {
	return match.Op(match.ClassOpGetMore).WithNamespace(ns).WithCursorID(cursorID)
}

// OpKillCursors matches a legacy OP_KILL_CURSORS request.
func OpKillCursors(cursorIDs ...int64) Pattern {
	return match.Op(match.ClassOpKillCursors).WithCursorIDs(cursorIDs...)
}

// matches is the internal entry point connection workers and Receive
// use to test a decoded message against a Pattern.
func matches(p Pattern, m *wire.Message) (bool, string) { return match.Matches(p, m) }

func mergeDoc(extra []bson.M) DocPattern {
	merged := bson.M{}
	for _, e := range extra {
		for k, v := range e {
			merged[k] = v
		}
	}
	return match.Doc(merged)
}
