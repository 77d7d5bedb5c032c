// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mockupdb

import (
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// buildReplyDocs implements the reply spec grammar from SPEC_FULL.md §6:
//
//   - no arguments, command request     -> {ok: 1}
//   - no arguments, non-command request -> no documents at all: an
//     OP_REPLY with zero returned documents, matching the original's
//     Request/Command split (only Command defaults an empty reply to
//     {ok: 1}; a bare OP_INSERT/OP_UPDATE/OP_DELETE/non-command
//     OP_QUERY reply defaults to nothing)
//   - a single bson.D/bson.M            -> that document, as-is
//   - a single numeric value            -> {ok: value}
//   - a single string                   -> {value: 1}
//   - a document followed by            -> the document, extended with
//     alternating key/value pairs          the key/value pairs
//   - alternating key/value pairs       -> a document built from the
//     with no leading doc                  pairs
//
// The returned slice holds zero or one documents; only the empty-args,
// non-command case ever returns zero.
func buildReplyDocs(args []interface{}, isCommand bool) ([]bson.D, error) {
	if len(args) == 0 {
		if !isCommand {
			return nil, nil
		}
		return []bson.D{{{Key: "ok", Value: int32(1)}}}, nil
	}
	doc, err := buildReplyDoc(args)
	if err != nil {
		return nil, err
	}
	return []bson.D{doc}, nil
}

// buildReplyDoc builds the single reply document described by a
// non-empty reply spec (see buildReplyDocs).
func buildReplyDoc(args []interface{}) (bson.D, error) {
	if len(args) == 1 {
		switch v := args[0].(type) {
		case bson.D:
			return append(bson.D{}, v...), nil
		case bson.M:
			return mapToD(v), nil
		case string:
			return bson.D{{Key: v, Value: int32(1)}}, nil
		default:
			if f, ok := numericAsFloat(v); ok {
				_ = f
				return bson.D{{Key: "ok", Value: v}}, nil
			}
			return nil, errors.Errorf("mockupdb: unsupported reply spec of type %T", v)
		}
	}

	var doc bson.D
	rest := args
	switch v := args[0].(type) {
	case bson.D:
		doc = append(bson.D{}, v...)
		rest = args[1:]
	case bson.M:
		doc = mapToD(v)
		rest = args[1:]
	}
	if len(rest)%2 != 0 {
		return nil, errors.New("mockupdb: reply spec has an odd number of key/value arguments")
	}
	for i := 0; i < len(rest); i += 2 {
		key, ok := rest[i].(string)
		if !ok {
			return nil, errors.Errorf("mockupdb: reply spec key at position %d must be a string, got %T", i, rest[i])
		}
		doc = append(doc, bson.E{Key: key, Value: rest[i+1]})
	}
	return doc, nil
}

func mapToD(m bson.M) bson.D {
	d := make(bson.D, 0, len(m))
	for k, v := range m {
		d = append(d, bson.E{Key: k, Value: v})
	}
	return d
}

func numericAsFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// commandErrorDoc builds the document for a command-error reply:
// {ok: 0, code: code, errmsg: errmsg} extended with extra key/value
// pairs (e.g. "codeName", "abc", "errorLabels", []string{...}).
func commandErrorDoc(code int32, errmsg string, extra []interface{}) (bson.D, error) {
	doc := bson.D{
		{Key: "ok", Value: int32(0)},
		{Key: "errmsg", Value: errmsg},
		{Key: "code", Value: code},
	}
	if len(extra)%2 != 0 {
		return nil, errors.New("mockupdb: CommandError extra has an odd number of key/value arguments")
	}
	for i := 0; i < len(extra); i += 2 {
		key, ok := extra[i].(string)
		if !ok {
			return nil, errors.Errorf("mockupdb: CommandError extra key at position %d must be a string, got %T", i, extra[i])
		}
		doc = append(doc, bson.E{Key: key, Value: extra[i+1]})
	}
	return doc, nil
}
