// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package match

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mongodb-labs/mongo-mockup-db/internal/wire"
)

// Matches reports whether m satisfies p. On mismatch it also returns a
// short, human-readable reason suitable for surfacing in a test failure.
// Matching is pure: it never mutates m or p.
func Matches(p Pattern, m *wire.Message) (bool, string) {
	if !p.class.allows(m.Header.OpCode) {
		return false, fmt.Sprintf("opcode %s not in expected class", m.Header.OpCode)
	}
	if p.requireCommand && !m.IsCommand() {
		return false, fmt.Sprintf("opcode %s does not carry a command", m.Header.OpCode)
	}
	if p.hasFlagMask && m.Flags&p.flagMask != p.flagMask {
		return false, fmt.Sprintf("flags %#x do not include mask %#x", m.Flags, p.flagMask)
	}
	if p.hasNamespace && m.Namespace != p.namespace {
		return false, fmt.Sprintf("namespace %q != %q", m.Namespace, p.namespace)
	}
	if p.hasDatabase && m.Database() != p.database {
		return false, fmt.Sprintf("database %q != %q", m.Database(), p.database)
	}
	if p.hasCommandName && m.CommandName() != p.commandName {
		return false, fmt.Sprintf("command name %q != %q", m.CommandName(), p.commandName)
	}
	if p.hasNumToReturn && m.NumToReturn != p.numToReturn {
		return false, fmt.Sprintf("numberToReturn %d != %d", m.NumToReturn, p.numToReturn)
	}
	if p.hasCursorID && m.CursorID != p.cursorID {
		return false, fmt.Sprintf("cursorID %d != %d", m.CursorID, p.cursorID)
	}
	if p.hasCursorIDs && !int64SliceEqual(m.CursorIDs, p.cursorIDs) {
		return false, fmt.Sprintf("cursorIDs %v != %v", m.CursorIDs, p.cursorIDs)
	}
	if p.hasDocs {
		reqDocs := messageDocs(m)
		if len(reqDocs) != len(p.docs) {
			return false, fmt.Sprintf("document count %d != %d", len(reqDocs), len(p.docs))
		}
		for i, dp := range p.docs {
			if ok, reason := matchDoc(dp, reqDocs[i]); !ok {
				return false, fmt.Sprintf("document %d: %s", i, reason)
			}
		}
	}
	return true, ""
}

// messageDocs returns the document list a Pattern's WithDocs compares
// against: the single merged command document for OP_MSG and
// command-carrying OP_QUERY, or the opcode's raw Documents otherwise.
func messageDocs(m *wire.Message) []bson.Raw {
	if m.IsCommand() {
		if d := m.CommandDocument(); d != nil {
			return []bson.Raw{d}
		}
		return nil
	}
	return m.Documents
}

func int64SliceEqual(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func matchDoc(p DocPattern, req bson.Raw) (bool, string) {
	var reqOrdered bson.D
	if err := bson.Unmarshal(req, &reqOrdered); err != nil {
		return false, fmt.Sprintf("request document did not unmarshal: %v", err)
	}
	reqVals := map[string]interface{}{}
	reqOrder := map[string]int{}
	for i, e := range reqOrdered {
		reqVals[e.Key] = e.Value
		if _, seen := reqOrder[e.Key]; !seen {
			reqOrder[e.Key] = i
		}
	}

	var patOrder []string
	for _, e := range p.fields {
		v, present := reqVals[e.Key]
		if _, isAbsent := e.Value.(absentType); isAbsent {
			if present {
				return false, fmt.Sprintf("key %q must be absent but is present", e.Key)
			}
			continue
		}
		if !present {
			return false, fmt.Sprintf("key %q missing", e.Key)
		}
		if ok, reason := valuesEqual(e.Value, v); !ok {
			return false, fmt.Sprintf("key %q: %s", e.Key, reason)
		}
		patOrder = append(patOrder, e.Key)
	}

	if p.ordered && len(patOrder) > 1 {
		last := -1
		for _, k := range patOrder {
			pos := reqOrder[k]
			if pos < last {
				return false, "key order does not match pattern order"
			}
			last = pos
		}
	}
	return true, ""
}

// valuesEqual applies the subset comparison rule recursively: pat is a
// pattern-side value (built from bson.M/bson.D/scalars/Absent by the
// test author); req is the corresponding request-side value, already
// decoded to Go-native form by bson.Unmarshal (bson.D for subdocuments,
// primitive.A for arrays, primitive.ObjectID/DateTime/etc. for
// BSON-specific scalars).
func valuesEqual(pat, req interface{}) (bool, string) {
	switch pv := pat.(type) {
	case bson.M:
		return subdocEqual(Doc(pv), req)
	case bson.D:
		return subdocEqual(OrderedDoc(pv), req)
	case DocPattern:
		return subdocEqual(pv, req)
	case primitive.A:
		return arrayEqual([]interface{}(pv), req)
	case []interface{}:
		return arrayEqual(pv, req)
	case time.Time:
		return datetimeEqual(primitive.NewDateTimeFromTime(pv), req)
	case primitive.DateTime:
		return datetimeEqual(pv, req)
	default:
		if isNumeric(pat) && isNumeric(req) {
			pf, _ := numericValue(pat)
			rf, _ := numericValue(req)
			if pf == rf {
				return true, ""
			}
			return false, fmt.Sprintf("%v != %v", pat, req)
		}
		if canonicalBytes(pat, req) {
			return true, ""
		}
		return false, fmt.Sprintf("%v != %v", pat, req)
	}
}

func subdocEqual(p DocPattern, req interface{}) (bool, string) {
	var raw bson.Raw
	switch r := req.(type) {
	case bson.D:
		b, err := bson.Marshal(r)
		if err != nil {
			return false, err.Error()
		}
		raw = b
	case bson.M:
		b, err := bson.Marshal(r)
		if err != nil {
			return false, err.Error()
		}
		raw = b
	default:
		return false, "expected a subdocument"
	}
	return matchDoc(p, raw)
}

func arrayEqual(pat []interface{}, req interface{}) (bool, string) {
	arr, ok := req.(primitive.A)
	if !ok {
		if a, ok2 := req.([]interface{}); ok2 {
			arr = primitive.A(a)
		} else {
			return false, "expected an array"
		}
	}
	if len(arr) != len(pat) {
		return false, fmt.Sprintf("array length %d != %d", len(arr), len(pat))
	}
	for i := range pat {
		if ok, reason := valuesEqual(pat[i], arr[i]); !ok {
			return false, fmt.Sprintf("element %d: %s", i, reason)
		}
	}
	return true, ""
}

func datetimeEqual(pat primitive.DateTime, req interface{}) (bool, string) {
	var reqMS int64
	switch r := req.(type) {
	case primitive.DateTime:
		reqMS = int64(r)
	case time.Time:
		reqMS = int64(primitive.NewDateTimeFromTime(r))
	default:
		return false, "expected a datetime"
	}
	// Both sides are already millisecond-resolution once represented as
	// primitive.DateTime; truncating a time.Time before conversion
	// covers the sub-millisecond-digits caveat.
	if int64(pat) == reqMS {
		return true, ""
	}
	return false, fmt.Sprintf("%v != %v", pat, req)
}

func isNumeric(v interface{}) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

func numericValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// canonicalBytes compares BSON-specific scalar values (ObjectID,
// Decimal128, Regex, Binary, ...) and plain scalars (string, bool, nil)
// by re-marshaling each side as the sole value of a throwaway document
// and comparing bytes, so that "same value, different host type"
// (e.g. an ObjectID produced by a different BSON library) still
// compares equal, per the canonical-bytes equivalence decision in
// SPEC_FULL.md.
func canonicalBytes(a, b interface{}) bool {
	ab, aerr := bson.Marshal(bson.M{"v": a})
	bb, berr := bson.Marshal(bson.M{"v": b})
	if aerr != nil || berr != nil {
		return false
	}
	if len(ab) != len(bb) {
		return false
	}
	for i := range ab {
		if ab[i] != bb[i] {
			return false
		}
	}
	return true
}
