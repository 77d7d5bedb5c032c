// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package wirelog carries the mock server's ambient logging and
// diagnostic-rendering concerns: structured per-message tracing at
// verbose level via logrus, and depth-bounded dumps of decoded
// documents and patterns for mismatch/error messages via go-spew.
package wirelog

import (
	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/pretty"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongodb-labs/mongo-mockup-db/internal/wire"
)

// dumpConfig is created per call, not process-global, so depth limits
// never leak between unrelated dumps (see SPEC_FULL.md design notes on
// replacing the original's global recursion-limited repr).
func dumpConfig(maxDepth int) *spew.ConfigState {
	return &spew.ConfigState{
		Indent:                  "  ",
		DisableMethods:          true,
		DisablePointerAddresses: true,
		DisableCapacities:       true,
		MaxDepth:                maxDepth,
	}
}

// Sdump renders v as a depth-bounded structured dump, for embedding in
// mismatch reasons and panics-turned-errors.
func Sdump(v interface{}) string {
	return dumpConfig(6).Sdump(v)
}

// PrettyJSON renders a BSON document as indented extended JSON for
// verbose logging. On any marshal failure it falls back to Sdump so
// logging never itself becomes a source of failure.
func PrettyJSON(doc bson.Raw) string {
	ext, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return Sdump(doc)
	}
	return string(pretty.Pretty(ext))
}

// Logger wraps a *logrus.Logger with the fields this package always
// wants attached, plus a verbose flag gating per-message tracing.
type Logger struct {
	*logrus.Logger
	Verbose bool
}

// New wraps l (or logrus.StandardLogger() if l is nil).
func New(l *logrus.Logger, verbose bool) *Logger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &Logger{Logger: l, Verbose: verbose}
}

// Request logs a decoded inbound message at Debug level, when verbose.
func (l *Logger) Request(connID uint64, m *wire.Message) {
	if l == nil || !l.Verbose {
		return
	}
	fields := logrus.Fields{
		"conn":        connID,
		"opcode":      m.Header.OpCode.String(),
		"request_id":  m.Header.RequestID,
		"response_to": m.Header.ResponseTo,
		"namespace":   m.Namespace,
	}
	entry := l.WithFields(fields)
	if doc := m.CommandDocument(); doc != nil {
		entry.Debug(PrettyJSON(doc))
		return
	}
	entry.Debug("(no command document)")
}

// Reply logs an outbound reply at Debug level, when verbose. doc is nil
// for a legacy reply carrying no documents at all.
func (l *Logger) Reply(connID uint64, requestID, responseTo int32, doc bson.Raw) {
	if l == nil || !l.Verbose {
		return
	}
	entry := l.WithFields(logrus.Fields{
		"conn":        connID,
		"request_id":  requestID,
		"response_to": responseTo,
	})
	if doc == nil {
		entry.Debug("(no reply document)")
		return
	}
	entry.Debug(PrettyJSON(doc))
}

// Fault logs a non-fatal-to-the-server fault (decode error, accept
// error, ...) at Warn level unconditionally.
func (l *Logger) Fault(connID uint64, err error) {
	if l == nil {
		return
	}
	l.WithField("conn", connID).WithError(err).Warn("connection fault")
}
