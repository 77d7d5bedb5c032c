// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mockupdb

import (
	"crypto/tls"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
)

// autoIsmaster describes the auto_ismaster configuration knob: off,
// on with the default reply, or on with a caller-supplied override
// document.
type autoIsmaster struct {
	enabled bool
	doc     bson.D // nil means "use the default"
}

type config struct {
	autoIsmaster   autoIsmaster
	unixSocketPath string
	tlsConfig      *tls.Config
	requestTimeout time.Duration
	verbose        bool
	logger         *logrus.Logger
	minWireVersion int32
	maxWireVersion int32
}

func defaultConfig() config {
	return config{
		autoIsmaster:   autoIsmaster{enabled: true},
		requestTimeout: 10 * time.Second,
		minWireVersion: 0,
		maxWireVersion: 6,
	}
}

// Option configures a Server at construction time.
type Option func(*config)

// WithAutoIsmaster enables or disables the built-in ismaster/hello
// autoresponder. It is enabled by default.
func WithAutoIsmaster(enabled bool) Option {
	return func(c *config) { c.autoIsmaster.enabled = enabled }
}

// WithAutoIsmasterReply enables the built-in autoresponder and overrides
// its reply document (merged over the default {ok, ismaster, minWireVersion,
// maxWireVersion} fields).
func WithAutoIsmasterReply(doc bson.D) Option {
	return func(c *config) {
		c.autoIsmaster.enabled = true
		c.autoIsmaster.doc = doc
	}
}

// WithUnixSocket binds the server to a Unix-domain socket at path
// instead of TCP. On platforms lacking Unix-domain socket support, the
// server does not fail until Run is called, which returns
// ErrUnixSocketUnsupported.
func WithUnixSocket(path string) Option {
	return func(c *config) { c.unixSocketPath = path }
}

// WithTLS wraps the listener with the given server-side TLS
// configuration. The codec sees plaintext after the handshake.
func WithTLS(cfg *tls.Config) Option {
	return func(c *config) { c.tlsConfig = cfg }
}

// WithRequestTimeout sets the default timeout for Receive when no
// per-call timeout is given.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *config) { c.requestTimeout = d }
}

// WithVerbose enables per-message logging of decoded requests and
// encoded replies.
func WithVerbose(v bool) Option {
	return func(c *config) { c.verbose = v }
}

// WithLogger overrides the *logrus.Logger the server logs through.
func WithLogger(l *logrus.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithWireVersions sets the minWireVersion/maxWireVersion advertised by
// the built-in ismaster/hello autoresponder. Defaults are 0 and 6.
func WithWireVersions(min, max int32) Option {
	return func(c *config) { c.minWireVersion, c.maxWireVersion = min, max }
}
