// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wire

import "errors"

// Decode error sentinels. A connection worker treats every one of these
// as fatal to the connection: it closes the socket and logs the fault,
// but the server itself keeps running.
var (
	// ErrShortHeader is returned when fewer than HeaderLen bytes are
	// available to parse a header.
	ErrShortHeader = errors.New("wire: message shorter than header")
	// ErrBadLength is returned when a header's message length is
	// smaller than the header itself.
	ErrBadLength = errors.New("wire: message length smaller than header")
	// ErrTruncated is returned when a message body ends before a
	// length-prefixed or cstring field is fully readable.
	ErrTruncated = errors.New("wire: message body truncated")
	// ErrUnknownOpCode is returned for an opcode this codec does not
	// implement.
	ErrUnknownOpCode = errors.New("wire: unknown opcode")
)
