// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wire

import (
	"encoding/binary"
	"sync/atomic"
)

// HeaderLen is the fixed size, in bytes, of a wire protocol message header.
const HeaderLen = 16

// Header is the 16-byte preamble common to every wire protocol message.
type Header struct {
	MessageLength int32
	RequestID     int32
	ResponseTo    int32
	OpCode        OpCode
}

// ReadHeader parses a Header from the first 16 bytes of buf.
func ReadHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderLen {
		return Header{}, ErrShortHeader
	}
	return Header{
		MessageLength: int32(binary.LittleEndian.Uint32(buf[0:4])),
		RequestID:     int32(binary.LittleEndian.Uint32(buf[4:8])),
		ResponseTo:    int32(binary.LittleEndian.Uint32(buf[8:12])),
		OpCode:        OpCode(binary.LittleEndian.Uint32(buf[12:16])),
	}, nil
}

// Append serializes h onto dst and returns the extended slice.
func (h Header) Append(dst []byte) []byte {
	dst = appendInt32(dst, h.MessageLength)
	dst = appendInt32(dst, h.RequestID)
	dst = appendInt32(dst, h.ResponseTo)
	dst = appendInt32(dst, int32(h.OpCode))
	return dst
}

var globalRequestID int32

// NextRequestID returns the next monotonically increasing request id used
// for server-generated messages (replies). It is process-global, matching
// the driver line's CurrentRequestID/NextRequestID convention, but each
// Server additionally keeps its own counter so id sequences from distinct
// mock servers in the same test binary don't need to be disjoint.
func NextRequestID() int32 { return atomic.AddInt32(&globalRequestID, 1) }

func appendInt32(dst []byte, v int32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	return append(dst, buf[:]...)
}

func appendInt64(dst []byte, v int64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	return append(dst, buf[:]...)
}

func appendUint32(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}

func appendCString(dst []byte, s string) []byte {
	dst = append(dst, s...)
	return append(dst, 0)
}

func readInt32(buf []byte, pos int) int32 {
	return int32(binary.LittleEndian.Uint32(buf[pos : pos+4]))
}

func readUint32(buf []byte, pos int) uint32 {
	return binary.LittleEndian.Uint32(buf[pos : pos+4])
}

func readInt64(buf []byte, pos int) int64 {
	return int64(binary.LittleEndian.Uint64(buf[pos : pos+8]))
}

func readCString(buf []byte, pos int) (string, int, error) {
	end := pos
	for end < len(buf) && buf[end] != 0 {
		end++
	}
	if end >= len(buf) {
		return "", 0, ErrTruncated
	}
	return string(buf[pos:end]), end + 1 - pos, nil
}
