// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wire

import (
	"io"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// ReadMessage reads one complete, framed wire protocol message from r and
// decodes it. It returns io.EOF (or the underlying read error) unchanged
// when zero bytes of a new message have been read yet, so callers can
// distinguish "peer hung up between messages" from a mid-message fault.
func ReadMessage(r io.Reader) (*Message, error) {
	var hdrBuf [HeaderLen]byte
	if _, err := io.ReadFull(r, hdrBuf[:]); err != nil {
		return nil, err
	}
	hdr, err := ReadHeader(hdrBuf[:])
	if err != nil {
		return nil, err
	}
	if hdr.MessageLength < HeaderLen {
		return nil, ErrBadLength
	}
	body := make([]byte, hdr.MessageLength-HeaderLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return Decode(hdr, body)
}

// Decode dispatches on hdr.OpCode to parse body (the message minus its
// 16-byte header) into a Message.
func Decode(hdr Header, body []byte) (*Message, error) {
	m := &Message{Header: hdr}
	var err error
	switch hdr.OpCode {
	case OpQuery:
		err = decodeQuery(m, body)
	case OpInsert:
		err = decodeInsert(m, body)
	case OpUpdate:
		err = decodeUpdate(m, body)
	case OpDelete:
		err = decodeDelete(m, body)
	case OpGetMore:
		err = decodeGetMore(m, body)
	case OpKillCursors:
		err = decodeKillCursors(m, body)
	case OpMsg:
		err = decodeMsg(m, body)
	case OpReply:
		err = decodeReply(m, body)
	default:
		return nil, ErrUnknownOpCode
	}
	if err != nil {
		return nil, err
	}
	m.classify()
	return m, nil
}

func readRawDocument(buf []byte, pos int) (bson.Raw, int, error) {
	if pos+4 > len(buf) {
		return nil, 0, ErrTruncated
	}
	length, _, ok := bsoncore.ReadLength(buf[pos:])
	if !ok || length < 5 {
		return nil, 0, ErrTruncated
	}
	end := pos + int(length)
	if end > len(buf) {
		return nil, 0, ErrTruncated
	}
	return bson.Raw(buf[pos:end]), end, nil
}

func decodeQuery(m *Message, buf []byte) error {
	if len(buf) < 4 {
		return ErrTruncated
	}
	m.Flags = readUint32(buf, 0)
	ns, n, err := readCString(buf, 4)
	if err != nil {
		return err
	}
	m.Namespace = ns
	pos := 4 + n
	if pos+8 > len(buf) {
		return ErrTruncated
	}
	m.NumToSkip = readInt32(buf, pos)
	m.NumToReturn = readInt32(buf, pos+4)
	pos += 8

	query, pos, err := readRawDocument(buf, pos)
	if err != nil {
		return err
	}
	m.Documents = []bson.Raw{query}
	if pos < len(buf) {
		selector, next, err := readRawDocument(buf, pos)
		if err != nil {
			return err
		}
		m.Documents = append(m.Documents, selector)
		pos = next
	}

	if key := firstKey(query); queryWrapperKeys[key] {
		if inner, ok := lookupDoc(query, key); ok {
			m.Unwrapped = inner
		}
	}
	return nil
}

func lookupDoc(doc bson.Raw, key string) (bson.Raw, bool) {
	v := doc.Lookup(key)
	d, ok := v.DocumentOK()
	if !ok {
		return nil, false
	}
	return bson.Raw(d), true
}

func decodeInsert(m *Message, buf []byte) error {
	if len(buf) < 4 {
		return ErrTruncated
	}
	m.Flags = readUint32(buf, 0)
	ns, n, err := readCString(buf, 4)
	if err != nil {
		return err
	}
	m.Namespace = ns
	pos := 4 + n
	for pos < len(buf) {
		var doc bson.Raw
		doc, pos, err = readRawDocument(buf, pos)
		if err != nil {
			return err
		}
		m.Documents = append(m.Documents, doc)
	}
	return nil
}

func decodeUpdate(m *Message, buf []byte) error {
	if len(buf) < 4 {
		return ErrTruncated
	}
	// reserved int32
	ns, n, err := readCString(buf, 4)
	if err != nil {
		return err
	}
	m.Namespace = ns
	pos := 4 + n
	if pos+4 > len(buf) {
		return ErrTruncated
	}
	m.Flags = readUint32(buf, pos)
	pos += 4
	selector, pos, err := readRawDocument(buf, pos)
	if err != nil {
		return err
	}
	update, pos, err := readRawDocument(buf, pos)
	if err != nil {
		return err
	}
	_ = pos
	m.Documents = []bson.Raw{selector, update}
	return nil
}

func decodeDelete(m *Message, buf []byte) error {
	if len(buf) < 4 {
		return ErrTruncated
	}
	ns, n, err := readCString(buf, 4)
	if err != nil {
		return err
	}
	m.Namespace = ns
	pos := 4 + n
	if pos+4 > len(buf) {
		return ErrTruncated
	}
	m.Flags = readUint32(buf, pos)
	pos += 4
	selector, pos, err := readRawDocument(buf, pos)
	if err != nil {
		return err
	}
	_ = pos
	m.Documents = []bson.Raw{selector}
	return nil
}

func decodeGetMore(m *Message, buf []byte) error {
	if len(buf) < 4 {
		return ErrTruncated
	}
	ns, n, err := readCString(buf, 4)
	if err != nil {
		return err
	}
	m.Namespace = ns
	pos := 4 + n
	if pos+12 > len(buf) {
		return ErrTruncated
	}
	m.NumToReturn = readInt32(buf, pos)
	m.CursorID = readInt64(buf, pos+4)
	return nil
}

func decodeKillCursors(m *Message, buf []byte) error {
	if len(buf) < 8 {
		return ErrTruncated
	}
	n := readInt32(buf, 4)
	pos := 8
	if pos+int(n)*8 > len(buf) || n < 0 {
		return ErrTruncated
	}
	m.CursorIDs = make([]int64, n)
	for i := int32(0); i < n; i++ {
		m.CursorIDs[i] = readInt64(buf, pos)
		pos += 8
	}
	return nil
}

func decodeReply(m *Message, buf []byte) error {
	if len(buf) < 20 {
		return ErrTruncated
	}
	m.ResponseFlags = readInt32(buf, 0)
	m.CursorID = readInt64(buf, 4)
	m.StartingFrom = readInt32(buf, 12)
	numReturned := readInt32(buf, 16)
	pos := 20
	var err error
	for i := int32(0); i < numReturned; i++ {
		var doc bson.Raw
		doc, pos, err = readRawDocument(buf, pos)
		if err != nil {
			return err
		}
		m.Documents = append(m.Documents, doc)
	}
	return nil
}

// decodeMsg parses an OP_MSG body. Sections may appear in any order and
// in any quantity: any number of kind-1 (document sequence) sections,
// plus exactly one kind-0 (single document) section carrying the command
// body. The merged Documents[0] is the kind-0 document with each kind-1
// sequence appended as an array field under its identifier; as decided in
// SPEC_FULL.md §9, a kind-1 identifier that collides with a kind-0 key
// shadows it.
func decodeMsg(m *Message, buf []byte) error {
	if len(buf) < 4 {
		return ErrTruncated
	}
	flags := readUint32(buf, 0)
	m.Flags = flags
	pos := 4

	checksumPresent := MsgFlag(flags)&MsgChecksumPresent == MsgChecksumPresent
	end := len(buf)
	if checksumPresent {
		if end < 4 {
			return ErrTruncated
		}
		end -= 4
		m.ChecksumPresent = true
	}

	var body bson.Raw
	sequences := map[string][]bson.Raw{}
	var order []string

	for pos < end {
		if pos >= len(buf) {
			return ErrTruncated
		}
		kind := SectionKind(buf[pos])
		pos++
		switch kind {
		case SectionSingleDocument:
			var doc bson.Raw
			var err error
			doc, pos, err = readRawDocument(buf, pos)
			if err != nil {
				return err
			}
			body = doc
		case SectionDocumentSequence:
			if pos+4 > end {
				return ErrTruncated
			}
			seqLen := int(readInt32(buf, pos))
			seqStart := pos
			seqEnd := seqStart + seqLen
			if seqEnd > end {
				return ErrTruncated
			}
			ident, n, err := readCString(buf, pos+4)
			if err != nil {
				return err
			}
			p := pos + 4 + n
			var docs []bson.Raw
			for p < seqEnd {
				var doc bson.Raw
				doc, p, err = readRawDocument(buf, p)
				if err != nil {
					return err
				}
				docs = append(docs, doc)
			}
			if _, seen := sequences[ident]; !seen {
				order = append(order, ident)
			}
			sequences[ident] = docs
			pos = seqEnd
		default:
			return ErrTruncated
		}
	}

	if body == nil {
		return ErrTruncated
	}
	merged := body
	if len(sequences) > 0 {
		var doc bson.D
		if err := bson.Unmarshal(body, &doc); err != nil {
			return err
		}
		var filtered bson.D
		for _, e := range doc {
			if _, shadowed := sequences[e.Key]; shadowed {
				continue
			}
			filtered = append(filtered, e)
		}
		for _, ident := range order {
			arr := bson.A{}
			for _, d := range sequences[ident] {
				var elemDoc bson.D
				if err := bson.Unmarshal(d, &elemDoc); err != nil {
					return err
				}
				arr = append(arr, elemDoc)
			}
			filtered = append(filtered, bson.E{Key: ident, Value: arr})
		}
		raw, err := bson.Marshal(filtered)
		if err != nil {
			return err
		}
		merged = bson.Raw(raw)
	}

	m.Documents = []bson.Raw{merged}
	return nil
}
