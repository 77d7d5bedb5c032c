// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wire

// EncodeReply serializes an OP_REPLY message. requestID is the server's
// own monotonically increasing id; responseTo must equal the request
// that is being answered.
func EncodeReply(requestID, responseTo int32, responseFlags ReplyFlag, cursorID int64, startingFrom int32, docs []Raw) []byte {
	body := make([]byte, 0, 20+docSize(docs))
	body = appendInt32(body, int32(responseFlags))
	body = appendInt64(body, cursorID)
	body = appendInt32(body, startingFrom)
	body = appendInt32(body, int32(len(docs)))
	for _, d := range docs {
		body = append(body, d...)
	}
	hdr := Header{
		MessageLength: int32(HeaderLen + len(body)),
		RequestID:     requestID,
		ResponseTo:    responseTo,
		OpCode:        OpReply,
	}
	out := hdr.Append(make([]byte, 0, hdr.MessageLength))
	out = append(out, body...)
	return out
}

// EncodeMsg serializes an OP_MSG message carrying a single kind-0
// section. Servers never need to emit kind-1 sequences in a reply.
func EncodeMsg(requestID, responseTo int32, flags MsgFlag, doc Raw) []byte {
	body := make([]byte, 0, 5+len(doc))
	body = appendUint32(body, uint32(flags))
	body = append(body, byte(SectionSingleDocument))
	body = append(body, doc...)
	hdr := Header{
		MessageLength: int32(HeaderLen + len(body)),
		RequestID:     requestID,
		ResponseTo:    responseTo,
		OpCode:        OpMsg,
	}
	out := hdr.Append(make([]byte, 0, hdr.MessageLength))
	out = append(out, body...)
	return out
}

// EncodeQuery serializes an OP_QUERY message. It exists primarily so
// tests (and any future proxying use of this codec) can build legacy
// requests without hand-rolling the byte layout.
func EncodeQuery(requestID int32, flags QueryFlag, namespace string, numToSkip, numToReturn int32, query Raw, selector Raw) []byte {
	body := make([]byte, 0, 4+len(namespace)+1+8+len(query)+len(selector))
	body = appendUint32(body, uint32(flags))
	body = appendCString(body, namespace)
	body = appendInt32(body, numToSkip)
	body = appendInt32(body, numToReturn)
	body = append(body, query...)
	body = append(body, selector...)
	hdr := Header{
		MessageLength: int32(HeaderLen + len(body)),
		RequestID:     requestID,
		OpCode:        OpQuery,
	}
	out := hdr.Append(make([]byte, 0, hdr.MessageLength))
	out = append(out, body...)
	return out
}

// Raw is a length-prefixed encoded BSON document, kept opaque to this
// package (it is a bson.Raw at call sites). It is aliased here so this
// file does not need to import the bson package solely for a type name.
type Raw = []byte

func docSize(docs []Raw) int {
	n := 0
	for _, d := range docs {
		n += len(d)
	}
	return n
}
