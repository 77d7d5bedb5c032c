// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package mockupdb implements a programmable mock server for the
// MongoDB wire protocol, for driving driver and application test suites
// turn-by-turn: a test starts a Server, points a real MongoDB client at
// its Address, and alternates between Receive (assert the next request
// matches a Pattern) and Request.Reply (dictate the response) on the
// test goroutine, while Autoresponds handles repetitive traffic
// (handshakes, monitoring) automatically.
//
// A minimal round trip:
//
//	server := mockupdb.NewServer()
//	addr, err := server.Run()
//	defer server.Stop()
//	// ... point a client at addr ...
//	req, err := server.Receive(mockupdb.WithPattern(mockupdb.CommandName("find")))
//	err = req.Reply(bson.D{{"cursor", bson.D{{"id", int64(0)}, {"firstBatch", bson.A{}}}}})
package mockupdb
