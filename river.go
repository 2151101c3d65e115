// Copyright 2025 The River Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package river implements the core of the River v2.0 RPC protocol: a
// bidirectional, multiplexed, at-most-once-per-seq message protocol that
// runs over a reliable byte-stream transport such as a WebSocket.
//
// The package is organized around three cooperating layers: a [Session]
// that survives underlying connection drops and keeps seq/ack bookkeeping,
// a [Transport] that owns the connection lifecycle and a peer-keyed map of
// sessions, and a [Client] that multiplexes application-level procedure
// calls (rpc, stream, upload, subscription) over a session's streams.
package river

// ProtocolVersion is the River wire-protocol version this client speaks.
const ProtocolVersion = "v2.0"
