// Copyright 2025 The River Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package river

import (
	"context"
	"sync"
	"testing"

	riverjson "github.com/replit/river/codec/json"
)

// recordingConn is a minimal in-memory Connection that records every
// frame written to it and never produces read data on its own.
type recordingConn struct {
	mu      sync.Mutex
	written [][]byte
	closed  bool
}

func (c *recordingConn) Read(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *recordingConn) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *recordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordingConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.written)
}

func newTestSession() *Session {
	adapter := NewAdapter(riverjson.New())
	return NewSession("sess1", "client", "server", adapter, DefaultSessionOptions(), nil, nil)
}

func TestSessionConstructMessageIncrementsSeq(t *testing.T) {
	s := newTestSession()
	m1 := s.ConstructMessage(PartialTransportMessage{Payload: "a"})
	m2 := s.ConstructMessage(PartialTransportMessage{Payload: "b"})
	if m1.Seq != 0 || m2.Seq != 1 {
		t.Fatalf("got seqs %d, %d, want 0, 1", m1.Seq, m2.Seq)
	}
	if m1.From != "client" || m1.To != "server" {
		t.Fatalf("got From=%q To=%q", m1.From, m1.To)
	}
}

func TestSessionSendBuffersRegardlessOfConnection(t *testing.T) {
	s := newTestSession()
	if _, err := s.Send(PartialTransportMessage{Payload: "a"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := s.NextSeq(); got != 0 {
		t.Fatalf("got NextSeq %d, want 0 (unacked message at head of buffer)", got)
	}
}

func TestSessionSendWritesOverWireWhenConnected(t *testing.T) {
	s := newTestSession()
	conn := &recordingConn{}
	s.SetConnected(conn)

	if _, err := s.Send(PartialTransportMessage{Payload: "a"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := conn.frameCount(); got != 1 {
		t.Fatalf("got %d frames written, want 1", got)
	}
}

func TestSessionUpdateBookkeepingAdvancesAckAndTrimsBuffer(t *testing.T) {
	s := newTestSession()
	s.Send(PartialTransportMessage{Payload: "a"}) // seq 0
	s.Send(PartialTransportMessage{Payload: "b"}) // seq 1

	s.UpdateBookkeeping(1, 4) // peer acked our seq 0, their seq was 4

	if got := s.Ack(); got != 5 {
		t.Fatalf("got ack %d, want 5 (theirSeq+1)", got)
	}
	if got := s.NextSeq(); got != 1 {
		t.Fatalf("got NextSeq %d, want 1 (seq 0 acked and trimmed)", got)
	}
}

func TestSessionSendBufferedMessagesReplaysInOrder(t *testing.T) {
	s := newTestSession()
	s.Send(PartialTransportMessage{Payload: "a"})
	s.Send(PartialTransportMessage{Payload: "b"})

	conn := &recordingConn{}
	s.SetConnected(conn)
	if err := s.SendBufferedMessages(); err != nil {
		t.Fatalf("SendBufferedMessages: %v", err)
	}
	if got := conn.frameCount(); got != 2 {
		t.Fatalf("got %d frames, want 2", got)
	}

	adapter := NewAdapter(riverjson.New())
	conn.mu.Lock()
	frames := conn.written
	conn.mu.Unlock()
	for i, buf := range frames {
		msg, err := adapter.FromBytes(buf)
		if err != nil {
			t.Fatalf("frame %d: FromBytes: %v", i, err)
		}
		if msg.Seq != int64(i) {
			t.Fatalf("frame %d has seq %d, want %d", i, msg.Seq, i)
		}
	}
}

func TestSessionCreateHandshakeRequestShape(t *testing.T) {
	s := newTestSession()
	req := s.CreateHandshakeRequest(nil)

	if req.Seq != 0 || req.Ack != 0 || req.ControlFlags != 0 {
		t.Fatalf("got seq=%d ack=%d flags=%d, want 0,0,0", req.Seq, req.Ack, req.ControlFlags)
	}
	if req.StreamID != streamIDHandshake {
		t.Fatalf("got streamId %q, want %q", req.StreamID, streamIDHandshake)
	}
	payload, ok := req.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload is %T, want map[string]any", req.Payload)
	}
	if payload["type"] != "HANDSHAKE_REQ" {
		t.Fatalf("got type %v, want HANDSHAKE_REQ", payload["type"])
	}
	if payload["protocolVersion"] != ProtocolVersion {
		t.Fatalf("got protocolVersion %v, want %v", payload["protocolVersion"], ProtocolVersion)
	}
}

func TestSessionDestroyClearsStateAndClosesConnection(t *testing.T) {
	s := newTestSession()
	conn := &recordingConn{}
	s.SetConnected(conn)
	s.Send(PartialTransportMessage{Payload: "a"})

	s.Destroy()

	if !s.IsDestroyed() {
		t.Fatal("expected IsDestroyed true")
	}
	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Fatal("expected connection closed on Destroy")
	}
	if got := s.NextSeq(); got != 1 {
		t.Fatalf("got NextSeq %d after Destroy, want 1 (buffer cleared, seq untouched)", got)
	}
}

func TestSessionSetDisconnectedClosesConnAndStartsGrace(t *testing.T) {
	s := newTestSession()
	conn := &recordingConn{}
	s.SetConnected(conn)

	s.SetDisconnected()

	if s.State() != StateNoConnection {
		t.Fatalf("got state %v, want NoConnection", s.State())
	}
	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Fatal("expected old connection closed on disconnect")
	}
	s.mu.Lock()
	grace := s.grace
	s.mu.Unlock()
	if grace == nil {
		t.Fatal("expected grace-period timer started on disconnect")
	}
}
