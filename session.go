// Copyright 2025 The River Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package river

import (
	"context"
	"sync"
	"time"
)

// SessionState is one of the five states in the session lifecycle
// (spec §4.3).
type SessionState int

const (
	StateNoConnection SessionState = iota
	StateBackingOff
	StateConnecting
	StateHandshaking
	StateConnected
)

func (s SessionState) String() string {
	switch s {
	case StateNoConnection:
		return "NoConnection"
	case StateBackingOff:
		return "BackingOff"
	case StateConnecting:
		return "Connecting"
	case StateHandshaking:
		return "Handshaking"
	case StateConnected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// SessionOptions configures the timers and behavior of a [Session]. The
// zero value is not usable directly; construct via [DefaultSessionOptions].
type SessionOptions struct {
	HeartbeatIntervalMS         int
	HeartbeatsUntilDead         int
	SessionDisconnectGraceMS    int
	ConnectionTimeoutMS         int
	HandshakeTimeoutMS          int
	EnableTransparentReconnects bool
}

// DefaultSessionOptions returns the default timings from spec §4.3.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		HeartbeatIntervalMS:         1000,
		HeartbeatsUntilDead:         2,
		SessionDisconnectGraceMS:    5000,
		ConnectionTimeoutMS:         2000,
		HandshakeTimeoutMS:          1000,
		EnableTransparentReconnects: true,
	}
}

// Session is a logical connection to a fixed peer that persists across
// zero or more underlying byte-stream connections, tracking seq/ack
// bookkeeping and a buffer of envelopes sent but not yet acknowledged
// (spec §3, §4.3).
type Session struct {
	ID     string
	FromID string
	ToID   string

	codec   *Adapter
	options SessionOptions

	mu         sync.Mutex
	seq        int64
	ack        int64
	sendBuffer []*TransportMessage
	state      SessionState
	conn       Connection
	destroyed  bool

	heartbeatMiss *time.Timer
	grace         *time.Timer

	// onConnectionClosed is invoked when the heartbeat-miss timer elapses;
	// the transport uses it to drive the Connected -> NoConnection
	// transition (spec §4.3's "Connected, heartbeat-miss -> NoConnection").
	onConnectionClosed func()
	// onSessionGraceElapsed is invoked when the grace-period timer
	// elapses; the transport uses it to destroy the session.
	onSessionGraceElapsed func()
}

// NewSession constructs a session in state NoConnection with seq and ack
// both at zero.
func NewSession(id, fromID, toID string, codec *Adapter, options SessionOptions, onConnectionClosed, onSessionGraceElapsed func()) *Session {
	return &Session{
		ID:                     id,
		FromID:                 fromID,
		ToID:                   toID,
		codec:                  codec,
		options:                options,
		state:                  StateNoConnection,
		onConnectionClosed:     onConnectionClosed,
		onSessionGraceElapsed:  onSessionGraceElapsed,
	}
}

// State returns the session's current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState transitions the session to st without touching any other
// bookkeeping. The transport uses this for the purely administrative
// transitions (NoConnection -> BackingOff -> Connecting -> Handshaking);
// the transitions into/out of Connected go through SetConnected/
// SetDisconnected, which carry additional side effects.
func (s *Session) SetState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// NextSeq is the seq the peer should next expect from us: the seq of the
// oldest unacknowledged buffered envelope, or our current seq if nothing
// is outstanding.
func (s *Session) NextSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSeqLocked()
}

func (s *Session) nextSeqLocked() int64 {
	if len(s.sendBuffer) > 0 {
		return s.sendBuffer[0].Seq
	}
	return s.seq
}

// Ack returns the seq we next expect from the peer.
func (s *Session) Ack() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ack
}

// ConstructMessage fills in id, from, to, seq and ack from the session's
// bookkeeping and increments seq.
func (s *Session) ConstructMessage(partial PartialTransportMessage) *TransportMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := &TransportMessage{
		ID:            generateID(),
		From:          s.FromID,
		To:            s.ToID,
		Seq:           s.seq,
		Ack:           s.ack,
		Payload:       partial.Payload,
		StreamID:      partial.StreamID,
		ControlFlags:  partial.ControlFlags,
		ServiceName:   partial.ServiceName,
		ProcedureName: partial.ProcedureName,
		Tracing:       partial.Tracing,
	}
	s.seq++
	return msg
}

// Send constructs a message from partial, appends it to the send buffer,
// and if currently Connected writes it to the wire immediately. When not
// Connected the message is only buffered; reconnection will replay it in
// order. A serialization or write failure is reported but does not remove
// the envelope from the buffer (spec §4.3).
func (s *Session) Send(partial PartialTransportMessage) (string, error) {
	msg := s.ConstructMessage(partial)

	s.mu.Lock()
	s.sendBuffer = append(s.sendBuffer, msg)
	connected := s.state == StateConnected
	conn := s.conn
	s.mu.Unlock()

	if connected && conn != nil {
		if err := s.sendOverWire(conn, msg); err != nil {
			return msg.ID, err
		}
	}
	return msg.ID, nil
}

func (s *Session) sendOverWire(conn Connection, msg *TransportMessage) error {
	buf, err := s.codec.ToBytes(msg)
	if err != nil {
		return err
	}
	return conn.Write(context.Background(), buf)
}

// SendBufferedMessages retransmits every buffered envelope over the
// current connection, in order. Called after a successful reconnection
// handshake.
func (s *Session) SendBufferedMessages() error {
	s.mu.Lock()
	conn := s.conn
	buffer := append([]*TransportMessage(nil), s.sendBuffer...)
	s.mu.Unlock()

	for _, msg := range buffer {
		if err := s.sendOverWire(conn, msg); err != nil {
			return err
		}
	}
	return nil
}

// UpdateBookkeeping removes every buffered envelope acknowledged by
// theirAck, advances our ack to theirSeq+1, and resets the heartbeat-miss
// timer (spec §4.3).
func (s *Session) UpdateBookkeeping(theirAck, theirSeq int64) {
	s.mu.Lock()
	kept := s.sendBuffer[:0:0]
	for _, m := range s.sendBuffer {
		if m.Seq >= theirAck {
			kept = append(kept, m)
		}
	}
	s.sendBuffer = kept
	s.ack = theirSeq + 1
	s.mu.Unlock()

	s.resetHeartbeatMissTimeout()
}

func (s *Session) resetHeartbeatMissTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heartbeatMiss != nil {
		s.heartbeatMiss.Stop()
	}
	dur := time.Duration(s.options.HeartbeatsUntilDead*s.options.HeartbeatIntervalMS) * time.Millisecond
	s.heartbeatMiss = time.AfterFunc(dur, s.fireHeartbeatMiss)
}

func (s *Session) fireHeartbeatMiss() {
	s.mu.Lock()
	destroyed := s.destroyed
	cb := s.onConnectionClosed
	s.mu.Unlock()
	if !destroyed && cb != nil {
		cb()
	}
}

func (s *Session) cancelHeartbeats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heartbeatMiss != nil {
		s.heartbeatMiss.Stop()
		s.heartbeatMiss = nil
	}
}

func (s *Session) startGracePeriod() {
	s.mu.Lock()
	defer s.mu.Unlock()
	graceMS := s.options.SessionDisconnectGraceMS
	if s.grace != nil {
		s.grace.Stop()
	}
	s.grace = time.AfterFunc(time.Duration(graceMS)*time.Millisecond, s.fireGraceElapsed)
}

func (s *Session) fireGraceElapsed() {
	s.mu.Lock()
	destroyed := s.destroyed
	cb := s.onSessionGraceElapsed
	s.mu.Unlock()
	if !destroyed && cb != nil {
		cb()
	}
}

func (s *Session) cancelGracePeriod() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}
}

// SetConnected transitions the session to Connected over conn, cancelling
// any grace period and arming the heartbeat-miss timer.
func (s *Session) SetConnected(conn Connection) {
	s.mu.Lock()
	s.state = StateConnected
	s.conn = conn
	s.mu.Unlock()

	s.cancelGracePeriod()
	s.resetHeartbeatMissTimeout()
}

// SetDisconnected transitions the session to NoConnection, cancelling
// heartbeat timers, closing the old connection, and starting the grace
// period.
func (s *Session) SetDisconnected() {
	s.mu.Lock()
	s.state = StateNoConnection
	oldConn := s.conn
	s.conn = nil
	s.mu.Unlock()

	s.cancelHeartbeats()
	if oldConn != nil {
		oldConn.Close()
	}
	s.startGracePeriod()
}

// Destroy terminates the session: it is no longer usable, all timers are
// cancelled, the connection (if any) is closed, and the send buffer is
// cleared.
func (s *Session) Destroy() {
	s.mu.Lock()
	s.destroyed = true
	conn := s.conn
	s.conn = nil
	s.sendBuffer = nil
	s.mu.Unlock()

	s.cancelHeartbeats()
	s.cancelGracePeriod()
	if conn != nil {
		conn.Close()
	}
}

// CloseConnection closes the session's current underlying connection, if
// any, without otherwise altering session state. The read loop observing
// the resulting error drives the NoConnection transition (spec §4.3:
// future-seq and heartbeat-miss both force a connection close).
func (s *Session) CloseConnection() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// IsDestroyed reports whether Destroy has run.
func (s *Session) IsDestroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// CreateHandshakeRequest builds the HANDSHAKE_REQ envelope for this
// session: seq=0, ack=0, controlFlags=0, streamId="handshake" (spec §4.3,
// §6).
func (s *Session) CreateHandshakeRequest(metadata any) *TransportMessage {
	s.mu.Lock()
	nextSent := s.nextSeqLocked()
	ack := s.ack
	s.mu.Unlock()

	payload := handshakeRequestPayload(s.ID, ack, nextSent, metadata)
	return &TransportMessage{
		ID:           generateID(),
		From:         s.FromID,
		To:           s.ToID,
		Seq:          0,
		Ack:          0,
		Payload:      payload,
		StreamID:     streamIDHandshake,
		ControlFlags: 0,
	}
}
