// Copyright 2025 The River Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package river

import (
	"context"
	"sync"
	"time"
)

// Transport owns the peer-id -> [Session] map, the event bus, and the
// connect/reconnect/read-loop machinery described in spec §4.5.
type Transport struct {
	clientID       string
	dialer         Dialer
	codec          *Adapter
	sessionOptions SessionOptions
	retryBudget    *RetryBudget
	bus            *EventBus

	mu              sync.Mutex
	sessions        map[string]*Session
	closed          bool
	reconnectOnDrop bool
}

// NewTransport constructs a Transport identifying itself as clientID,
// dialing peers via dialer, and serializing envelopes with codec.
func NewTransport(clientID string, dialer Dialer, codec *Adapter, opts SessionOptions) *Transport {
	return &Transport{
		clientID:        clientID,
		dialer:          dialer,
		codec:           codec,
		sessionOptions:  opts,
		retryBudget:     NewRetryBudget(),
		bus:             NewEventBus(),
		sessions:        make(map[string]*Session),
		reconnectOnDrop: true,
	}
}

// ClientID returns this transport's own endpoint id.
func (t *Transport) ClientID() string { return t.clientID }

// Events returns the transport's event bus, emitting EventMessage,
// EventSessionStatus, EventSessionTransition, EventProtocolError and
// EventTransportStatus (spec §4.5).
func (t *Transport) Events() *EventBus { return t.bus }

// SetReconnectOnDrop toggles whether a dropped connection is automatically
// retried. Restored from the reference implementation's
// reconnect_on_connection_drop (see SPEC_FULL.md supplemented features).
func (t *Transport) SetReconnectOnDrop(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reconnectOnDrop = v
}

// Status reports "open" or "closed".
func (t *Transport) Status() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return "closed"
	}
	return "open"
}

// GetOrCreateSession returns the session for peer to, creating (and
// emitting a "created" sessionStatus event for) one if none exists.
func (t *Transport) GetOrCreateSession(to string) *Session {
	t.mu.Lock()
	if sess, ok := t.sessions[to]; ok {
		t.mu.Unlock()
		return sess
	}
	sess := NewSession(
		generateID(), t.clientID, to, t.codec, t.sessionOptions,
		func() { t.onHeartbeatMissed(to) },
		func() { t.onGraceElapsed(to) },
	)
	t.sessions[to] = sess
	t.mu.Unlock()

	t.bus.Dispatch(EventSessionStatus, &SessionStatusEvent{Status: "created", Session: sess})
	return sess
}

func (t *Transport) sessionFor(to string) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[to]
}

// GetSessionBoundSendFn returns a closure that, on every call, re-resolves
// the current session for to and sends through it, failing with
// [ErrSessionScopeEnded] if the session is absent, has been replaced, or
// is destroyed (spec §4.5). It also fails immediately if that is already
// true at acquisition time.
func (t *Transport) GetSessionBoundSendFn(to, sessionID string) (func(PartialTransportMessage) (string, error), error) {
	resolve := func() (*Session, error) {
		sess := t.sessionFor(to)
		if sess == nil || sess.ID != sessionID || sess.IsDestroyed() {
			return nil, ErrSessionScopeEnded
		}
		return sess, nil
	}
	if _, err := resolve(); err != nil {
		return nil, err
	}
	return func(partial PartialTransportMessage) (string, error) {
		sess, err := resolve()
		if err != nil {
			return "", err
		}
		return sess.Send(partial)
	}, nil
}

// Connect opens (or resumes opening) a connection to peer to. It is a
// no-op if the transport is closed or the session is not currently in
// NoConnection (spec §4.5).
func (t *Transport) Connect(to string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	sess := t.GetOrCreateSession(to)
	if sess.State() != StateNoConnection {
		return
	}

	if !t.retryBudget.HasBudget() {
		t.bus.Dispatch(EventProtocolError, &ProtocolError{Type: ProtoErrConnRetryExceeded, Message: "retry budget exhausted"})
		return
	}

	backoffMS := t.retryBudget.GetBackoffMS()
	t.retryBudget.Consume()
	sess.SetState(StateBackingOff)
	go t.runConnectAttempt(to, sess, backoffMS)
}

func (t *Transport) runConnectAttempt(to string, sess *Session, backoffMS int) {
	if backoffMS > 0 {
		time.Sleep(time.Duration(backoffMS) * time.Millisecond)
	}
	t.retryBudget.WaitReconnectSlot()

	if sess.IsDestroyed() {
		return
	}
	sess.SetState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(context.Background(), time.Duration(t.sessionOptions.ConnectionTimeoutMS)*time.Millisecond)
	conn, err := t.dialer.Dial(dialCtx)
	cancel()
	if err != nil {
		t.onConnectionFailed(to, sess)
		return
	}

	sess.SetState(StateHandshaking)
	hctx, hcancel := context.WithTimeout(context.Background(), time.Duration(t.sessionOptions.HandshakeTimeoutMS)*time.Millisecond)
	outcome, err := t.doHandshake(hctx, sess, conn)
	hcancel()
	if err != nil {
		conn.Close()
		t.onConnectionFailed(to, sess)
		return
	}

	if !outcome.ok {
		conn.Close()
		if outcome.retriable {
			t.deleteSession(to, sess)
			t.maybeReconnect(to)
			return
		}
		t.bus.Dispatch(EventProtocolError, &ProtocolError{Type: ProtoErrHandshakeFailed, Code: outcome.code, Message: "handshake rejected"})
		sess.SetState(StateNoConnection)
		return
	}

	sess.SetConnected(conn)
	if err := sess.SendBufferedMessages(); err != nil {
		t.bus.Dispatch(EventProtocolError, &ProtocolError{Type: ProtoErrMessageSendFailed, Message: err.Error()})
	}
	t.retryBudget.StartRestoring()
	t.bus.Dispatch(EventSessionTransition, &SessionTransitionEvent{State: StateConnected, ID: sess.ID})

	go t.readLoop(to, sess, conn)
}

type handshakeOutcome struct {
	ok        bool
	retriable bool
	code      string
}

func (t *Transport) doHandshake(ctx context.Context, sess *Session, conn Connection) (*handshakeOutcome, error) {
	req := sess.CreateHandshakeRequest(nil)
	buf, err := t.codec.ToBytes(req)
	if err != nil {
		return nil, err
	}
	if err := conn.Write(ctx, buf); err != nil {
		return nil, err
	}

	respBuf, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	respMsg, err := t.codec.FromBytes(respBuf)
	if err != nil {
		return nil, err
	}

	ok, sessionID, code := parseHandshakeResponse(respMsg.Payload)
	if ok && sessionID != sess.ID {
		return &handshakeOutcome{ok: false, retriable: true, code: "SESSION_STATE_MISMATCH"}, nil
	}
	if ok {
		return &handshakeOutcome{ok: true}, nil
	}
	return &handshakeOutcome{ok: false, retriable: retriableHandshakeCodes[code], code: code}, nil
}

func parseHandshakeResponse(payload any) (ok bool, sessionID, code string) {
	m, isMap := payload.(map[string]any)
	if !isMap {
		return false, "", "MALFORMED_HANDSHAKE"
	}
	status, isMap := m["status"].(map[string]any)
	if !isMap {
		return false, "", "MALFORMED_HANDSHAKE"
	}
	if okFlag, _ := status["ok"].(bool); okFlag {
		sid, _ := status["sessionId"].(string)
		return true, sid, ""
	}
	c, _ := status["code"].(string)
	return false, "", c
}

func (t *Transport) onConnectionFailed(to string, sess *Session) {
	sess.SetState(StateNoConnection)
	t.maybeReconnect(to)
}

func (t *Transport) onConnectionDropped(to string, sess *Session) {
	sess.SetDisconnected()
	t.bus.Dispatch(EventSessionTransition, &SessionTransitionEvent{State: StateNoConnection, ID: sess.ID})
	t.maybeReconnect(to)
}

func (t *Transport) maybeReconnect(to string) {
	t.mu.Lock()
	shouldReconnect := t.reconnectOnDrop && !t.closed && t.sessionOptions.EnableTransparentReconnects
	t.mu.Unlock()
	if shouldReconnect {
		go t.Connect(to)
	}
}

func (t *Transport) onHeartbeatMissed(to string) {
	if sess := t.sessionFor(to); sess != nil {
		sess.CloseConnection()
	}
}

func (t *Transport) onGraceElapsed(to string) {
	sess := t.sessionFor(to)
	if sess != nil && sess.State() == StateNoConnection {
		t.deleteSession(to, sess)
	}
}

// deleteSession emits the closing/closed sessionStatus pair, destroys
// sess, and removes it from the peer map if it hasn't already been
// replaced by a newer session.
func (t *Transport) deleteSession(to string, sess *Session) {
	t.bus.Dispatch(EventSessionStatus, &SessionStatusEvent{Status: "closing", Session: sess})
	sess.Destroy()

	t.mu.Lock()
	if t.sessions[to] == sess {
		delete(t.sessions, to)
	}
	t.mu.Unlock()

	t.bus.Dispatch(EventSessionStatus, &SessionStatusEvent{Status: "closed", Session: sess})
}

func (t *Transport) readLoop(to string, sess *Session, conn Connection) {
	for {
		buf, err := conn.Read(context.Background())
		if err != nil {
			t.onConnectionDropped(to, sess)
			return
		}
		msg, err := t.codec.FromBytes(buf)
		if err != nil {
			t.bus.Dispatch(EventProtocolError, &ProtocolError{Type: ProtoErrInvalidMessage, Message: err.Error()})
			continue
		}
		t.handleWireMessage(sess, msg)
	}
}

// handleWireMessage applies the seq/ack discipline of spec §4.3 before
// surfacing an accepted message on the event bus.
func (t *Transport) handleWireMessage(sess *Session, msg *TransportMessage) {
	currentAck := sess.Ack()
	switch {
	case msg.Seq < currentAck:
		return // duplicate: drop silently
	case msg.Seq > currentAck:
		// Future seq: close the connection to force a re-handshake. Do not
		// advance ack; buffered outgoing messages survive.
		sess.CloseConnection()
		return
	}

	sess.UpdateBookkeeping(msg.Ack, msg.Seq)
	if isAck(msg.ControlFlags) {
		sess.Send(heartbeatMessage())
		return
	}
	t.bus.Dispatch(EventMessage, msg)
}

// Close shuts down the transport: every session is destroyed, the retry
// budget is reset, and a transportStatus closed event is emitted.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	sessions := make(map[string]*Session, len(t.sessions))
	for k, v := range t.sessions {
		sessions[k] = v
	}
	t.mu.Unlock()

	for to, sess := range sessions {
		t.deleteSession(to, sess)
	}
	t.retryBudget.Reset()
	t.bus.Dispatch(EventTransportStatus, &TransportStatusEvent{Status: "closed"})
	return nil
}
