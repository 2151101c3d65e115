// Copyright 2025 The River Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package river

import (
	"context"
	"fmt"
	"sync"
)

// procType is one of the four procedure shapes (spec §2, GLOSSARY).
type procType int

const (
	procRPC procType = iota
	procStream
	procUpload
	procSubscription
)

// closesWithInit reports whether the shape never sends a client payload
// after its init envelope.
func (p procType) closesWithInit() bool {
	return p == procRPC || p == procSubscription
}

// StreamResult is returned by [Client.Stream]: a request Writable and a
// response Readable, both live for the lifetime of the stream.
type StreamResult struct {
	Req *Writable
	Res *Readable
}

// UploadResult is returned by [Client.Upload]: a request Writable and a
// Finalize function that awaits the single response.
type UploadResult struct {
	Req      *Writable
	Finalize func(ctx context.Context) (map[string]any, error)
}

// SubscriptionResult is returned by [Client.Subscribe]: a response
// Readable that yields every update.
type SubscriptionResult struct {
	Res *Readable
}

// Client multiplexes application-level procedure invocations (rpc, stream,
// upload, subscription) over a [Transport]'s sessions (spec §4.6).
type Client struct {
	transport       *Transport
	serverID        string
	connectOnInvoke bool
}

// NewClient returns a Client that invokes procedures against serverID over
// transport.
func NewClient(transport *Transport, serverID string, cfg Config) *Client {
	c := &Client{
		transport:       transport,
		serverID:        serverID,
		connectOnInvoke: cfg.ConnectOnInvoke,
	}
	if cfg.EagerlyConnect {
		transport.Connect(serverID)
	}
	return c
}

// Transport returns the client's underlying transport.
func (c *Client) Transport() *Transport { return c.transport }

// RPC invokes a single-in/single-out procedure and returns its one result.
// ctx governs both the wait for the response and, if cancelled before a
// response arrives, acts as the client abort signal (spec §4.6, §5).
func (c *Client) RPC(ctx context.Context, service, procedure string, init any) (map[string]any, error) {
	res, _ := c.handleProc(ctx, procRPC, service, procedure, init)
	// handleProc's abort watcher already observes ctx and, on cancellation,
	// pushes the CANCEL Result and closes res. Waiting on a bare
	// context.Background() here (instead of ctx again) means that watcher
	// is the single source of truth for how a cancelled RPC resolves,
	// rather than racing its own select against this one.
	return awaitSingleResult(context.Background(), res)
}

// Stream opens a many-in/many-out procedure.
func (c *Client) Stream(ctx context.Context, service, procedure string, init any) *StreamResult {
	res, req := c.handleProc(ctx, procStream, service, procedure, init)
	return &StreamResult{Req: req, Res: res}
}

// Upload opens a many-in/single-out procedure.
func (c *Client) Upload(ctx context.Context, service, procedure string, init any) *UploadResult {
	res, req := c.handleProc(ctx, procUpload, service, procedure, init)
	return &UploadResult{
		Req: req,
		Finalize: func(fctx context.Context) (map[string]any, error) {
			return awaitSingleResult(fctx, res)
		},
	}
}

// Subscribe opens a single-in/many-out procedure.
func (c *Client) Subscribe(ctx context.Context, service, procedure string, init any) *SubscriptionResult {
	res, _ := c.handleProc(ctx, procSubscription, service, procedure, init)
	return &SubscriptionResult{Res: res}
}

func awaitSingleResult(ctx context.Context, res *Readable) (map[string]any, error) {
	v, done, err := res.Next(ctx)
	if err != nil {
		return nil, err
	}
	if done {
		return errResult(CodeUnexpectedDisconnect, "No response received"), nil
	}
	m, _ := v.(map[string]any)
	return m, nil
}

// procState holds the small set of flags shared between a procedure's
// message/status listeners, its writable's callbacks, and its abort
// watcher; all are reachable from different goroutines (the transport's
// read loop, the caller, the abort watcher), hence the mutex.
type procState struct {
	mu         sync.Mutex
	cleanClose bool
	cleanedUp  bool
	done       chan struct{}
}

func newProcState() *procState {
	return &procState{cleanClose: true, done: make(chan struct{})}
}

func (s *procState) setCleanClose(v bool) {
	s.mu.Lock()
	s.cleanClose = v
	s.mu.Unlock()
}

func (s *procState) isCleanClose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanClose
}

// markCleanedUp returns true the first time it is called, and false on
// every subsequent call, so the caller can run teardown exactly once.
func (s *procState) markCleanedUp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleanedUp {
		return false
	}
	s.cleanedUp = true
	close(s.done)
	return true
}

// handleProc is the shared dispatch core behind all four public methods,
// implementing the ten-step algorithm of spec §4.6.
func (c *Client) handleProc(ctx context.Context, pt procType, service, procedure string, init any) (res *Readable, req *Writable) {
	to := c.serverID
	transport := c.transport

	// Step 1: closed-transport short-circuit.
	if transport.Status() != "open" {
		return disconnectedResult(to, "transport is closed")
	}

	// Step 2: connect on invoke.
	if c.connectOnInvoke {
		transport.Connect(to)
	}

	// Step 3: session-bound send function.
	session := transport.GetOrCreateSession(to)
	sessionID := session.ID
	sendFn, err := transport.GetSessionBoundSendFn(to, sessionID)
	if err != nil {
		return disconnectedResult(to, fmt.Sprintf("%s unexpectedly disconnected", to))
	}

	// Step 4: allocate the stream and its readable/writable pair.
	streamID := generateID()
	res = NewReadable()
	state := newProcState()

	var msgHandle, statusHandle *listenerHandle
	cleanup := func() {
		if !state.markCleanedUp() {
			return
		}
		transport.Events().Off(EventMessage, msgHandle)
		transport.Events().Off(EventSessionStatus, statusHandle)
	}

	closeReadable := func() {
		if !res.IsClosed() {
			res.Close()
		}
		if req.IsClosed() {
			cleanup()
		}
	}

	// Step 7: writable write/close callbacks.
	writeCb := func(v any) {
		sendFn(PartialTransportMessage{Payload: v, StreamID: streamID, ControlFlags: 0})
	}
	closeCb := func() {
		if !pt.closesWithInit() && state.isCleanClose() {
			sendFn(closeStreamMessage(streamID))
		}
		if res.IsClosed() {
			cleanup()
		}
	}
	req = NewWritable(writeCb, closeCb)

	onClientCancel := func() {
		state.setCleanClose(false)
		res.Push(errResult(CodeCancel, "cancelled by client"))
		closeReadable()
		if req.IsWritable() {
			req.markClosed()
		}
		sendFn(cancelMessage(streamID, errResult(CodeCancel, "cancelled by client")))
	}

	// Step 5: message listener.
	onMessage := func(payload any) {
		msg, ok := payload.(*TransportMessage)
		if !ok || msg.StreamID != streamID || msg.To != transport.ClientID() {
			return
		}

		if isStreamCancel(msg.ControlFlags) {
			state.setCleanClose(false)
			if m, ok := msg.Payload.(map[string]any); ok {
				if _, hasOK := m["ok"]; hasOK {
					res.Push(m)
				} else {
					res.Push(errResult(fmt.Sprint(m["code"]), fmt.Sprint(msg.Payload)))
				}
			} else {
				res.Push(errResult("UNKNOWN", fmt.Sprint(msg.Payload)))
			}
			closeReadable()
			if req.IsWritable() {
				req.markClosed()
			}
			return
		}

		if res.IsClosed() {
			return
		}

		if m, ok := msg.Payload.(map[string]any); ok {
			if t, _ := m["type"].(string); t != "CLOSE" {
				if _, hasOK := m["ok"]; hasOK {
					res.Push(m)
				}
			}
		}

		if isStreamClosed(msg.ControlFlags) {
			closeReadable()
		}
	}

	// Step 6: session status listener.
	onSessionStatus := func(payload any) {
		evt, ok := payload.(*SessionStatusEvent)
		if !ok || evt.Status != "closing" || evt.Session == nil {
			return
		}
		if evt.Session.ToID != to || evt.Session.ID != sessionID {
			return
		}
		state.setCleanClose(false)
		res.Push(errResult(CodeUnexpectedDisconnect, fmt.Sprintf("%s unexpectedly disconnected", to)))
		closeReadable()
		if req.IsWritable() {
			req.markClosed()
		}
	}

	msgHandle = transport.Events().On(EventMessage, onMessage)
	statusHandle = transport.Events().On(EventSessionStatus, onSessionStatus)

	// Step 8: abort watcher.
	go func() {
		select {
		case <-ctx.Done():
			if ctx.Err() != nil {
				onClientCancel()
			}
		case <-state.done:
		}
	}()

	// Step 9: init envelope.
	initFlags := FlagStreamOpen
	if pt.closesWithInit() {
		initFlags |= FlagStreamClosed
	}
	if _, err := sendFn(PartialTransportMessage{
		Payload:       init,
		StreamID:      streamID,
		ControlFlags:  initFlags,
		ServiceName:   service,
		ProcedureName: procedure,
	}); err != nil {
		res.Push(errResult(CodeUnexpectedDisconnect, fmt.Sprintf("%s unexpectedly disconnected", to)))
		res.Close()
		req.markClosed()
		cleanup()
		return res, req
	}

	// Step 10: rpc/subscription never send further client payloads.
	if pt.closesWithInit() {
		req.markClosed()
	}

	return res, req
}

// disconnectedResult synthesizes the pre-closed readable/writable pair
// returned whenever a procedure cannot be dispatched at all.
func disconnectedResult(to, message string) (*Readable, *Writable) {
	res := NewReadable()
	res.Push(errResult(CodeUnexpectedDisconnect, message))
	res.Close()
	req := NewWritable(func(any) {}, nil)
	req.markClosed()
	return res, req
}
