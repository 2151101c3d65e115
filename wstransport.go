// Copyright 2025 The River Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package river

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connection is the byte-stream capability set a [Transport] requires of
// its underlying collaborator (spec §6): async send of arbitrary byte
// buffers, async receive of framed byte buffers, and graceful close with
// EOF/error propagation to the caller's read loop. River implements its
// own heartbeat over the wire envelope, so no ping/pong framing is
// required of the transport.
type Connection interface {
	// Read blocks until a full frame is available, ctx is done, or the
	// connection is closed/errored (returned as an error, io.EOF on a
	// graceful remote close).
	Read(ctx context.Context) ([]byte, error)
	// Write sends one frame.
	Write(ctx context.Context, data []byte) error
	// Close closes the connection. It is safe to call more than once.
	Close() error
}

// Dialer opens a new [Connection]. Implementations must honor ctx's
// deadline/cancellation.
type Dialer interface {
	Dial(ctx context.Context) (Connection, error)
}

// WebSocketDialer dials a River peer over a WebSocket, the reference
// byte-stream transport named in spec §1.
type WebSocketDialer struct {
	// URL is the WebSocket server URL (e.g. "ws://localhost:8080/river").
	URL string
	// Dialer is the WebSocket dialer to use. If nil, websocket.DefaultDialer
	// is used.
	Dialer *websocket.Dialer
	// Header carries additional HTTP headers sent during the handshake.
	Header http.Header
}

// Dial implements [Dialer].
func (d *WebSocketDialer) Dial(ctx context.Context) (Connection, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("river: websocket dial failed: %w (status: %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("river: websocket dial failed: %w", err)
	}
	return &wsConnection{conn: conn}, nil
}

// wsConnection implements [Connection] over a *websocket.Conn.
type wsConnection struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *wsConnection) Read(ctx context.Context) ([]byte, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.conn.Close()
		case <-done:
		}
	}()

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("river: websocket read error: %w", err)
	}
	return data, nil
}

func (c *wsConnection) Write(ctx context.Context, data []byte) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}

	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("river: websocket write error: %w", err)
	}
	return nil
}

func (c *wsConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}
