// Package client is the participant-side counterpart of the signal adapter:
// a websocket signaling client plus the session logic that drives the
// presence reconciler and the media channel from registry events.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 10 * time.Second

var (
	ErrClosed         = errors.New("signaling connection closed")
	ErrReplyTimeout   = errors.New("no reply within deadline")
	ErrPendingRequest = errors.New("request of this type already in flight")
)

// SignalClient manages the websocket connection to the signaling server.
// Incoming frames are dispatched on a single goroutine, so event handlers
// run strictly one after another.
type SignalClient struct {
	conn    *websocket.Conn
	onEvent func(msgType string, data []byte)

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan []byte
	closed  bool
	done    chan struct{}
}

// Dial connects to the server's signal endpoint (ws scheme URL).
func Dial(ctx context.Context, url string, onEvent func(msgType string, data []byte)) (*SignalClient, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c := &SignalClient{
		conn:    conn,
		onEvent: onEvent,
		pending: make(map[string]chan []byte),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *SignalClient) readLoop() {
	defer c.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Info().Err(err).Str("module", "client.signal").Msg("read loop closing")
			return
		}
		c.dispatch(data)
	}
}

func (c *SignalClient) dispatch(data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "client.signal").Msg("bad frame")
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[env.Type]
	if ok {
		delete(c.pending, env.Type)
	}
	c.mu.Unlock()

	if ok {
		ch <- data
		return
	}
	if c.onEvent != nil {
		c.onEvent(env.Type, data)
	}
}

// Send writes a fire-and-forget signal.
func (c *SignalClient) Send(v any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// Request sends v and waits for one reply of replyType. At most one request
// per reply type may be in flight; correlation is by type since the protocol
// has no message ids.
func (c *SignalClient) Request(ctx context.Context, v any, replyType string, timeout time.Duration) ([]byte, error) {
	ch := make(chan []byte, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := c.pending[replyType]; ok {
		c.mu.Unlock()
		return nil, ErrPendingRequest
	}
	c.pending[replyType] = ch
	c.mu.Unlock()

	cancelPending := func() {
		c.mu.Lock()
		delete(c.pending, replyType)
		c.mu.Unlock()
	}

	if err := c.Send(v); err != nil {
		cancelPending()
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data := <-ch:
		return data, nil
	case <-timer.C:
		cancelPending()
		return nil, ErrReplyTimeout
	case <-ctx.Done():
		cancelPending()
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

func (c *SignalClient) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
	_ = c.conn.Close()
}
