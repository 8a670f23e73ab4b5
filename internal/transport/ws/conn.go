// Package ws adapts gorilla/websocket connections to the context-aware message
// interface used by the ingestion service.
package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by operations on a connection after Close.
var ErrClosed = errors.New("ws: connection closed")

// Conn wraps a websocket connection. A dedicated read pump owns the underlying
// reader, so a ReadMessage abandoned on context expiry leaves the connection usable.
// Writes are serialised; Close may be called from any goroutine, any number of times.
type Conn struct {
	ws *websocket.Conn

	incoming chan []byte
	readDone chan struct{}
	readErr  error

	writeMu      sync.Mutex
	writeTimeout time.Duration
	pongWait     time.Duration

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Options tune a wrapped connection.
type Options struct {
	ReadLimit    int64
	WriteTimeout time.Duration
	// PingInterval enables keepalive pings; a peer that misses two intervals is dropped.
	PingInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	return o
}

// Wrap takes ownership of ws and starts its read pump.
func Wrap(ws *websocket.Conn, opts Options) *Conn {
	opts = opts.withDefaults()
	c := &Conn{
		ws:           ws,
		incoming:     make(chan []byte, 1),
		readDone:     make(chan struct{}),
		writeTimeout: opts.WriteTimeout,
		done:         make(chan struct{}),
	}
	ws.SetReadLimit(opts.ReadLimit)

	if opts.PingInterval > 0 {
		pongWait := 2 * opts.PingInterval
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		c.pongWait = pongWait
		go c.pingLoop(opts.PingInterval)
	} else {
		// Drop any deadline inherited from the http.Server read timeout.
		_ = ws.SetReadDeadline(time.Time{})
	}

	go c.readPump()
	return c
}

func (c *Conn) readPump() {
	defer close(c.readDone)
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			c.readErr = err
			return
		}
		if c.pongWait > 0 {
			// any inbound frame proves liveness, not just pongs
			_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		select {
		case c.incoming <- data:
		case <-c.done:
			c.readErr = ErrClosed
			return
		}
	}
}

func (c *Conn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-c.readDone:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

// ReadMessage returns the next text or binary message.
func (c *Conn) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-c.incoming:
		return msg, nil
	case <-c.readDone:
		select {
		case msg := <-c.incoming:
			return msg, nil
		default:
		}
		return nil, c.readErr
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WriteMessage sends payload as a text message. The write deadline comes from ctx,
// or the configured write timeout when ctx has none.
func (c *Conn) WriteMessage(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.writeTimeout)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Close sends a close frame and releases the connection.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
