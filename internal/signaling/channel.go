// Package signaling implements the client side of the call coordination
// protocol: caller-initiated requests awaiting a single response,
// server-initiated requests the client must answer, and fire-and-forget
// server notifications, all multiplexed over one websocket.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

var ErrChannelClosed = errors.New("signaling channel closed")

// Callbacks wires channel events into the session client. OnRequest and
// OnNotification run on a single dispatch goroutine fed by the read loop, so
// they observe messages strictly in arrival order while the read loop stays
// free to resolve responses. A callback may therefore call Request on the
// same channel.
type Callbacks struct {
	// OnRequest answers a server-initiated request. A nil return accepts it;
	// a *ResponseError rejects it with that code and reason, any other error
	// rejects with code 500.
	OnRequest func(method string, data json.RawMessage) error
	// OnNotification receives each decoded push message.
	OnNotification func(n Notification)
	// OnDisconnected fires once when the connection dies without a local
	// Close. err is the read error that terminated the loop.
	OnDisconnected func(err error)
}

type pendingResult struct {
	data json.RawMessage
	err  error
}

// Channel is one live signaling connection. Safe for concurrent Request
// calls; owned exclusively by a single session client.
type Channel struct {
	conn *websocket.Conn
	cb   Callbacks

	send chan []byte
	done chan struct{}

	nextID atomic.Uint32

	pendingMu sync.Mutex
	pending   map[uint32]chan pendingResult

	dispatchMu   sync.Mutex
	dispatchQ    []message
	dispatchWake chan struct{}

	mu     sync.Mutex
	closed bool
}

// Dial connects to the coordination server and starts the read/write pumps.
func Dial(ctx context.Context, rawURL string, cb Callbacks) (*Channel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}

	c := &Channel{
		conn:         conn,
		cb:           cb,
		send:         make(chan []byte, 32),
		done:         make(chan struct{}),
		pending:      make(map[uint32]chan pendingResult),
		dispatchWake: make(chan struct{}, 1),
	}

	go c.writePump()
	go c.readPump()
	go c.dispatchPump()

	log.Info().Str("module", "signaling").Str("url", rawURL).Msg("channel open")
	return c, nil
}

// Request sends a caller-initiated request and waits for its single response.
// No deadline is imposed beyond ctx; a hung server leaves the caller pending.
func (c *Channel) Request(ctx context.Context, method string, data any) (json.RawMessage, error) {
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}

	id := c.nextID.Add(1)
	ch := make(chan pendingResult, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.enqueue(ctx, newRequest(id, method, raw)); err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		return res.data, res.err
	case <-c.done:
		return nil, ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close tears the connection down. Idempotent; pending requests fail with
// ErrChannelClosed and OnDisconnected does not fire.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	_ = c.conn.Close()
	c.failPending(ErrChannelClosed)
	log.Info().Str("module", "signaling").Msg("channel closed")
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) enqueue(ctx context.Context, m message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reply is used from the read loop for server-request answers; it must not
// block the loop, so a full send queue drops with a log instead.
func (c *Channel) reply(m message) {
	b, err := json.Marshal(m)
	if err != nil {
		log.Error().Err(err).Str("module", "signaling").Msg("reply marshal")
		return
	}
	select {
	case c.send <- b:
	case <-c.done:
	default:
		log.Warn().Str("module", "signaling").Msg("reply dropped: backpressure")
	}
}

func (c *Channel) writePump() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signaling").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signaling").Msg("writePump write error")
				return
			}
		}
	}
}

func (c *Channel) readPump() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				log.Error().Err(err).Str("module", "signaling").Msg("readPump read error")
				c.failPending(err)
				if c.cb.OnDisconnected != nil {
					c.cb.OnDisconnected(err)
				}
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *Channel) handleMessage(data []byte) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		log.Error().Err(err).Str("module", "signaling").Msg("bad json")
		return
	}

	switch {
	case m.Response:
		c.resolve(m)
	case m.Request, m.Notification:
		c.enqueueDispatch(m)
	default:
		log.Warn().Str("module", "signaling").Msg("message is neither request, response nor notification")
	}
}

// enqueueDispatch hands a server request or notification to the dispatch
// goroutine. The queue is unbounded so the read loop never blocks behind a
// callback that is itself waiting on a response.
func (c *Channel) enqueueDispatch(m message) {
	c.dispatchMu.Lock()
	c.dispatchQ = append(c.dispatchQ, m)
	c.dispatchMu.Unlock()
	select {
	case c.dispatchWake <- struct{}{}:
	default:
	}
}

func (c *Channel) dispatchPump() {
	for {
		c.dispatchMu.Lock()
		queue := c.dispatchQ
		c.dispatchQ = nil
		c.dispatchMu.Unlock()

		for _, m := range queue {
			select {
			case <-c.done:
				return
			default:
			}
			if m.Request {
				c.handleServerRequest(m)
			} else {
				c.handleNotification(m)
			}
		}

		select {
		case <-c.dispatchWake:
		case <-c.done:
			return
		}
	}
}

func (c *Channel) resolve(m message) {
	c.pendingMu.Lock()
	ch, ok := c.pending[m.ID]
	delete(c.pending, m.ID)
	c.pendingMu.Unlock()
	if !ok {
		log.Warn().Str("module", "signaling").Uint32("id", m.ID).Msg("response for unknown request")
		return
	}
	if m.OK {
		ch <- pendingResult{data: m.Data}
		return
	}
	ch <- pendingResult{err: &ResponseError{Code: m.ErrorCode, Reason: m.ErrorReason}}
}

func (c *Channel) handleServerRequest(m message) {
	log.Debug().Str("module", "signaling").Str("method", m.Method).Msg("server request")
	if c.cb.OnRequest == nil {
		c.reply(newErrorResponse(m, 501, "no request handler"))
		return
	}
	if err := c.cb.OnRequest(m.Method, m.Data); err != nil {
		var re *ResponseError
		if !errors.As(err, &re) {
			re = &ResponseError{Code: 500, Reason: err.Error()}
		}
		c.reply(newErrorResponse(m, re.Code, re.Reason))
		return
	}
	c.reply(newResponse(m, nil))
}

func (c *Channel) handleNotification(m message) {
	n, err := decodeNotification(m.Method, m.Data)
	if err != nil {
		// Unknown methods are logged, never thrown.
		log.Warn().Err(err).Str("module", "signaling").Str("method", m.Method).Msg("notification dropped")
		return
	}
	if c.cb.OnNotification != nil {
		c.cb.OnNotification(n)
	}
}

func (c *Channel) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		ch <- pendingResult{err: err}
		delete(c.pending, id)
	}
}

func marshalData(data any) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return b, nil
}
