package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/tonbridge/tonbridge/core/logx"
	"github.com/tonbridge/tonbridge/tonconnect/proto"
)

// ErrClosed is returned by Call when the connection went away before a
// response arrived.
var ErrClosed = errors.New("transport: connection closed")

// wsConn abstracts a minimal websocket connection for testing.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
}

// Client is the dapp-host side of the bridge boundary. It implements the
// bridge's Connector contract over a websocket: one request frame per Call,
// responses matched by id, wallet events pushed to an event handler.
type Client struct {
	conn    wsConn
	onEvent func(proto.Event)

	nextID atomic.Int64
	mu     sync.Mutex
	pending map[string]chan Frame
	closed  bool

	log zerolog.Logger
}

// NewClient wraps an established, registered connection.
func NewClient(conn wsConn) *Client {
	return &Client{conn: conn, pending: map[string]chan Frame{}, log: logx.Log}
}

// Dial connects to the daemon's bridge endpoint, sends the register frame
// and returns a ready Client. The caller owns running Run and closing c.
func Dial(ctx context.Context, url, clientID, clientName, clientKey string) (*Client, *websocket.Conn, error) {
	var hdr http.Header
	if clientKey != "" {
		hdr = http.Header{"Authorization": []string{"Bearer " + clientKey}}
	}
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return nil, nil, err
	}
	c.SetReadLimit(-1)
	reg, err := json.Marshal(Register{ClientID: clientID, ClientName: clientName})
	if err != nil {
		_ = c.Close(websocket.StatusInternalError, "register")
		return nil, nil, err
	}
	frame, _ := json.Marshal(Frame{Type: TypeRegister, Payload: reg})
	if err := c.Write(ctx, websocket.MessageText, frame); err != nil {
		_ = c.Close(websocket.StatusInternalError, "register")
		return nil, nil, err
	}
	return NewClient(c), c, nil
}

// OnEvent registers the handler for wallet-initiated event frames. Must be
// set before Run.
func (c *Client) OnEvent(fn func(proto.Event)) { c.onEvent = fn }

// Run processes incoming frames until the connection errors. On exit all
// outstanding calls fail with ErrClosed.
func (c *Client) Run(ctx context.Context) error {
	defer c.failPending()
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}
		var f Frame
		if json.Unmarshal(data, &f) != nil {
			continue
		}
		switch f.Type {
		case TypeResponse:
			c.mu.Lock()
			ch := c.pending[f.ID]
			delete(c.pending, f.ID)
			c.mu.Unlock()
			if ch != nil {
				ch <- f
			}
		case TypeEvent:
			var ev proto.Event
			if err := json.Unmarshal(f.Payload, &ev); err != nil {
				c.log.Debug().Err(err).Msg("malformed event frame")
				continue
			}
			if c.onEvent != nil {
				c.onEvent(ev)
			}
		}
	}
}

// Call implements the bridge Connector: it writes one request frame and
// blocks for the matching response or ctx cancellation.
func (c *Client) Call(ctx context.Context, name string, args ...any) (json.RawMessage, error) {
	raw := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode arg: %w", err)
		}
		raw = append(raw, b)
	}
	id := strconv.FormatInt(c.nextID.Add(1), 10)
	ch := make(chan Frame, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	body, _ := json.Marshal(Frame{Type: TypeRequest, ID: id, Name: name, Args: raw})
	if err := c.conn.Write(ctx, websocket.MessageText, body); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}
	select {
	case f, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		if f.Error != "" {
			return nil, errors.New(f.Error)
		}
		return f.Payload, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (c *Client) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}
