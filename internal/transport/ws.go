package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/inkwire/inkwire/internal/envelope"
	"github.com/inkwire/inkwire/internal/util"
)

// ClientOptions configures a relay connection.
type ClientOptions struct {
	// URL is the relay endpoint, e.g. ws://localhost:8090/ws.
	URL    string
	Room   string
	UserID string
	// Grace bounds how long an outage may last before OnDown fires.
	// Reconnection keeps being attempted afterwards regardless.
	Grace      time.Duration
	OnEnvelope Handler
	// OnUp fires on every (re)connection, including the first.
	OnUp func()
	// OnDown fires once per outage, after Grace has elapsed without a
	// successful reconnect.
	OnDown func(error)
}

// Client is the WebSocket transport to the relay. It reconnects on its
// own; callers only learn about outages that outlive the grace period.
type Client struct {
	opts   ClientOptions
	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex
	connMu  sync.Mutex
	conn    *websocket.Conn

	done chan struct{}
}

// DialRelay connects to the relay and joins the document room. The first
// dial is synchronous so a bad URL fails fast; afterwards the client
// keeps itself connected until Close.
func DialRelay(ctx context.Context, opts ClientOptions) (*Client, error) {
	if opts.Grace <= 0 {
		opts.Grace = 15 * time.Second
	}
	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:   opts,
		ctx:    cctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	conn, err := c.dial(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	c.setConn(conn)
	if opts.OnUp != nil {
		opts.OnUp()
	}
	go c.run(conn)
	return c, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("relay URL: %w", err)
	}
	q := u.Query()
	q.Set("room", c.opts.Room)
	q.Set("user", c.opts.UserID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}
	return conn, nil
}

// run reads frames until the connection drops, then cycles through
// reconnect attempts. It exits when the client is closed.
func (c *Client) run(conn *websocket.Conn) {
	defer close(c.done)
	for {
		err := c.readLoop(conn)
		if c.ctx.Err() != nil {
			return
		}
		util.Warnf("relay connection lost: %v", err)

		conn = c.reconnect(err)
		if conn == nil {
			return
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		env, err := envelope.Decode(frame)
		if err != nil {
			util.Warnf("dropping malformed frame: %v", err)
			continue
		}
		util.Stats.AddRecv()
		c.opts.OnEnvelope(env)
	}
}

// reconnect retries with backoff until it succeeds or the client closes.
// OnDown fires once if the outage crosses the grace period.
func (c *Client) reconnect(cause error) *websocket.Conn {
	c.setConn(nil)
	deadline := time.Now().Add(c.opts.Grace)
	notified := false
	backoff := 500 * time.Millisecond

	for {
		dialCtx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
		conn, err := c.dial(dialCtx)
		cancel()
		if err == nil {
			c.setConn(conn)
			util.Infof("relay connection restored")
			if c.opts.OnUp != nil {
				c.opts.OnUp()
			}
			return conn
		}
		if c.ctx.Err() != nil {
			return nil
		}
		if !notified && time.Now().After(deadline) {
			notified = true
			if c.opts.OnDown != nil {
				c.opts.OnDown(cause)
			}
		}

		select {
		case <-time.After(backoff):
		case <-c.ctx.Done():
			return nil
		}
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

// Send writes one envelope. During an outage it fails immediately so
// callers can treat the message as lost rather than queue blindly.
func (c *Client) Send(env *envelope.Envelope) error {
	frame, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return errors.New("relay disconnected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write to relay: %w", err)
	}
	util.Stats.AddSent()
	return nil
}

// Close leaves the room and stops the reconnect loop.
func (c *Client) Close() error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn != nil {
		leave := envelope.New(envelope.TypeLeaveRoom, "", c.opts.UserID, "", nil)
		if frame, err := envelope.Encode(leave); err == nil {
			c.writeMu.Lock()
			_ = conn.WriteMessage(websocket.TextMessage, frame)
			c.writeMu.Unlock()
		}
	}
	c.cancel()
	if conn != nil {
		conn.Close()
	}
	select {
	case <-c.done:
	case <-time.After(time.Second):
	}
	return nil
}
