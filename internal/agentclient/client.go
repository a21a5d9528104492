package agentclient

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/qorvex/qorvex/internal/wire"
)

const (
	// DefaultConnectTimeout bounds establishing the initial TCP connection.
	DefaultConnectTimeout = 5 * time.Second
	// DefaultReadTimeout bounds a single request/response round trip.
	DefaultReadTimeout = 30 * time.Second
)

// Client owns at most one bidirectional byte stream to an agent. A caller
// holds the internal lock across a full write/read pair, so one request's
// response is fully consumed before the next request is sent — this is
// what lets Driver implementations treat the client as safely shared
// across concurrent callers (§9).
type Client struct {
	mu   sync.Mutex
	conn net.Conn
}

// Connect resolves host:port and establishes a TCP connection with a
// 5-second deadline.
func Connect(host string, port int) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := net.DialTimeout("tcp", addr, DefaultConnectTimeout)
	if err != nil {
		return nil, newErr(ConnectionFailed, err.Error())
	}
	return &Client{conn: conn}, nil
}

// FromStream accepts a pre-connected stream, such as one produced by the
// USB tunnel, and wraps it as a Client.
func FromStream(conn net.Conn) *Client {
	return &Client{conn: conn}
}

// IsConnected reports whether the client currently owns a live stream.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes one encoded frame and awaits exactly one response, bounded
// by the default 30-second read deadline.
func (c *Client) Send(req wire.Request) (wire.Response, error) {
	return c.SendWithTimeout(req, DefaultReadTimeout)
}

// SendWithTimeout is identical to Send but with a caller-supplied read
// deadline. Used when the agent is expected to block for up to
// timeout_ms of agent-side retrying; callers pad by roughly 5 seconds.
func (c *Client) SendWithTimeout(req wire.Request, timeout time.Duration) (wire.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, newErr(NotConnected, "")
	}

	frameBytes := wire.Encode(req)
	if _, err := c.conn.Write(frameBytes); err != nil {
		c.dropLocked()
		return nil, newErr(Io, err.Error())
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		c.dropLocked()
		return nil, newErr(Io, err.Error())
	}

	payload, err := wire.ReadFrame(c.conn)
	if err != nil {
		c.dropLocked()
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, newErr(Timeout, "")
		}
		return nil, newErr(Io, err.Error())
	}

	resp, err := wire.DecodeResponse(payload)
	if err != nil {
		return nil, newErr(Protocol, err.Error())
	}

	if e, ok := resp.(wire.Error); ok {
		return nil, newErr(AgentError, e.Message)
	}
	return resp, nil
}

// Heartbeat sends a Heartbeat request and requires an Ok response.
func (c *Client) Heartbeat() error {
	resp, err := c.Send(wire.Heartbeat{})
	if err != nil {
		return err
	}
	if _, ok := resp.(wire.Ok); !ok {
		return newErr(Protocol, "heartbeat did not return Ok")
	}
	return nil
}

// dropLocked closes and clears the stored stream; c.mu must already be
// held. Any late bytes from the agent are discarded because the
// connection object itself is discarded (§5 cancellation policy).
func (c *Client) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Close drops the owned stream, if any.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
}
