package transport

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/upnpgo/upnp/internal/upnp"
	"github.com/upnpgo/upnp/internal/upnperr"
)

// DialTimeout bounds establishing a new connection to a remote endpoint.
const DialTimeout = 5 * time.Second

// cachedConn is one pooled connection to a remote endpoint plus the
// buffered reader used to parse responses off it.
type cachedConn struct {
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex
}

// Client is the asynchronous HTTP client shared by the control proxy and
// the GENA subscription proxy: it keys one cached connection per remote
// (IP, port) and re-uses it across sends, discarding it on any I/O error.
// It never retries; that is policy left to the caller, layered on top of
// a plain single-attempt do.
type Client struct {
	Logger *slog.Logger

	mu    sync.Mutex
	conns map[string]*cachedConn
}

// NewClient builds a Client with an empty connection cache.
func NewClient(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{Logger: logger, conns: make(map[string]*cachedConn)}
}

// Callback receives the parsed response and any transport error for a Send.
type Callback func(resp *http.Response, err error)

// Send frames req against endpoint asynchronously, invoking cb when the
// response has been read (or on failure). req.URL is used only for its
// Host header and RequestURI; the TCP connection always targets endpoint.
func (c *Client) Send(ctx context.Context, endpoint upnp.Endpoint, req *http.Request, cb Callback) {
	go func() {
		resp, err := c.do(ctx, endpoint, req)
		cb(resp, err)
	}()
}

// SendSync is the synchronous counterpart used by callers (e.g. the
// control proxy) that already run on their own goroutine per invocation
// and just want a plain call/return shape.
func (c *Client) SendSync(ctx context.Context, endpoint upnp.Endpoint, req *http.Request) (*http.Response, error) {
	return c.do(ctx, endpoint, req)
}

func (c *Client) do(ctx context.Context, endpoint upnp.Endpoint, req *http.Request) (*http.Response, error) {
	key := endpoint.String()

	cc, err := c.getOrDial(ctx, key, endpoint)
	if err != nil {
		return nil, upnperr.Wrap(upnperr.KindTransportError, "dial "+key, err)
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		cc.conn.SetDeadline(deadline)
	} else {
		cc.conn.SetDeadline(time.Time{})
	}

	if err := req.Write(cc.conn); err != nil {
		c.discard(key)
		return nil, upnperr.Wrap(upnperr.KindTransportError, "write request to "+key, err)
	}

	resp, err := http.ReadResponse(cc.reader, req)
	if err != nil {
		c.discard(key)
		return nil, upnperr.Wrap(upnperr.KindTransportError, "read response from "+key, err)
	}

	if resp.Close || resp.Header.Get("Connection") == "close" {
		c.discard(key)
	}

	return resp, nil
}

func (c *Client) getOrDial(ctx context.Context, key string, endpoint upnp.Endpoint) (*cachedConn, error) {
	c.mu.Lock()
	if cc, ok := c.conns[key]; ok {
		c.mu.Unlock()
		return cc, nil
	}
	c.mu.Unlock()

	dialer := net.Dialer{Timeout: DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp4", endpoint.String())
	if err != nil {
		return nil, err
	}
	cc := &cachedConn{conn: conn, reader: bufio.NewReader(conn)}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.conns[key]; ok {
		// Lost a race with a concurrent dial; keep the existing one, close
		// the one we just opened.
		conn.Close()
		return existing, nil
	}
	c.conns[key] = cc
	return cc, nil
}

// discard closes and forgets the cached connection for key, so the next
// Send dials a fresh one.
func (c *Client) discard(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cc, ok := c.conns[key]; ok {
		cc.conn.Close()
		delete(c.conns, key)
	}
}

// Close discards every cached connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for key, cc := range c.conns {
		if err := cc.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.conns, key)
	}
	return firstErr
}
