// Package transport implements the connection-oriented HTTP transport used
// by every other collaborator to exchange description, control, and
// eventing traffic: a listener with a bounded worker pool on the host side,
// and a per-remote-endpoint connection-caching asynchronous client used by
// both the control proxy and the GENA subscription proxy.
//
// The server deliberately does not use net/http.Server: it hands each
// accepted socket to a worker in a bounded pool, with an explicit
// 30-second idle window per connection, which net/http.Server's
// one-goroutine-per-connection model does not expose. Routing within an
// accepted request is still done with the standard library's http.Handler
// and (Go 1.22+) method-aware ServeMux, the same way an ordinary
// http.Handler gets wrapped elsewhere in this module.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/upnpgo/upnp/internal/upnperr"
)

// DefaultPoolCapacity is the default bounded worker pool size.
const DefaultPoolCapacity = 100

// DefaultIdleTimeout is how long a connection may sit with no request
// in flight before the server closes it
const DefaultIdleTimeout = 30 * time.Second

var allowedMethods = map[string]bool{
	http.MethodGet:  true,
	http.MethodHead: true,
	http.MethodPost: true,
	"NOTIFY":        true,
	"SUBSCRIBE":     true,
	"UNSUBSCRIBE":   true,
}

// Server accepts TCP connections and dispatches well-formed requests to a
// Handler, using a bounded ants pool instead of one goroutine per
// connection.
type Server struct {
	Listener    net.Listener
	Handler     http.Handler
	IdleTimeout time.Duration
	Logger      *slog.Logger

	pool    *ants.Pool
	wg      sync.WaitGroup
	closing chan struct{}
	once    sync.Once
}

// NewServer builds a Server with a pool of the given capacity (0 uses
// DefaultPoolCapacity).
func NewServer(ln net.Listener, handler http.Handler, poolCapacity int, logger *slog.Logger) (*Server, error) {
	if poolCapacity <= 0 {
		poolCapacity = DefaultPoolCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := ants.NewPool(poolCapacity, ants.WithExpiryDuration(DefaultIdleTimeout))
	if err != nil {
		return nil, upnperr.Wrap(upnperr.KindTransportError, "create worker pool", err)
	}
	return &Server{
		Listener:    ln,
		Handler:     handler,
		IdleTimeout: DefaultIdleTimeout,
		Logger:      logger,
		pool:        pool,
		closing:     make(chan struct{}),
	}, nil
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed, submitting each accepted connection to the worker pool.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			select {
			case <-s.closing:
				return nil
			default:
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Temporary() {
				continue
			}
			return upnperr.Wrap(upnperr.KindTransportError, "accept connection", err)
		}

		s.wg.Add(1)
		c := conn
		submitErr := s.pool.Submit(func() {
			defer s.wg.Done()
			s.handleConn(c)
		})
		if submitErr != nil {
			s.Logger.Warn("worker pool rejected connection, closing", "error", submitErr)
			s.wg.Done()
			c.Close()
		}
	}
}

// Close stops accepting new connections and releases the worker pool. It
// does not forcibly interrupt connections already being served.
func (s *Server) Close() error {
	s.once.Do(func() {
		close(s.closing)
		s.Listener.Close()
		s.pool.Release()
	})
	return nil
}

// Wait blocks until every in-flight connection handler has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	idle := s.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}

	reader := bufio.NewReader(conn)
	for {
		conn.SetReadDeadline(time.Now().Add(idle))

		req, err := http.ReadRequest(reader)
		if err != nil {
			var netErr net.Error
			if errors.Is(err, io.EOF) || (errors.As(err, &netErr) && netErr.Timeout()) {
				// Idle timeout or clean close between requests: not an error
				// worth logging, just stop serving this connection.
				return
			}
			writeSimpleResponse(conn, nil, http.StatusBadRequest, "malformed request")
			return
		}

		if req.Host == "" {
			writeSimpleResponse(conn, req, http.StatusBadRequest, "missing Host header")
			return
		}
		if !allowedMethods[req.Method] {
			writeSimpleResponse(conn, req, http.StatusMethodNotAllowed, "unsupported method: "+req.Method)
			req.Body.Close()
			if shouldClose(req) {
				return
			}
			continue
		}

		rw := newResponseRecorder()
		s.Handler.ServeHTTP(rw, req)
		req.Body.Close()

		if err := rw.writeTo(conn, req); err != nil {
			s.Logger.Debug("failed writing response", "error", err)
			return
		}

		if shouldClose(req) || rw.connectionClose {
			return
		}
	}
}

func shouldClose(req *http.Request) bool {
	if req.Close {
		return true
	}
	return strings.EqualFold(req.Header.Get("Connection"), "close")
}

func writeSimpleResponse(conn net.Conn, req *http.Request, status int, msg string) {
	fmt.Fprintf(conn, "HTTP/1.1 %d %s\r\nConnection: close\r\nContent-Length: %d\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		status, http.StatusText(status), len(msg), msg)
}
