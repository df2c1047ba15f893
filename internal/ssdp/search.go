package ssdp

import (
	"context"
	"log/slog"
	"math/rand"
	"net"
	"time"

	"github.com/upnpgo/upnp/internal/upnp"
	"github.com/upnpgo/upnp/internal/upnperr"
)

// SearchResponder answers M-SEARCH requests against a hosted device tree.
type SearchResponder struct {
	connSender UDPSender
	Location   func() string
	Server     upnp.ProductTokens
	MaxAge     int
	BootID     int
	ConfigID   int
	Logger     *slog.Logger
	rng        *rand.Rand
}

// NewSearchResponder builds a SearchResponder sending unicast responses
// over conn.
func NewSearchResponder(conn UDPSender, logger *slog.Logger) *SearchResponder {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchResponder{
		connSender: conn,
		Logger:     logger,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// HandleSearch validates an inbound M-SEARCH and, after a random delay in
// [0, min(MX,5)] seconds, sends one 200 OK response per matching USN. It
// blocks for the delay; callers wanting concurrency run it in its own
// goroutine per inbound request.
func (r *SearchResponder) HandleSearch(ctx context.Context, req Message, src USNSource) error {
	if req.Type != TypeSearch {
		return upnperr.New(upnperr.KindMalformedMessage, "HandleSearch requires a decoded M-SEARCH message")
	}

	mx := req.MX
	if mx > 5 {
		mx = 5
	}
	delay := time.Duration(r.rng.Int63n(int64(mx)+1)) * time.Second
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
	}

	var lastErr error
	for _, d := range src.AdvertisedUSNs() {
		ok, err := d.MatchesSearchTarget(req.ST)
		if err != nil {
			r.Logger.Warn("skipping USN with unparseable search target", "st", req.ST, "error", err)
			continue
		}
		if !ok {
			continue
		}
		resp := Message{
			Type:               TypeSearchResponse,
			CacheControlMaxAge: upnp.ClampMaxAge(r.MaxAge),
			Date:               time.Now().UTC().Format(time.RFC1123),
			Ext:                true,
			Location:           r.Location(),
			Server:             r.Server.String(),
			ST:                 req.ST,
			USN:                d.USN(),
			BootID:             r.BootID,
			ConfigID:           r.ConfigID,
			HaveBootID:         r.Server.Minor() == 1,
		}
		if err := r.connSender.Send(Encode(resp)); err != nil {
			lastErr = err
			r.Logger.Warn("failed to send search response", "usn", d.USN(), "error", err)
		}
	}
	return lastErr
}

// SearchClient issues M-SEARCH requests and collects responses.
type SearchClient struct {
	sendConn UDPSender
	recvConn *net.UDPConn
}

// NewSearchClient builds a SearchClient that multicasts M-SEARCH over
// sendConn and listens for unicast responses on recvConn.
func NewSearchClient(sendConn UDPSender, recvConn *net.UDPConn) *SearchClient {
	return &SearchClient{sendConn: sendConn, recvConn: recvConn}
}

// Response is one decoded M-SEARCH response, paired with the sender's
// endpoint (needed to disambiguate devices that omit SEARCHPORT.UPNP.ORG).
type Response struct {
	Message Message
	From    upnp.Endpoint
}

// Search multicasts an M-SEARCH with the given (pre-clamp) mx and search
// target, then listens for mx+1 seconds collecting responses.
func (c *SearchClient) Search(ctx context.Context, mx int, st string) ([]Response, error) {
	clampedMX := upnp.ClampMX(mx)
	req := Message{
		Type: TypeSearch,
		Host: MulticastAddr,
		MX:   clampedMX,
		ST:   st,
	}
	if err := c.sendConn.Send(Encode(req)); err != nil {
		return nil, upnperr.Wrap(upnperr.KindTransportError, "send M-SEARCH", err)
	}

	deadline := time.Now().Add(time.Duration(clampedMX+1) * time.Second)
	if err := c.recvConn.SetReadDeadline(deadline); err != nil {
		return nil, upnperr.Wrap(upnperr.KindTransportError, "set read deadline", err)
	}

	var responses []Response
	buf := make([]byte, MaxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return responses, ctx.Err()
		default:
		}
		n, addr, err := c.recvConn.ReadFromUDP(buf)
		if err != nil {
			break // deadline exceeded or socket closed: return what we have
		}
		msg, err := Decode(buf[:n])
		if err != nil {
			continue // malformed datagrams are dropped silently
		}
		if msg.Type != TypeSearchResponse {
			continue
		}
		responses = append(responses, Response{
			Message: msg,
			From:    upnp.Endpoint{IP: addr.IP.To4(), Port: uint16(addr.Port)},
		})
	}
	return responses, nil
}
