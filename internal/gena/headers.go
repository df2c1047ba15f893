// Package gena implements the GENA eventing engine: the
// host-side subscription table, the control-point subscription proxy, and
// the wire codec for SUBSCRIBE/UNSUBSCRIBE/NOTIFY headers and the NOTIFY
// property-set body. Header parsing follows the same net/textproto
// discipline internal/ssdp uses for SSDP datagrams, generalized here to
// HTTP request/response headers instead of UDP datagram headers.
package gena

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/upnpgo/upnp/internal/upnp"
	"github.com/upnpgo/upnp/internal/upnperr"
)

// NT and NTS values GENA fixes.
const (
	NTEvent      = "upnp:event"
	NTSPropChange = "upnp:propchange"
)

// SubscribeRequest is the decoded form of a SUBSCRIBE request.
type SubscribeRequest struct {
	SID       string   // present only on a renewal
	NT        string   // "upnp:event", present only on a first-time subscription
	Callbacks []string // CALLBACK URLs, present only on a first-time subscription
	Timeout   int      // seconds requested via "Second-<n>"; 0 if "Second-infinite" or absent
	Infinite  bool
}

// ParseSubscribeRequest decodes SID/NT/CALLBACK/TIMEOUT from a SUBSCRIBE
// request's headers, distinguishing a first-time subscription from a
// renewal ("Conflicting header combinations return 400").
func ParseSubscribeRequest(h http.Header) (SubscribeRequest, error) {
	var req SubscribeRequest
	req.SID = strings.TrimSpace(h.Get("SID"))
	req.NT = strings.TrimSpace(h.Get("NT"))
	callback := strings.TrimSpace(h.Get("CALLBACK"))

	if req.SID != "" {
		if req.NT != "" || callback != "" {
			return req, upnperr.New(upnperr.KindMalformedMessage, "SUBSCRIBE renewal must not carry NT or CALLBACK")
		}
		if err := upnp.ValidateSID(req.SID); err != nil {
			return req, err
		}
	} else {
		if req.NT != NTEvent {
			return req, upnperr.New(upnperr.KindMalformedMessage, "first-time SUBSCRIBE requires NT: upnp:event")
		}
		urls, err := parseCallbacks(callback)
		if err != nil {
			return req, err
		}
		if len(urls) == 0 {
			return req, upnperr.New(upnperr.KindMalformedMessage, "first-time SUBSCRIBE requires at least one CALLBACK URL")
		}
		req.Callbacks = urls
	}

	timeout, infinite, err := parseTimeout(h.Get("TIMEOUT"))
	if err != nil {
		return req, err
	}
	req.Timeout, req.Infinite = timeout, infinite
	return req, nil
}

// parseCallbacks splits a CALLBACK header of the form "<url1><url2>..."
// into its component URLs, validating each is a well-formed absolute URL.
func parseCallbacks(header string) ([]string, error) {
	if header == "" {
		return nil, nil
	}
	var urls []string
	for _, part := range strings.Split(header, "<") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		end := strings.Index(part, ">")
		if end < 0 {
			return nil, upnperr.New(upnperr.KindMalformedMessage, "malformed CALLBACK header: "+header)
		}
		raw := part[:end]
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() {
			return nil, upnperr.New(upnperr.KindMalformedMessage, "malformed CALLBACK URL: "+raw)
		}
		urls = append(urls, raw)
	}
	return urls, nil
}

// parseTimeout parses a TIMEOUT header value ("Second-<n>" or
// "Second-infinite"); an absent header defaults to the clamped default.
func parseTimeout(header string) (seconds int, infinite bool, err error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false, nil
	}
	const prefix = "Second-"
	if !strings.HasPrefix(header, prefix) {
		return 0, false, upnperr.New(upnperr.KindMalformedMessage, "malformed TIMEOUT header: "+header)
	}
	value := strings.TrimPrefix(header, prefix)
	if value == "infinite" {
		return 0, true, nil
	}
	n, err2 := strconv.Atoi(value)
	if err2 != nil || n < 0 {
		return 0, false, upnperr.New(upnperr.KindMalformedMessage, "malformed TIMEOUT header: "+header)
	}
	return n, false, nil
}

// FormatTimeout renders a clamped subscription timeout back onto the wire.
func FormatTimeout(seconds int) string {
	return "Second-" + strconv.Itoa(seconds)
}

// NotifyHeaders is the decoded header set of an inbound NOTIFY (control
// point receiving an event) or the header set a host builds to send one.
type NotifyHeaders struct {
	SID string
	Seq uint32
	NT  string
	NTS string
}

// ParseNotifyHeaders decodes NT/NTS/SID/SEQ from a NOTIFY request.
func ParseNotifyHeaders(h http.Header) (NotifyHeaders, error) {
	var n NotifyHeaders
	n.NT = strings.TrimSpace(h.Get("NT"))
	n.NTS = strings.TrimSpace(h.Get("NTS"))
	n.SID = strings.TrimSpace(h.Get("SID"))

	if n.NT != NTEvent || n.NTS != NTSPropChange {
		return n, upnperr.New(upnperr.KindMalformedMessage, "NOTIFY requires NT: upnp:event and NTS: upnp:propchange")
	}
	if err := upnp.ValidateSID(n.SID); err != nil {
		return n, err
	}
	seqStr := strings.TrimSpace(h.Get("SEQ"))
	seq, err := strconv.ParseUint(seqStr, 10, 32)
	if err != nil {
		return n, upnperr.New(upnperr.KindMalformedMessage, "malformed SEQ header: "+seqStr)
	}
	n.Seq = uint32(seq)
	return n, nil
}

// SetNotifyHeaders writes NT/NTS/SID/SEQ onto an outbound NOTIFY request.
func SetNotifyHeaders(h http.Header, sid string, seq uint32) {
	h.Set("NT", NTEvent)
	h.Set("NTS", NTSPropChange)
	h.Set("SID", sid)
	h.Set("SEQ", strconv.FormatUint(uint64(seq), 10))
}
