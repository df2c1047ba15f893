package gena

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/upnpgo/upnp/internal/transport"
	"github.com/upnpgo/upnp/internal/upnp"
	"github.com/upnpgo/upnp/internal/upnperr"
)

// RequestedTimeout is the TIMEOUT a control-point subscription proxy asks
// for; the host may grant less.
const RequestedTimeout = 1800

// EventHandler receives a validated NOTIFY's properties for one subscription.
type EventHandler func(sid string, props []Property)

// proxySub is one control-point side subscription: it stores the returned
// SID and timeout, and schedules renewal at timeout/2.
type proxySub struct {
	sid         string
	endpoint    upnp.Endpoint
	path        string // EventSubURL path, used for renewal/UNSUBSCRIBE
	callbackURL string

	mu         sync.Mutex
	lastSeq    uint32
	gotInitial bool
	renewTimer *time.Timer
}

// Proxy is the control-point side GENA subscription manager: it issues
// SUBSCRIBE, renews on a timer, and validates inbound NOTIFY sequencing,
// re-subscribing on a detected gap or regression.
type Proxy struct {
	client  *transport.Client
	logger  *slog.Logger
	onEvent EventHandler

	mu   sync.Mutex
	subs map[string]*proxySub
}

// NewProxy builds a Proxy. onEvent, if non-nil, is invoked for every
// validated NOTIFY (initial and subsequent).
func NewProxy(client *transport.Client, logger *slog.Logger, onEvent EventHandler) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{client: client, logger: logger, onEvent: onEvent, subs: make(map[string]*proxySub)}
}

// Subscribe issues a first-time SUBSCRIBE against eventSubURL (an absolute
// URL resolved from the remote device's description), advertising
// callbackURL, and schedules renewal at timeout/2 on success.
func (p *Proxy) Subscribe(ctx context.Context, eventSubURL, callbackURL string) (string, error) {
	target, err := url.Parse(eventSubURL)
	if err != nil {
		return "", upnperr.Wrap(upnperr.KindMalformedMessage, "invalid event sub URL", err)
	}
	endpoint, err := endpointFromURL(target)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", eventSubURL, nil)
	if err != nil {
		return "", upnperr.Wrap(upnperr.KindInternal, "build SUBSCRIBE request", err)
	}
	req.Header.Set("NT", NTEvent)
	req.Header.Set("CALLBACK", "<"+callbackURL+">")
	req.Header.Set("TIMEOUT", FormatTimeout(RequestedTimeout))

	resp, err := p.client.SendSync(ctx, endpoint, req)
	if err != nil {
		return "", upnperr.Wrap(upnperr.KindTransportError, "SUBSCRIBE failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", upnperr.New(upnperr.KindTransportError, "SUBSCRIBE rejected with status "+resp.Status)
	}

	sid := resp.Header.Get("SID")
	if err := upnp.ValidateSID(sid); err != nil {
		return "", err
	}
	timeout, _, err := parseTimeout(resp.Header.Get("TIMEOUT"))
	if err != nil || timeout == 0 {
		timeout = RequestedTimeout
	}

	sub := &proxySub{sid: sid, endpoint: endpoint, path: target.RequestURI(), callbackURL: callbackURL}

	p.mu.Lock()
	p.subs[sid] = sub
	p.mu.Unlock()

	p.scheduleRenewal(sub, timeout)
	return sid, nil
}

func (p *Proxy) scheduleRenewal(sub *proxySub, timeout int) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.renewTimer != nil {
		sub.renewTimer.Stop()
	}
	sub.renewTimer = time.AfterFunc(time.Duration(timeout/2)*time.Second, func() {
		p.renew(sub)
	})
}

func (p *Proxy) renew(sub *proxySub) {
	ctx, cancel := context.WithTimeout(context.Background(), DeliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", "http://"+sub.endpoint.String()+sub.path, nil)
	if err != nil {
		p.logger.Warn("gena renewal build failed", "sid", sub.sid, "error", err)
		return
	}
	req.Header.Set("SID", sub.sid)
	req.Header.Set("TIMEOUT", FormatTimeout(RequestedTimeout))

	resp, err := p.client.SendSync(ctx, sub.endpoint, req)
	if err != nil {
		p.logger.Warn("gena renewal failed", "sid", sub.sid, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		p.logger.Warn("gena renewal rejected", "sid", sub.sid, "status", resp.Status)
		return
	}

	timeout, _, err := parseTimeout(resp.Header.Get("TIMEOUT"))
	if err != nil || timeout == 0 {
		timeout = RequestedTimeout
	}
	p.scheduleRenewal(sub, timeout)
}

// Unsubscribe tears down sid, stopping its renewal timer.
func (p *Proxy) Unsubscribe(ctx context.Context, sid string) error {
	p.mu.Lock()
	sub, ok := p.subs[sid]
	if ok {
		delete(p.subs, sid)
	}
	p.mu.Unlock()
	if !ok {
		return upnperr.New(upnperr.KindPreconditionFailed, "unknown SID: "+sid)
	}

	sub.mu.Lock()
	if sub.renewTimer != nil {
		sub.renewTimer.Stop()
	}
	sub.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, "UNSUBSCRIBE", "http://"+sub.endpoint.String()+sub.path, nil)
	if err != nil {
		return upnperr.Wrap(upnperr.KindInternal, "build UNSUBSCRIBE request", err)
	}
	req.Header.Set("SID", sid)

	resp, err := p.client.SendSync(ctx, sub.endpoint, req)
	if err != nil {
		return upnperr.Wrap(upnperr.KindTransportError, "UNSUBSCRIBE failed", err)
	}
	defer resp.Body.Close()
	return nil
}

// resubscribe tears down and re-issues a fresh SUBSCRIBE for a
// subscription whose NOTIFY sequencing broke, to recover full state
// (the rule: "the proxy tears down and re-subscribes to recover full
// state").
func (p *Proxy) resubscribe(sub *proxySub) {
	eventSubURL := "http://" + sub.endpoint.String() + sub.path
	callbackURL := sub.callbackURL

	p.mu.Lock()
	delete(p.subs, sub.sid)
	p.mu.Unlock()

	sub.mu.Lock()
	if sub.renewTimer != nil {
		sub.renewTimer.Stop()
	}
	sub.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), DeliveryTimeout)
	defer cancel()
	if _, err := p.Subscribe(ctx, eventSubURL, callbackURL); err != nil {
		p.logger.Warn("gena re-subscribe failed", "old_sid", sub.sid, "error", err)
	}
}

// ServeHTTP receives inbound NOTIFY requests on the proxy's configured
// callback URL, validating SID/SEQ before delivering to onEvent
// (the rule: "SID known, SEQ strictly greater than the last observed
// ... except the initial SEQ=0").
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "NOTIFY" {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	headers, err := ParseNotifyHeaders(r.Header)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	sub, ok := p.subs[headers.SID]
	p.mu.Unlock()
	if !ok {
		http.Error(w, "unknown SID", http.StatusPreconditionFailed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read NOTIFY body", http.StatusBadRequest)
		return
	}
	props, err := DecodePropertySet(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sub.mu.Lock()
	broken := false
	if !sub.gotInitial {
		if headers.Seq != 0 {
			broken = true
		}
		sub.gotInitial = true
	} else if headers.Seq != upnp.NextSeq(sub.lastSeq) {
		broken = true
	}
	sub.lastSeq = headers.Seq
	sub.mu.Unlock()

	w.WriteHeader(http.StatusOK)

	if broken {
		p.logger.Warn("gena SEQ discontinuity, re-subscribing", "sid", sub.sid, "seq", headers.Seq)
		go p.resubscribe(sub)
		return
	}

	if p.onEvent != nil {
		p.onEvent(headers.SID, props)
	}
}

