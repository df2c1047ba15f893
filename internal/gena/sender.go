package gena

import (
	"bytes"
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/upnpgo/upnp/internal/model"
	"github.com/upnpgo/upnp/internal/transport"
	"github.com/upnpgo/upnp/internal/upnp"
)

// DeliveryTimeout bounds a single NOTIFY attempt against one callback URL.
const DeliveryTimeout = 5 * time.Second

// Sender drives the host-side delivery of NOTIFY requests: the initial
// all-variables event, subsequent moderated changes, and the per-SID FIFO
// loop requires ("delivery is serialised per SID").
type Sender struct {
	client *transport.Client
	logger *slog.Logger
}

// NewSender builds a Sender that delivers NOTIFY requests over client.
func NewSender(client *transport.Client, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{client: client, logger: logger}
}

// StartDelivery runs sub's FIFO delivery loop until Stop (via
// Table.Unsubscribe or Table.ExpireOlderThan) closes sub.done. Callers
// start one loop per subscription right after Table.Subscribe.
func (s *Sender) StartDelivery(sub *Subscription) {
	go func() {
		for {
			select {
			case props := <-sub.queue:
				s.deliver(sub, props)
			case <-sub.done:
				return
			}
		}
	}()
}

// SendInitialEvent enqueues the mandatory SEQ=0 event carrying every
// evented state variable's current value
func (s *Sender) SendInitialEvent(sub *Subscription, vars []model.StateVariable) {
	props := make([]Property, 0, len(vars))
	for _, v := range vars {
		if v.Evented == model.EventedNo {
			continue
		}
		props = append(props, Property{Name: v.Name, Value: v.Current})
		sub.mu.Lock()
		sub.moderation[v.Name] = &moderationState{lastSent: time.Now(), lastValue: v.Current}
		sub.mu.Unlock()
	}
	sub.queue <- props
}

// NotifyChange applies moderation (the rule: "if a state variable has
// a maximumRate or minimumDelta attribute, notifications are rate-limited
// ... a change newer than the policy allows is coalesced with the next
// eligible emission; only the most recent value is sent") and, once
// eligible, enqueues the change for FIFO delivery.
func (s *Sender) NotifyChange(sub *Subscription, sv model.StateVariable, newValue string) {
	if sv.Evented == model.EventedNo {
		return
	}

	sub.mu.Lock()
	mod, ok := sub.moderation[sv.Name]
	if !ok {
		mod = &moderationState{}
		sub.moderation[sv.Name] = mod
	}

	eligible := isEligible(mod, sv, newValue)
	if eligible {
		mod.lastSent = time.Now()
		mod.lastValue = newValue
		mod.hasPending = false
		sub.mu.Unlock()
		sub.queue <- []Property{{Name: sv.Name, Value: newValue}}
		return
	}

	alreadyScheduled := mod.hasPending
	mod.hasPending = true
	mod.pendingVal = newValue
	delay := moderationDelay(mod, sv)
	sub.mu.Unlock()

	if !alreadyScheduled {
		time.AfterFunc(delay, func() { s.flushPending(sub, sv) })
	}
}

func (s *Sender) flushPending(sub *Subscription, sv model.StateVariable) {
	sub.mu.Lock()
	mod, ok := sub.moderation[sv.Name]
	if !ok || !mod.hasPending {
		sub.mu.Unlock()
		return
	}
	value := mod.pendingVal
	mod.hasPending = false
	mod.lastSent = time.Now()
	mod.lastValue = value
	sub.mu.Unlock()

	sub.queue <- []Property{{Name: sv.Name, Value: value}}
}

func isEligible(mod *moderationState, sv model.StateVariable, newValue string) bool {
	if mod.lastSent.IsZero() {
		return true
	}
	if sv.MaximumRate != "" {
		rate, err := strconv.Atoi(sv.MaximumRate)
		if err == nil && time.Since(mod.lastSent) < time.Duration(rate)*time.Second {
			return false
		}
	}
	if sv.MinimumDelta != "" && mod.lastValue != "" {
		delta, err1 := strconv.ParseFloat(sv.MinimumDelta, 64)
		oldVal, err2 := strconv.ParseFloat(mod.lastValue, 64)
		newVal, err3 := strconv.ParseFloat(newValue, 64)
		if err1 == nil && err2 == nil && err3 == nil && math.Abs(newVal-oldVal) < delta {
			return false
		}
	}
	return true
}

// moderationDelay estimates the wait until newValue becomes eligible,
// governed only by maximumRate (minimumDelta has no time dimension to
// schedule against; a later eligible rate-governed flush re-evaluates it).
func moderationDelay(mod *moderationState, sv model.StateVariable) time.Duration {
	if sv.MaximumRate == "" {
		return 0
	}
	rate, err := strconv.Atoi(sv.MaximumRate)
	if err != nil {
		return 0
	}
	remaining := time.Duration(rate)*time.Second - time.Since(mod.lastSent)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// deliver sends one event to sub's callbacks in order, stopping at the
// first 2xx response. On connect failure or non-2xx, delivery moves to the
// next callback; if all fail the event is dropped, never retried.
func (s *Sender) deliver(sub *Subscription, props []Property) {
	sub.mu.Lock()
	seq := sub.nextSeq()
	sub.mu.Unlock()

	if len(props) == 0 {
		return
	}

	body := EncodePropertySet(props)

	for _, callback := range sub.Callbacks {
		ctx, cancel := context.WithTimeout(context.Background(), DeliveryTimeout)
		ok := s.sendOne(ctx, callback, sub.SID, seq, body)
		cancel()
		if ok {
			return
		}
		s.logger.Warn("gena notify delivery failed, trying next callback",
			"sid", sub.SID, "callback", callback, "seq", seq)
	}
	s.logger.Warn("gena notify dropped: all callbacks failed", "sid", sub.SID, "seq", seq)
}

func (s *Sender) sendOne(ctx context.Context, callback, sid string, seq uint32, body []byte) bool {
	u, err := url.Parse(callback)
	if err != nil {
		return false
	}
	endpoint, err := endpointFromURL(u)
	if err != nil {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, "NOTIFY", callback, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.ContentLength = int64(len(body))
	SetNotifyHeaders(req.Header, sid, seq)

	resp, err := s.client.SendSync(ctx, endpoint, req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func endpointFromURL(u *url.URL) (upnp.Endpoint, error) {
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "80"
	}
	return upnp.ParseEndpoint(net.JoinHostPort(host, port))
}
