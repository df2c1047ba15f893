package gena

import (
	"sync"
	"time"

	"github.com/upnpgo/upnp/internal/model"
	"github.com/upnpgo/upnp/internal/upnp"
	"github.com/upnpgo/upnp/internal/upnperr"
)

// DefaultTimeout is the subscription timeout granted when a SUBSCRIBE
// request omits TIMEOUT.
const DefaultTimeout = 1800

// Subscription is one host-side GENA subscription: SID, delivery callback
// URLs (ordered), requested timeout, absolute expiry instant, last event
// key, and a per-subscription outgoing notification queue.
type Subscription struct {
	SID       string
	Service   model.ServiceIndex
	Callbacks []string
	Expiry    time.Time
	Timeout   int // seconds granted at the most recent SUBSCRIBE/renewal

	mu          sync.Mutex
	seq         uint32 // last SEQ sent; 0 before the initial event
	sentInitial bool
	moderation  map[string]*moderationState

	// queue and done back the per-SID FIFO delivery loop a Sender runs.
	// closeDone is idempotent so Unsubscribe racing a second expiry sweep
	// is safe.
	queue     chan []Property
	done      chan struct{}
	closeDone sync.Once
}

// stop terminates the subscription's delivery loop, if running.
func (s *Subscription) stop() {
	s.closeDone.Do(func() { close(s.done) })
}

type moderationState struct {
	lastSent  time.Time
	lastValue string
	hasPending bool
	pendingVal string
}

// Table is the host-side subscription table, keyed by SID. One Table
// serves every service a device host exposes; Service on each Subscription
// disambiguates which service's state variables it is subscribed to.
type Table struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
	// byService indexes subscriptions by the service they subscribe to, so
	// a state variable change can be fanned out without scanning every SID.
	byService map[model.ServiceIndex][]string

	now func() time.Time // injected for deterministic expiry tests
}

// NewTable builds an empty subscription table.
func NewTable() *Table {
	return &Table{
		subs:      make(map[string]*Subscription),
		byService: make(map[model.ServiceIndex][]string),
		now:       time.Now,
	}
}

// Subscribe registers a first-time subscription for svc, minting a fresh
// SID and clamping the requested timeout.
func (t *Table) Subscribe(svc model.ServiceIndex, callbacks []string, requestedTimeout int, infinite bool) *Subscription {
	timeout := DefaultTimeout
	if requestedTimeout > 0 {
		timeout = upnp.ClampSubscriptionTimeout(requestedTimeout)
	}
	if infinite {
		timeout = upnp.ClampSubscriptionTimeout(604800)
	}

	sub := &Subscription{
		SID:        upnp.NewSID(),
		Service:    svc,
		Callbacks:  callbacks,
		Expiry:     t.now().Add(time.Duration(timeout) * time.Second),
		Timeout:    timeout,
		moderation: make(map[string]*moderationState),
		queue:      make(chan []Property, 32),
		done:       make(chan struct{}),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs[sub.SID] = sub
	t.byService[svc] = append(t.byService[svc], sub.SID)
	return sub
}

// Renew resets sid's expiry, returning PreconditionFailed if sid is unknown.
func (t *Table) Renew(sid string, requestedTimeout int, infinite bool) (*Subscription, error) {
	t.mu.RLock()
	sub, ok := t.subs[sid]
	t.mu.RUnlock()
	if !ok {
		return nil, upnperr.New(upnperr.KindPreconditionFailed, "unknown SID: "+sid)
	}

	timeout := DefaultTimeout
	if requestedTimeout > 0 {
		timeout = upnp.ClampSubscriptionTimeout(requestedTimeout)
	}
	if infinite {
		timeout = upnp.ClampSubscriptionTimeout(604800)
	}

	sub.mu.Lock()
	sub.Expiry = t.now().Add(time.Duration(timeout) * time.Second)
	sub.Timeout = timeout
	sub.mu.Unlock()
	return sub, nil
}

// Unsubscribe removes sid and stops its delivery loop, returning
// PreconditionFailed if sid is unknown.
func (t *Table) Unsubscribe(sid string) error {
	t.mu.Lock()
	sub, ok := t.subs[sid]
	if !ok {
		t.mu.Unlock()
		return upnperr.New(upnperr.KindPreconditionFailed, "unknown SID: "+sid)
	}
	delete(t.subs, sid)
	ids := t.byService[sub.Service]
	for i, id := range ids {
		if id == sid {
			t.byService[sub.Service] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	t.mu.Unlock()

	sub.stop()
	return nil
}

// Get returns the subscription for sid, if any.
func (t *Table) Get(sid string) (*Subscription, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sub, ok := t.subs[sid]
	return sub, ok
}

// SubscriptionsFor returns every live subscription against svc.
func (t *Table) SubscriptionsFor(svc model.ServiceIndex) []*Subscription {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := t.byService[svc]
	out := make([]*Subscription, 0, len(ids))
	for _, id := range ids {
		if sub, ok := t.subs[id]; ok {
			out = append(out, sub)
		}
	}
	return out
}

// All returns every live subscription in the table, in no particular
// order. Used by the admin API to report the subscription table as a
// whole rather than one service at a time.
func (t *Table) All() []*Subscription {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Subscription, 0, len(t.subs))
	for _, sub := range t.subs {
		out = append(out, sub)
	}
	return out
}

// ExpireOlderThan removes every subscription whose expiry has passed: once
// now is at or past a subscription's expiry, it is removed.
func (t *Table) ExpireOlderThan(now time.Time) {
	t.mu.Lock()
	var expired []*Subscription
	for sid, sub := range t.subs {
		sub.mu.Lock()
		isExpired := !now.Before(sub.Expiry)
		sub.mu.Unlock()
		if !isExpired {
			continue
		}
		delete(t.subs, sid)
		ids := t.byService[sub.Service]
		for i, id := range ids {
			if id == sid {
				t.byService[sub.Service] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		expired = append(expired, sub)
	}
	t.mu.Unlock()

	for _, sub := range expired {
		sub.stop()
	}
}

// nextSeq advances and returns the subscription's SEQ, wrapping per
// upnp.NextSeq. The very first call (the initial event) returns 0 without
// advancing.
func (s *Subscription) nextSeq() uint32 {
	if !s.sentInitial {
		s.sentInitial = true
		return 0
	}
	s.seq = upnp.NextSeq(s.seq)
	return s.seq
}
