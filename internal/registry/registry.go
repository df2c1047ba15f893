// Package registry implements the control-point discovery façade: it turns
// SSDP NOTIFY traffic into a cache of parsed remote device trees, emitting
// RootDeviceOnline/Offline/Updated/DeviceInvalidated events to API
// consumers. Description and SCPD fetching (work that may block) runs on
// a bounded worker pool and communicates results back to the owning event
// loop by message passing; the cache itself is touched only while holding
// Registry.mu, standing in for that single owning event loop.
package registry

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/upnpgo/upnp/internal/descriptions"
	"github.com/upnpgo/upnp/internal/model"
	"github.com/upnpgo/upnp/internal/ssdp"
	"github.com/upnpgo/upnp/internal/upnp"
	"github.com/upnpgo/upnp/internal/upnperr"
)

// FetchTimeout bounds one description or SCPD GET.
const FetchTimeout = 30 * time.Second

// DefaultWorkerPoolSize is the fetch concurrency cap used when New is
// given a non-positive poolSize.
const DefaultWorkerPoolSize = 100

// EventType discriminates the four façade notifications.
type EventType int

const (
	EventRootDeviceOnline EventType = iota
	EventRootDeviceOffline
	EventRootDeviceUpdated
	EventDeviceInvalidated
)

func (t EventType) String() string {
	switch t {
	case EventRootDeviceOnline:
		return "RootDeviceOnline"
	case EventRootDeviceOffline:
		return "RootDeviceOffline"
	case EventRootDeviceUpdated:
		return "RootDeviceUpdated"
	case EventDeviceInvalidated:
		return "DeviceInvalidated"
	default:
		return "Unknown"
	}
}

// Event is the façade's single outward notification shape.
type Event struct {
	Type EventType
	UDN  string
	Tree *model.Tree     // set for Online/Updated; nil otherwise
	Root model.DeviceIndex
	Err  error // set only for DeviceInvalidated
}

// EventHandler receives every Event the Registry emits.
type EventHandler func(Event)

// entry is one cached remote root device.
type entry struct {
	udn       string
	location  string
	bootID    int
	configID  int
	tree      *model.Tree
	root      model.DeviceIndex
	expiresAt time.Time
}

// Registry is the control-point discovery façade. One
// Registry instance owns one remote-device cache; callers feed it decoded
// SSDP messages via HandleAlive/HandleByebye/HandleUpdate and receive
// cache-change notifications via the EventHandler given to New.
type Registry struct {
	httpClient *http.Client
	onEvent    EventHandler
	logger     *slog.Logger
	pool       *ants.Pool
	now        func() time.Time // injected for deterministic expiry tests

	mu       sync.Mutex
	entries  map[string]*entry
	fetching map[string]bool
}

// New builds a Registry whose description/SCPD fetches run on a bounded
// ants pool, the same pool library internal/transport's Server uses for
// inbound connection handling. poolSize bounds concurrent fetches; 0
// selects DefaultWorkerPoolSize.
func New(onEvent EventHandler, poolSize int, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if poolSize <= 0 {
		poolSize = DefaultWorkerPoolSize
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, upnperr.Wrap(upnperr.KindInternal, "create registry fetch pool", err)
	}
	return &Registry{
		httpClient: &http.Client{Timeout: FetchTimeout},
		onEvent:    onEvent,
		logger:     logger,
		pool:       pool,
		now:        time.Now,
		entries:    make(map[string]*entry),
		fetching:   make(map[string]bool),
	}, nil
}

// Close releases the registry's fetch pool. In-flight fetches are allowed
// to finish; no new ones are accepted afterward.
func (r *Registry) Close() {
	r.pool.Release()
}

// HandleAlive processes a decoded ssdp:alive NOTIFY. Only the
// upnp:rootdevice member of an advertisement burst triggers cache
// maintenance; the device-type/service-type/bare-UDN members of the same
// burst describe a tree the rootdevice message already causes to be
// fetched in full.
func (r *Registry) HandleAlive(ctx context.Context, msg ssdp.Message) {
	if msg.NT != "upnp:rootdevice" {
		return
	}
	d, err := upnp.ParseUSN(msg.USN, msg.NT)
	if err != nil {
		r.logger.Warn("registry: unparseable alive USN", "usn", msg.USN, "error", err)
		return
	}
	udn := d.UDN

	r.mu.Lock()
	existing, known := r.entries[udn]
	if known && existing.location == msg.Location && existing.bootID == msg.BootID && existing.configID == msg.ConfigID {
		// Duplicate burst/multicast-duplicate packet: nothing changed, but
		// the advertised max-age still extends this entry's expiry.
		existing.expiresAt = r.now().Add(time.Duration(msg.CacheControlMaxAge) * time.Second)
		r.mu.Unlock()
		return
	}
	alreadyFetching := r.fetching[udn]
	if !alreadyFetching {
		r.fetching[udn] = true
	}
	r.mu.Unlock()

	if alreadyFetching {
		return
	}

	updated := known
	r.dispatchFetch(ctx, udn, msg.Location, msg.BootID, msg.ConfigID, msg.CacheControlMaxAge, updated)
}

// HandleUpdate processes a decoded ssdp:update NOTIFY:
// a configId change on an already-known device triggers a re-fetch.
// Unknown UDNs are ignored; there is nothing cached to update.
func (r *Registry) HandleUpdate(ctx context.Context, msg ssdp.Message) {
	d, err := upnp.ParseUSN(msg.USN, msg.NT)
	if err != nil {
		r.logger.Warn("registry: unparseable update USN", "usn", msg.USN, "error", err)
		return
	}
	udn := d.UDN

	r.mu.Lock()
	existing, known := r.entries[udn]
	if !known || existing.configID == msg.ConfigID {
		r.mu.Unlock()
		return
	}
	alreadyFetching := r.fetching[udn]
	if !alreadyFetching {
		r.fetching[udn] = true
	}
	r.mu.Unlock()

	if alreadyFetching {
		return
	}

	r.dispatchFetch(ctx, udn, msg.Location, msg.BootID, msg.ConfigID, msg.CacheControlMaxAge, true)
}

// HandleByebye evicts udn from the cache and emits RootDeviceOffline: after
// processing an ssdp:byebye for a root device, the registry holds no entry
// for that UDN.
func (r *Registry) HandleByebye(msg ssdp.Message) {
	d, err := upnp.ParseUSN(msg.USN, msg.NT)
	if err != nil {
		r.logger.Warn("registry: unparseable byebye USN", "usn", msg.USN, "error", err)
		return
	}
	udn := d.UDN

	r.mu.Lock()
	_, existed := r.entries[udn]
	delete(r.entries, udn)
	r.mu.Unlock()

	if existed {
		r.emit(Event{Type: EventRootDeviceOffline, UDN: udn})
	}
}

// ExpireStale evicts every cached entry whose advertised max-age has
// lapsed without an intervening ssdp:alive/ssdp:update or an explicit
// ssdp:byebye, emitting RootDeviceOffline for each. Callers (typically a
// periodic timer in the control point) drive this; the registry does not
// run its own sweep goroutine.
func (r *Registry) ExpireStale(now time.Time) {
	r.mu.Lock()
	var expired []string
	for udn, e := range r.entries {
		if !now.Before(e.expiresAt) {
			expired = append(expired, udn)
			delete(r.entries, udn)
		}
	}
	r.mu.Unlock()

	for _, udn := range expired {
		r.logger.Info("registry: entry expired without byebye", "udn", udn)
		r.emit(Event{Type: EventRootDeviceOffline, UDN: udn})
	}
}

// Get returns the cached tree for udn, if any.
func (r *Registry) Get(udn string) (*model.Tree, model.DeviceIndex, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[udn]
	if !ok {
		return nil, 0, false
	}
	return e.tree, e.root, true
}

// dispatchFetch acquires a worker-pool slot and fetches+parses udn's
// device description (and every service's SCPD) off the event loop,
// applying the result back under r.mu once complete.
func (r *Registry) dispatchFetch(ctx context.Context, udn, location string, bootID, configID, maxAge int, updated bool) {
	submitErr := r.pool.Submit(func() {
		defer func() {
			r.mu.Lock()
			delete(r.fetching, udn)
			r.mu.Unlock()
		}()

		fetchCtx, cancel := context.WithTimeout(ctx, FetchTimeout)
		defer cancel()

		tree, root, err := r.fetchAndBuild(fetchCtx, location)
		if err != nil {
			r.mu.Lock()
			delete(r.entries, udn)
			r.mu.Unlock()
			r.logger.Warn("registry: description fetch failed, invalidating", "udn", udn, "location", location, "error", err)
			r.emit(Event{Type: EventDeviceInvalidated, UDN: udn, Err: err})
			return
		}

		r.mu.Lock()
		r.entries[udn] = &entry{
			udn:       udn,
			location:  location,
			bootID:    bootID,
			configID:  configID,
			tree:      tree,
			root:      root,
			expiresAt: r.now().Add(time.Duration(maxAge) * time.Second),
		}
		r.mu.Unlock()

		evtType := EventRootDeviceOnline
		if updated {
			evtType = EventRootDeviceUpdated
		}
		r.emit(Event{Type: evtType, UDN: udn, Tree: tree, Root: root})
	})
	if submitErr != nil {
		r.mu.Lock()
		delete(r.fetching, udn)
		r.mu.Unlock()
		r.logger.Warn("registry: fetch pool rejected task", "udn", udn, "error", submitErr)
		r.emit(Event{Type: EventDeviceInvalidated, UDN: udn, Err: submitErr})
	}
}

// fetchAndBuild GETs location, parses the device description, then GETs
// and parses every service's SCPD, constructing the device tree once
// everything has arrived and parsed successfully.
func (r *Registry) fetchAndBuild(ctx context.Context, location string) (*model.Tree, model.DeviceIndex, error) {
	data, err := r.fetch(ctx, location)
	if err != nil {
		return nil, 0, err
	}

	tree, pending, err := descriptions.ParseDeviceDescription(data, location)
	if err != nil {
		return nil, 0, err
	}

	for _, p := range pending {
		scpdData, err := r.fetch(ctx, p.SCPDURL)
		if err != nil {
			return nil, 0, err
		}
		actions, vars, err := descriptions.ParseSCPD(scpdData)
		if err != nil {
			return nil, 0, err
		}
		if err := tree.SetServiceSCPD(p.Service, actions, vars); err != nil {
			return nil, 0, err
		}
	}

	roots := tree.RootDevices()
	if len(roots) == 0 {
		return nil, 0, upnperr.New(upnperr.KindMalformedMessage, "device description declares no root device")
	}
	return tree, roots[0], nil
}

func (r *Registry) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, upnperr.Wrap(upnperr.KindInternal, "build GET request", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, upnperr.Wrap(upnperr.KindTransportError, "GET "+url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, upnperr.New(upnperr.KindResourceNotFound, "GET "+url+" returned "+resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, upnperr.Wrap(upnperr.KindTransportError, "read response body from "+url, err)
	}
	return body, nil
}

func (r *Registry) emit(evt Event) {
	if r.onEvent != nil {
		r.onEvent(evt)
	}
}
