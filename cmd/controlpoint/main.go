// Command controlpoint runs a sample UPnP control point: it discovers
// devices over SSDP, maintains a registry of their parsed description
// trees, persists them across restarts, and logs every GENA event it
// receives for subscriptions it holds.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mattn/go-isatty"

	"github.com/upnpgo/upnp/internal/config"
	"github.com/upnpgo/upnp/internal/control"
	"github.com/upnpgo/upnp/internal/descriptions"
	"github.com/upnpgo/upnp/internal/gena"
	"github.com/upnpgo/upnp/internal/model"
	"github.com/upnpgo/upnp/internal/registry"
	"github.com/upnpgo/upnp/internal/ssdp"
	"github.com/upnpgo/upnp/internal/store"
	"github.com/upnpgo/upnp/internal/transport"
	"github.com/upnpgo/upnp/internal/upnp"
	"github.com/upnpgo/upnp/internal/version"
	"github.com/upnpgo/upnp/internal/web"
)

// switchPowerServiceType is the sample service this control point knows
// how to poll automatically when it discovers one: the same
// urn:schemas-upnp-org:service:SwitchPower:1 cmd/devicehost exposes.
const switchPowerServiceType = "urn:schemas-upnp-org:service:SwitchPower:1"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if isatty.IsTerminal(os.Stdout.Fd()) {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	dbPath := os.Getenv("UPNP_DB_PATH")
	if dbPath == "" {
		dbPath = "controlpoint.db"
	}
	db, err := store.New(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cache := store.NewRemoteDeviceCache(db)
	httpClient := transport.NewClient(logger)
	controlProxy := control.NewProxy(httpClient)
	cp := newControlPointState(cache, controlProxy, logger)
	cp.loadFromCache()

	genaProxy := gena.NewProxy(httpClient, logger, func(sid string, props []gena.Property) {
		for _, p := range props {
			logger.Info("gena event", "sid", sid, "variable", p.Name, "value", p.Value)
		}
	})

	reg, err := registry.New(func(evt registry.Event) {
		cp.handleRegistryEvent(evt)
	}, cfg.WorkerPoolSize, logger)
	if err != nil {
		slog.Error("failed to build registry", "error", err)
		os.Exit(1)
	}
	defer reg.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mux := http.NewServeMux()
	mux.Handle("NOTIFY /notify", genaProxy)
	callbackServer := &http.Server{Addr: cfg.BindAddress, Handler: mux}
	go func() {
		logger.Info("starting GENA callback listener", "address", cfg.BindAddress)
		if err := callbackServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("callback server error", "error", err)
		}
	}()

	adminHandler := web.NewControlPointHandler(cp.snapshot, logger)
	adminServer := &http.Server{Addr: cfg.AdminBindAddress, Handler: adminHandler.Routes()}
	go func() {
		logger.Info("starting admin API", "address", cfg.AdminBindAddress)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server error", "error", err)
		}
	}()

	multicastConn, err := ssdp.OpenMulticastReceiver(nil)
	if err != nil {
		slog.Error("failed to join SSDP multicast group", "error", err)
		os.Exit(1)
	}

	searchSendConn, err := ssdp.OpenUnicastSocket(0)
	if err != nil {
		slog.Error("failed to open search socket", "error", err)
		os.Exit(1)
	}

	go runNotifyListener(ctx, multicastConn, cp, reg, logger)

	go func() {
		time.Sleep(time.Second) // let the multicast listener start before the first active search
		performDiscovery(ctx, ssdp.MulticastSender{Conn: searchSendConn}, cp, reg, logger)

		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				performDiscovery(ctx, ssdp.MulticastSender{Conn: searchSendConn}, cp, reg, logger)
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reg.ExpireStale(time.Now())
			}
		}
	}()

	logger.Info("control point started", "version", version.Short())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down control point")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	var result *multierror.Error
	if err := callbackServer.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("callback server shutdown: %w", err))
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("admin server shutdown: %w", err))
	}
	if err := multicastConn.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close multicast socket: %w", err))
	}
	if err := searchSendConn.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close search socket: %w", err))
	}
	if result.ErrorOrNil() != nil {
		logger.Error("errors during shutdown", "error", result.ErrorOrNil())
	}

	logger.Info("control point stopped")
}

// controlPointState tracks what this sample control point currently
// believes about the devices the registry has seen, and mirrors every
// fully-resolved device into the on-disk cache so a restart can serve
// cached results immediately while fresh discovery runs in the background.
type controlPointState struct {
	cache  *store.RemoteDeviceCache
	proxy  *control.Proxy
	logger *slog.Logger

	mu        sync.Mutex
	devices   map[string]web.DiscoveredDevice
	locations map[string]string
}

func newControlPointState(cache *store.RemoteDeviceCache, proxy *control.Proxy, logger *slog.Logger) *controlPointState {
	return &controlPointState{
		cache:     cache,
		proxy:     proxy,
		logger:    logger,
		devices:   make(map[string]web.DiscoveredDevice),
		locations: make(map[string]string),
	}
}

func (cp *controlPointState) loadFromCache() {
	cached, err := cp.cache.List()
	if err != nil {
		cp.logger.Warn("failed to load cached devices", "error", err)
		return
	}
	for _, d := range cached {
		tree, root, err := d.Rebuild()
		if err != nil {
			cp.logger.Warn("failed to rebuild cached device", "udn", d.UDN, "error", err)
			continue
		}
		dev, err := tree.Device(root)
		if err != nil {
			continue
		}
		cp.mu.Lock()
		cp.devices[d.UDN] = web.DiscoveredDevice{
			UDN:          d.UDN,
			FriendlyName: dev.FriendlyName,
			DeviceType:   dev.DeviceType.String(),
			Location:     d.Location,
			LastSeen:     d.CachedAt,
		}
		cp.locations[d.UDN] = d.Location
		cp.mu.Unlock()
	}
	cp.logger.Info("loaded cached devices", "count", len(cached))
}

func (cp *controlPointState) noteLocation(udn, location string) {
	cp.mu.Lock()
	cp.locations[udn] = location
	cp.mu.Unlock()
}

func (cp *controlPointState) handleRegistryEvent(evt registry.Event) {
	switch evt.Type {
	case registry.EventRootDeviceOnline, registry.EventRootDeviceUpdated:
		dev, err := evt.Tree.Device(evt.Root)
		if err != nil {
			cp.logger.Warn("registry event with unreadable root device", "udn", evt.UDN, "error", err)
			return
		}
		cp.mu.Lock()
		location := cp.locations[evt.UDN]
		cp.devices[evt.UDN] = web.DiscoveredDevice{
			UDN:          evt.UDN,
			FriendlyName: dev.FriendlyName,
			DeviceType:   dev.DeviceType.String(),
			Location:     location,
			LastSeen:     time.Now(),
		}
		cp.mu.Unlock()
		cp.logger.Info("device online", "udn", evt.UDN, "friendly_name", dev.FriendlyName, "event", evt.Type.String())
		cp.persist(evt.UDN, location)
		cp.pollSwitchPower(evt.Tree, dev)
	case registry.EventRootDeviceOffline, registry.EventDeviceInvalidated:
		cp.mu.Lock()
		delete(cp.devices, evt.UDN)
		cp.mu.Unlock()
		cp.logger.Info("device offline", "udn", evt.UDN, "event", evt.Type.String())
		if err := cp.cache.Delete(evt.UDN); err != nil {
			cp.logger.Warn("failed to evict cached device", "udn", evt.UDN, "error", err)
		}
	}
}

// pollSwitchPower demonstrates the control proxy end-to-end: if the newly
// discovered device exposes a SwitchPower service, it invokes GetStatus
// once and logs the result.
func (cp *controlPointState) pollSwitchPower(tree *model.Tree, dev model.Device) {
	cp.mu.Lock()
	location := cp.locations[dev.UDN]
	cp.mu.Unlock()
	if location == "" {
		return
	}

	for _, svcIdx := range dev.Services {
		svc, err := tree.Service(svcIdx)
		if err != nil || svc.ServiceType.String() != switchPowerServiceType {
			continue
		}
		action, ok := svc.FindAction("GetStatus")
		if !ok {
			return
		}
		controlURL, err := resolveAbsoluteURL(location, svc.ControlURL)
		if err != nil {
			cp.logger.Warn("failed to resolve control URL", "service", svc.ServiceID, "error", err)
			return
		}
		go func(svc model.Service, action model.Action, controlURL string) {
			ctx, cancel := context.WithTimeout(context.Background(), registry.FetchTimeout)
			defer cancel()
			out, err := cp.proxy.Invoke(ctx, svc, action, controlURL, nil, nil)
			if err != nil {
				cp.logger.Warn("GetStatus invocation failed", "service", svc.ServiceID, "error", err)
				return
			}
			for _, arg := range out {
				cp.logger.Info("GetStatus result", "service", svc.ServiceID, "argument", arg.Name, "value", arg.Value)
			}
		}(svc, *action, controlURL)
		return
	}
}

// resolveAbsoluteURL combines a device's description Location with a
// path resolved relative to it (descriptions.ParseDeviceDescription stores
// ControlURL/EventSubURL as request paths, not absolute URLs; SCPDURL is
// stored absolute and comes back unchanged).
func resolveAbsoluteURL(location, path string) (string, error) {
	base, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// persist re-fetches location's raw description and SCPD documents (the
// registry itself discards them once parsed into a model.Tree) so the
// on-disk cache can rebuild the tree offline later, the way
// store.CachedDevice.Rebuild expects.
func (cp *controlPointState) persist(udn, location string) {
	if location == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), registry.FetchTimeout)
	defer cancel()

	descBytes, err := fetchBytes(ctx, location)
	if err != nil {
		cp.logger.Warn("failed to fetch description for caching", "udn", udn, "error", err)
		return
	}
	_, pending, err := descriptions.ParseDeviceDescription(descBytes, location)
	if err != nil {
		cp.logger.Warn("failed to parse description for caching", "udn", udn, "error", err)
		return
	}

	scpds := make(map[string][]byte, len(pending))
	for _, p := range pending {
		data, err := fetchBytes(ctx, p.SCPDURL)
		if err != nil {
			cp.logger.Warn("failed to fetch SCPD for caching", "udn", udn, "url", p.SCPDURL, "error", err)
			return
		}
		scpds[p.SCPDURL] = data
	}

	err = cp.cache.Upsert(&store.CachedDevice{
		UDN:            udn,
		Location:       location,
		DescriptionXML: descBytes,
		SCPDDocuments:  scpds,
		CachedAt:       time.Now(),
	})
	if err != nil {
		cp.logger.Warn("failed to persist cached device", "udn", udn, "error", err)
	}
}

func (cp *controlPointState) snapshot() []web.DiscoveredDevice {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	out := make([]web.DiscoveredDevice, 0, len(cp.devices))
	for _, d := range cp.devices {
		out = append(out, d)
	}
	return out
}

func fetchBytes(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// runNotifyListener reads SSDP NOTIFY traffic off the multicast group and
// feeds it to the registry, keeping the cache current between active
// searches.
func runNotifyListener(ctx context.Context, conn *net.UDPConn, cp *controlPointState, reg *registry.Registry, logger *slog.Logger) {
	buf := make([]byte, ssdp.MaxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			logger.Debug("multicast receive error", "error", err)
			continue
		}

		msg, err := ssdp.Decode(buf[:n])
		if err != nil {
			continue
		}

		switch msg.Type {
		case ssdp.TypeAdvertiseAlive:
			if d, err := upnp.ParseUSN(msg.USN, msg.NT); err == nil && msg.Location != "" {
				cp.noteLocation(d.UDN, msg.Location)
			}
			reg.HandleAlive(ctx, msg)
		case ssdp.TypeAdvertiseUpdate:
			if d, err := upnp.ParseUSN(msg.USN, msg.NT); err == nil && msg.Location != "" {
				cp.noteLocation(d.UDN, msg.Location)
			}
			reg.HandleUpdate(ctx, msg)
		case ssdp.TypeAdvertiseByebye:
			reg.HandleByebye(msg)
		}
	}
}

// performDiscovery actively searches for root devices and feeds every
// response into the registry as if it were an ssdp:alive NOTIFY, since a
// search response carries the same USN/LOCATION information.
func performDiscovery(ctx context.Context, sendConn ssdp.UDPSender, cp *controlPointState, reg *registry.Registry, logger *slog.Logger) {
	recvConn, err := ssdp.OpenUnicastSocket(0)
	if err != nil {
		logger.Warn("failed to open search response socket", "error", err)
		return
	}
	defer recvConn.Close()

	client := ssdp.NewSearchClient(sendConn, recvConn)
	responses, err := client.Search(ctx, 5, "upnp:rootdevice")
	if err != nil {
		logger.Warn("active search failed", "error", err)
		return
	}

	for _, resp := range responses {
		alive := ssdp.Message{
			Type:               ssdp.TypeAdvertiseAlive,
			Location:           resp.Message.Location,
			NT:                 resp.Message.ST,
			USN:                resp.Message.USN,
			CacheControlMaxAge: resp.Message.CacheControlMaxAge,
			BootID:             resp.Message.BootID,
			ConfigID:           resp.Message.ConfigID,
			Server:             resp.Message.Server,
		}
		if d, err := upnp.ParseUSN(alive.USN, alive.NT); err == nil && alive.Location != "" {
			cp.noteLocation(d.UDN, alive.Location)
		}
		reg.HandleAlive(ctx, alive)
	}
	logger.Debug("active search completed", "responses", len(responses))
}
