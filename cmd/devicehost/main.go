// Command devicehost runs a sample UPnP device host: one BinaryLight root
// device with a single SwitchPower service, advertised over SSDP and
// controllable over SOAP/GENA, plus an operator-facing admin API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/upnpgo/upnp/internal/config"
	"github.com/upnpgo/upnp/internal/control"
	"github.com/upnpgo/upnp/internal/descriptions"
	"github.com/upnpgo/upnp/internal/gena"
	"github.com/upnpgo/upnp/internal/model"
	"github.com/upnpgo/upnp/internal/ssdp"
	"github.com/upnpgo/upnp/internal/store"
	"github.com/upnpgo/upnp/internal/transport"
	"github.com/upnpgo/upnp/internal/upnp"
	"github.com/upnpgo/upnp/internal/version"
	"github.com/upnpgo/upnp/internal/web"
)

// sampleUDN is fixed (rather than minted fresh on every run) so that
// bootIDStore.Next demonstrates its increment-across-restarts behaviour.
const sampleUDN = "uuid:3b6b0a1e-7e8a-4f2a-9b1d-0c6f1f6a2b10"

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
		dbPath = "devicehost.db"
	}
	db, err := store.New(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	bootIDStore := store.NewBootIDStore(db)
	bootID, err := bootIDStore.Next(sampleUDN)
	if err != nil {
		slog.Error("failed to mint boot id", "error", err)
		os.Exit(1)
	}

	tree, root, svcIdx, err := buildSampleTree()
	if err != nil {
		slog.Error("failed to build device tree", "error", err)
		os.Exit(1)
	}

	ln, err := net.Listen("tcp", cfg.BindAddress)
	if err != nil {
		slog.Error("failed to open transport listener", "error", err)
		os.Exit(1)
	}
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		slog.Error("failed to determine bound port", "error", err)
		os.Exit(1)
	}

	hostIP, err := localIPv4()
	if err != nil {
		slog.Error("failed to determine advertisable address", "error", err)
		os.Exit(1)
	}

	locationURL := func() string {
		return fmt.Sprintf("http://%s:%s/description.xml", hostIP, portStr)
	}

	descBytes, err := descriptions.EncodeDeviceDescription(tree, root)
	if err != nil {
		slog.Error("failed to encode device description", "error", err)
		os.Exit(1)
	}

	svc, err := tree.Service(svcIdx)
	if err != nil {
		slog.Error("failed to fetch service", "error", err)
		os.Exit(1)
	}
	scpdBytes, err := descriptions.EncodeSCPD(svc.Actions, svc.StateVariables)
	if err != nil {
		slog.Error("failed to encode SCPD", "error", err)
		os.Exit(1)
	}

	table := gena.NewTable()
	client := transport.NewClient(logger)
	sender := gena.NewSender(client, logger)
	hostHandler := gena.NewHostHandler(tree, table, sender)

	controlHandler := func(svc model.Service, action model.Action, args map[string]string) ([]model.ArgumentValue, error) {
		switch action.Name {
		case "SetTarget":
			newVal := args["newTargetValue"]
			if err := tree.SetStateVariable(svcIdx, "Target", newVal); err != nil {
				return nil, err
			}
			if err := tree.SetStateVariable(svcIdx, "Status", newVal); err != nil {
				return nil, err
			}
			updated, err := tree.Service(svcIdx)
			if err != nil {
				return nil, err
			}
			statusVar, ok := updated.FindStateVariable("Status")
			if !ok {
				return nil, fmt.Errorf("service missing Status state variable")
			}
			for _, sub := range table.SubscriptionsFor(svcIdx) {
				sender.NotifyChange(sub, *statusVar, newVal)
			}
			return nil, nil
		case "GetStatus":
			current, err := tree.Service(svcIdx)
			if err != nil {
				return nil, err
			}
			statusVar, ok := current.FindStateVariable("Status")
			if !ok {
				return nil, fmt.Errorf("service missing Status state variable")
			}
			return []model.ArgumentValue{{Name: "ResultStatus", Value: statusVar.Current}}, nil
		default:
			return nil, fmt.Errorf("unknown action: %s", action.Name)
		}
	}
	dispatcher := control.NewDispatcher(tree, controlHandler, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /description.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		w.Write(descBytes)
	})
	mux.HandleFunc("GET /SwitchPower/scpd.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		w.Write(scpdBytes)
	})
	mux.Handle("POST /SwitchPower/Control", dispatcher)
	mux.Handle("SUBSCRIBE /SwitchPower/Event", hostHandler)
	mux.Handle("UNSUBSCRIBE /SwitchPower/Event", hostHandler)

	transportServer, err := transport.NewServer(ln, mux, cfg.WorkerPoolSize, logger)
	if err != nil {
		slog.Error("failed to build transport server", "error", err)
		os.Exit(1)
	}
	transportServer.IdleTimeout = cfg.HTTPIdleTimeout

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := transportServer.Serve(ctx); err != nil {
			logger.Error("transport server stopped", "error", err)
		}
	}()

	advertiserConn, err := ssdp.OpenUnicastSocket(0)
	if err != nil {
		slog.Error("failed to open advertisement socket", "error", err)
		os.Exit(1)
	}
	udpSender := ssdp.MulticastSender{Conn: advertiserConn}

	serverTokens := upnp.ProductTokens{
		OSToken:      runtime.GOOS + "/1.0",
		UPnPToken:    "UPnP/1.1",
		ProductToken: "upnpgo/" + version.Short(),
	}

	advertiser := ssdp.NewAdvertiser(udpSender, logger)
	advertiser.Location = locationURL
	advertiser.Server = serverTokens
	advertiser.MaxAge = cfg.AdvertisementMaxAge
	advertiser.BootID = bootID
	advertiser.ConfigID = 1

	if err := advertiser.AdvertiseAlive(ctx, tree); err != nil {
		logger.Warn("initial advertise failed", "error", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(advertiser.NextReadvertiseInterval()):
				if err := advertiser.AdvertiseAlive(ctx, tree); err != nil {
					logger.Warn("periodic re-advertise failed", "error", err)
				}
			}
		}
	}()

	multicastConn, err := ssdp.OpenMulticastReceiver(nil)
	if err != nil {
		slog.Error("failed to join SSDP multicast group", "error", err)
		os.Exit(1)
	}

	go runSearchListener(ctx, multicastConn, tree, locationURL, serverTokens, cfg, bootID, logger)

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				table.ExpireOlderThan(time.Now())
			}
		}
	}()

	adminHandler := web.NewAdminHandler(tree, table, advertiser, logger)
	adminServer := &http.Server{
		Addr:    cfg.AdminBindAddress,
		Handler: adminHandler.Routes(),
	}
	go func() {
		logger.Info("starting admin API", "address", cfg.AdminBindAddress)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server error", "error", err)
		}
	}()

	logger.Info("device host started",
		"version", version.Short(),
		"location", locationURL(),
		"boot_id", bootID,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down device host")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := advertiser.AdvertiseByebye(shutdownCtx, tree); err != nil {
		logger.Warn("byebye advertise failed", "error", err)
	}

	cancel()
	transportServer.Close()
	transportServer.Wait()
	adminServer.Shutdown(shutdownCtx)
	multicastConn.Close()
	advertiserConn.Close()

	logger.Info("device host stopped")
}

func buildSampleTree() (*model.Tree, model.DeviceIndex, model.ServiceIndex, error) {
	deviceType, err := upnp.ParseResourceType("urn:schemas-upnp-org:device:BinaryLight:1")
	if err != nil {
		return nil, 0, 0, err
	}
	serviceType, err := upnp.ParseResourceType("urn:schemas-upnp-org:service:SwitchPower:1")
	if err != nil {
		return nil, 0, 0, err
	}

	tree := model.NewTree()
	root := tree.AddDevice(model.Device{
		UDN:          sampleUDN,
		FriendlyName: "Example Binary Light",
		Manufacturer: "upnpgo",
		ModelName:    "Sample BinaryLight",
		DeviceType:   deviceType,
		Parent:       model.NoParent,
		ConfigID:     1,
	})
	svcIdx := tree.AddService(model.Service{
		Owner:       root,
		ServiceID:   "urn:upnp-org:serviceId:SwitchPower:1",
		ServiceType: serviceType,
		SCPDURL:     "/SwitchPower/scpd.xml",
		ControlURL:  "/SwitchPower/Control",
		EventSubURL: "/SwitchPower/Event",
		ConfigID:    1,
		StateVariables: []model.StateVariable{
			{Name: "Target", DataType: "boolean", Current: "0"},
			{Name: "Status", DataType: "boolean", Evented: model.EventedYes, Current: "0"},
		},
		Actions: []model.Action{
			{
				Name:   "SetTarget",
				InArgs: []model.Argument{{Name: "newTargetValue", RelatedStateVariable: "Target"}},
			},
			{
				Name:    "GetStatus",
				OutArgs: []model.Argument{{Name: "ResultStatus", RelatedStateVariable: "Status"}},
			},
		},
	})
	return tree, root, svcIdx, nil
}

// unicastSender adapts a shared outbound socket into an ssdp.UDPSender
// targeting one specific address, needed because SearchResponder replies
// to the requester rather than the multicast group.
type unicastSender struct {
	conn *net.UDPConn
	addr *net.UDPAddr
}

func (u unicastSender) Send(data []byte) error {
	_, err := u.conn.WriteToUDP(data, u.addr)
	return err
}

func runSearchListener(ctx context.Context, conn *net.UDPConn, tree *model.Tree, location func() string, tokens upnp.ProductTokens, cfg *config.Config, bootID int, logger *slog.Logger) {
	buf := make([]byte, ssdp.MaxDatagramSize)
	replyConn, err := ssdp.OpenUnicastSocket(0)
	if err != nil {
		logger.Error("failed to open search-reply socket", "error", err)
		return
	}
	defer replyConn.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(time.Second))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			logger.Debug("multicast receive error", "error", err)
			continue
		}

		msg, err := ssdp.Decode(buf[:n])
		if err != nil || msg.Type != ssdp.TypeSearch {
			continue
		}

		reqFrom := from
		reqMsg := msg
		go func() {
			responder := ssdp.NewSearchResponder(unicastSender{conn: replyConn, addr: reqFrom}, logger)
			responder.Location = location
			responder.Server = tokens
			responder.MaxAge = cfg.AdvertisementMaxAge
			responder.BootID = bootID
			responder.ConfigID = 1
			if err := responder.HandleSearch(ctx, reqMsg, tree); err != nil {
				logger.Debug("search handling failed", "error", err)
			}
		}()
	}
}

func localIPv4() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		return ip4.String(), nil
	}
	return "127.0.0.1", nil
}
