package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/upnpgo/upnp/internal/gena"
	"github.com/upnpgo/upnp/internal/model"
	"github.com/upnpgo/upnp/internal/ssdp"
)

// AdminHandler serves the device host's operator-facing side channel: list
// hosted devices, force a re-advertise, and show the live subscription
// table. It never touches the core SSDP/SOAP/GENA wire protocols
// directly — those stay behind internal/transport's custom
// connection-oriented server.
type AdminHandler struct {
	Tree       *model.Tree
	Table      *gena.Table
	Advertiser *ssdp.Advertiser
	Logger     *slog.Logger
}

// NewAdminHandler builds an AdminHandler over the given collaborators.
func NewAdminHandler(tree *model.Tree, table *gena.Table, advertiser *ssdp.Advertiser, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{Tree: tree, Table: table, Advertiser: advertiser, Logger: logger}
}

// Routes mounts the admin API on a fresh chi.Router.
func (h *AdminHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(LoggingMiddleware(h.Logger))
	r.Get("/devices", h.handleListDevices)
	r.Post("/devices/readvertise", h.handleReadvertise)
	r.Get("/subscriptions", h.handleListSubscriptions)
	return r
}

type deviceResponse struct {
	UDN          string           `json:"udn"`
	FriendlyName string           `json:"friendly_name"`
	DeviceType   string           `json:"device_type"`
	ConfigID     int              `json:"config_id"`
	Services     []serviceSummary `json:"services"`
	Embedded     []deviceResponse `json:"embedded,omitempty"`
}

type serviceSummary struct {
	ServiceID   string `json:"service_id"`
	ServiceType string `json:"service_type"`
	ControlURL  string `json:"control_url"`
	EventSubURL string `json:"event_sub_url"`
}

// handleListDevices reports every root device this host exposes, with
// embedded devices and services nested beneath it.
func (h *AdminHandler) handleListDevices(w http.ResponseWriter, r *http.Request) {
	var out []deviceResponse
	for _, idx := range h.Tree.RootDevices() {
		dev, err := h.buildDeviceResponse(idx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out = append(out, dev)
	}
	writeJSON(w, out)
}

func (h *AdminHandler) buildDeviceResponse(idx model.DeviceIndex) (deviceResponse, error) {
	dev, err := h.Tree.Device(idx)
	if err != nil {
		return deviceResponse{}, err
	}
	resp := deviceResponse{
		UDN:          dev.UDN,
		FriendlyName: dev.FriendlyName,
		DeviceType:   dev.DeviceType.String(),
		ConfigID:     dev.ConfigID,
	}
	for _, svcIdx := range dev.Services {
		svc, err := h.Tree.Service(svcIdx)
		if err != nil {
			return deviceResponse{}, err
		}
		resp.Services = append(resp.Services, serviceSummary{
			ServiceID:   svc.ServiceID,
			ServiceType: svc.ServiceType.String(),
			ControlURL:  svc.ControlURL,
			EventSubURL: svc.EventSubURL,
		})
	}
	for _, childIdx := range dev.Embedded {
		child, err := h.buildDeviceResponse(childIdx)
		if err != nil {
			return deviceResponse{}, err
		}
		resp.Embedded = append(resp.Embedded, child)
	}
	return resp, nil
}

// handleReadvertise triggers an out-of-schedule ssdp:alive burst for every
// USN this host advertises, returning immediately while the burst runs in
// the background (a full burst with inter-repeat jitter can take seconds).
func (h *AdminHandler) handleReadvertise(w http.ResponseWriter, r *http.Request) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := h.Advertiser.AdvertiseAlive(ctx, h.Tree); err != nil {
			h.Logger.Warn("admin-triggered readvertise failed", "error", err)
		}
	}()
	w.WriteHeader(http.StatusAccepted)
}

type subscriptionResponse struct {
	SID        string `json:"sid"`
	Service    int    `json:"service"`
	Callbacks  []string `json:"callbacks"`
	Timeout    int    `json:"timeout_seconds"`
	ExpiresIn  string `json:"expires_in"`
}

// handleListSubscriptions reports every live GENA subscription across
// every service this host exposes.
func (h *AdminHandler) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs := h.Table.All()
	out := make([]subscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, subscriptionResponse{
			SID:       sub.SID,
			Service:   int(sub.Service),
			Callbacks: sub.Callbacks,
			Timeout:   sub.Timeout,
			ExpiresIn: humanize.Time(sub.Expiry),
		})
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode response: "+err.Error(), http.StatusInternalServerError)
	}
}
