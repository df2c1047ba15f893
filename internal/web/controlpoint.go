package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
)

// DiscoveredDevice is one entry the control point's admin API reports:
// enough to let an operator see what the registry currently holds without
// reaching into its private cache.
type DiscoveredDevice struct {
	UDN          string
	FriendlyName string
	DeviceType   string
	Location     string
	LastSeen     time.Time
}

// ControlPointHandler serves the control point sample's operator-facing
// side channel: a read-only view over whatever the registry currently has
// cached. It takes a plain function rather than the registry itself so
// cmd/controlpoint can decide how "currently known" is tracked (the
// registry itself exposes lookup by UDN, not enumeration).
type ControlPointHandler struct {
	ListDevices func() []DiscoveredDevice
	Logger      *slog.Logger
}

// NewControlPointHandler builds a ControlPointHandler.
func NewControlPointHandler(listDevices func() []DiscoveredDevice, logger *slog.Logger) *ControlPointHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ControlPointHandler{ListDevices: listDevices, Logger: logger}
}

// Routes mounts the control point admin API on a fresh chi.Router.
func (h *ControlPointHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(LoggingMiddleware(h.Logger))
	r.Get("/devices", h.handleListDevices)
	return r
}

type discoveredDeviceResponse struct {
	UDN          string `json:"udn"`
	FriendlyName string `json:"friendly_name"`
	DeviceType   string `json:"device_type"`
	Location     string `json:"location"`
	LastSeen     string `json:"last_seen"`
}

func (h *ControlPointHandler) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := h.ListDevices()
	out := make([]discoveredDeviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, discoveredDeviceResponse{
			UDN:          d.UDN,
			FriendlyName: d.FriendlyName,
			DeviceType:   d.DeviceType,
			Location:     d.Location,
			LastSeen:     humanize.Time(d.LastSeen),
		})
	}
	writeJSON(w, out)
}
