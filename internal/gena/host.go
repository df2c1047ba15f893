package gena

import (
	"net/http"
	"strings"

	"github.com/upnpgo/upnp/internal/model"
	"github.com/upnpgo/upnp/internal/upnperr"
)

// HostHandler serves the host-side SUBSCRIBE/UNSUBSCRIBE methods, routing
// them to the GENA subscription table. One HostHandler serves every
// service in tree: it resolves the request path to a service via
// Tree.FindServiceByEventSubURL before touching the subscription table.
type HostHandler struct {
	Tree   *model.Tree
	Table  *Table
	Sender *Sender
}

// NewHostHandler builds a HostHandler over tree's services.
func NewHostHandler(tree *model.Tree, table *Table, sender *Sender) *HostHandler {
	return &HostHandler{Tree: tree, Table: table, Sender: sender}
}

func (h *HostHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "SUBSCRIBE":
		h.handleSubscribe(w, r)
	case "UNSUBSCRIBE":
		h.handleUnsubscribe(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HostHandler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	svcIdx, err := h.Tree.FindServiceByEventSubURL(r.URL.Path)
	if err != nil {
		http.Error(w, "no such subscription endpoint", http.StatusNotFound)
		return
	}

	req, err := ParseSubscribeRequest(r.Header)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var sub *Subscription
	if req.SID != "" {
		sub, err = h.Table.Renew(req.SID, req.Timeout, req.Infinite)
		if err != nil {
			writeGenaError(w, err)
			return
		}
	} else {
		sub = h.Table.Subscribe(svcIdx, req.Callbacks, req.Timeout, req.Infinite)
		h.Sender.StartDelivery(sub)
		svc, svcErr := h.Tree.Service(svcIdx)
		if svcErr == nil {
			h.Sender.SendInitialEvent(sub, svc.StateVariables)
		}
	}

	w.Header().Set("SID", sub.SID)
	w.Header().Set("TIMEOUT", FormatTimeout(sub.Timeout))
	w.WriteHeader(http.StatusOK)
}

func (h *HostHandler) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Tree.FindServiceByEventSubURL(r.URL.Path); err != nil {
		http.Error(w, "no such subscription endpoint", http.StatusNotFound)
		return
	}

	sid := strings.TrimSpace(r.Header.Get("SID"))
	if sid == "" {
		http.Error(w, "UNSUBSCRIBE requires SID", http.StatusBadRequest)
		return
	}

	if err := h.Table.Unsubscribe(sid); err != nil {
		writeGenaError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeGenaError(w http.ResponseWriter, err error) {
	if upnperr.Is(err, upnperr.KindPreconditionFailed) {
		http.Error(w, err.Error(), http.StatusPreconditionFailed)
		return
	}
	if upnperr.Is(err, upnperr.KindMalformedMessage) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
