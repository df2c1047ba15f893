package gena

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/upnpgo/upnp/internal/model"
	"github.com/upnpgo/upnp/internal/transport"
	"github.com/upnpgo/upnp/internal/upnp"
)

func buildSwitchPowerTree(t *testing.T) (*model.Tree, model.ServiceIndex) {
	t.Helper()
	deviceType, err := upnp.ParseResourceType("urn:schemas-upnp-org:device:BinaryLight:1")
	if err != nil {
		t.Fatalf("ParseResourceType: %v", err)
	}
	serviceType, err := upnp.ParseResourceType("urn:schemas-upnp-org:service:SwitchPower:1")
	if err != nil {
		t.Fatalf("ParseResourceType: %v", err)
	}

	tree := model.NewTree()
	root := tree.AddDevice(model.Device{UDN: upnp.NewUDN(), DeviceType: deviceType, Parent: model.NoParent})
	svc := tree.AddService(model.Service{
		Owner:       root,
		ServiceID:   "urn:upnp-org:serviceId:SwitchPower:1",
		ServiceType: serviceType,
		EventSubURL: "/SwitchPower/Event",
		StateVariables: []model.StateVariable{
			{Name: "Status", DataType: "boolean", Evented: model.EventedYes, Current: "0"},
		},
	})
	return tree, svc
}

func TestHostHandlerSubscribeReturnsSIDAndDeliversInitialEvent(t *testing.T) {
	cbSrv, received := startCallbackServer(t)
	tree, _ := buildSwitchPowerTree(t)

	client := transport.NewClient(nil)
	t.Cleanup(func() { client.Close() })
	table := NewTable()
	sender := NewSender(client, nil)
	handler := NewHostHandler(tree, table, sender)

	req := httptest.NewRequest("SUBSCRIBE", "/SwitchPower/Event", nil)
	req.Header.Set("NT", NTEvent)
	req.Header.Set("CALLBACK", "<"+cbSrv.URL+"/cb>")
	req.Header.Set("TIMEOUT", "Second-1800")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	sid := rec.Header().Get("SID")
	if err := upnp.ValidateSID(sid); err != nil {
		t.Fatalf("invalid SID in response: %v", err)
	}
	if rec.Header().Get("TIMEOUT") != "Second-1800" {
		t.Fatalf("TIMEOUT = %q", rec.Header().Get("TIMEOUT"))
	}

	got := waitForCount(t, received, 1)
	if got[0].seq != "0" {
		t.Fatalf("initial event SEQ = %q, want \"0\"", got[0].seq)
	}
}

func TestHostHandlerSubscribeRejectsUnknownEventSubURL(t *testing.T) {
	tree, _ := buildSwitchPowerTree(t)
	client := transport.NewClient(nil)
	t.Cleanup(func() { client.Close() })
	handler := NewHostHandler(tree, NewTable(), NewSender(client, nil))

	req := httptest.NewRequest("SUBSCRIBE", "/nonexistent", nil)
	req.Header.Set("NT", NTEvent)
	req.Header.Set("CALLBACK", "<http://10.0.0.5/cb>")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHostHandlerUnsubscribeUnknownSIDReturns412(t *testing.T) {
	tree, _ := buildSwitchPowerTree(t)
	client := transport.NewClient(nil)
	t.Cleanup(func() { client.Close() })
	handler := NewHostHandler(tree, NewTable(), NewSender(client, nil))

	req := httptest.NewRequest("UNSUBSCRIBE", "/SwitchPower/Event", nil)
	req.Header.Set("SID", "uuid:66666666-6666-6666-6666-666666666666")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("status = %d, want 412", rec.Code)
	}
}
