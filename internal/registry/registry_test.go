package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/upnpgo/upnp/internal/ssdp"
	"github.com/upnpgo/upnp/internal/upnp"
)

const testUDN = "uuid:aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"

const testDeviceDescription = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <specVersion><major>1</major><minor>0</minor></specVersion>
  <device>
    <deviceType>urn:schemas-upnp-org:device:BinaryLight:1</deviceType>
    <friendlyName>Example Binary Light</friendlyName>
    <manufacturer>Example Corp</manufacturer>
    <modelName>Lightbulb 3000</modelName>
    <UDN>` + testUDN + `</UDN>
    <serviceList>
      <service>
        <serviceType>urn:schemas-upnp-org:service:SwitchPower:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:SwitchPower:1</serviceId>
        <SCPDURL>/SwitchPower/scpd.xml</SCPDURL>
        <controlURL>/SwitchPower/Control</controlURL>
        <eventSubURL>/SwitchPower/Event</eventSubURL>
      </service>
    </serviceList>
  </device>
</root>`

const testSCPD = `<?xml version="1.0"?>
<scpd xmlns="urn:schemas-upnp-org:service-1-0">
  <actionList>
    <action>
      <name>SetTarget</name>
      <argumentList>
        <argument>
          <name>newTargetValue</name>
          <direction>in</direction>
          <relatedStateVariable>Target</relatedStateVariable>
        </argument>
      </argumentList>
    </action>
  </actionList>
  <serviceStateTable>
    <stateVariable sendEvents="no">
      <name>Target</name>
      <dataType>boolean</dataType>
      <defaultValue>0</defaultValue>
    </stateVariable>
    <stateVariable sendEvents="yes">
      <name>Status</name>
      <dataType>boolean</dataType>
      <defaultValue>0</defaultValue>
    </stateVariable>
  </serviceStateTable>
</scpd>`

func startDescriptionServer(t *testing.T, descriptionBody string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/description.xml"):
			w.Write([]byte(descriptionBody))
		case strings.HasSuffix(r.URL.Path, "/scpd.xml"):
			w.Write([]byte(testSCPD))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handle(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) waitFor(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		got := len(r.events)
		r.mu.Unlock()
		if got >= n {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func aliveMessage(location string, bootID, configID int) ssdp.Message {
	return ssdp.Message{
		Type:               ssdp.TypeAdvertiseAlive,
		NT:                 "upnp:rootdevice",
		USN:                upnp.RootDevice(testUDN).USN(),
		Location:           location,
		CacheControlMaxAge: 1800,
		BootID:             bootID,
		ConfigID:           configID,
		HaveBootID:         true,
	}
}

func TestHandleAliveUnknownUDNEmitsRootDeviceOnline(t *testing.T) {
	srv := startDescriptionServer(t, testDeviceDescription)
	rec := &eventRecorder{}
	reg, err := New(rec.handle, 4, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(reg.Close)

	reg.HandleAlive(context.Background(), aliveMessage(srv.URL+"/description.xml", 1, 1))

	events := rec.waitFor(t, 1)
	if len(events) != 1 || events[0].Type != EventRootDeviceOnline {
		t.Fatalf("events = %+v", events)
	}
	if events[0].UDN != testUDN {
		t.Fatalf("UDN = %q", events[0].UDN)
	}

	tree, _, ok := reg.Get(testUDN)
	if !ok || tree == nil {
		t.Fatal("expected cached tree after Online")
	}
}

func TestHandleAliveDuplicateBurstMemberIsIgnored(t *testing.T) {
	srv := startDescriptionServer(t, testDeviceDescription)
	rec := &eventRecorder{}
	reg, err := New(rec.handle, 4, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(reg.Close)

	msg := aliveMessage(srv.URL+"/description.xml", 1, 1)
	reg.HandleAlive(context.Background(), msg)
	rec.waitFor(t, 1)
	reg.HandleAlive(context.Background(), msg)
	reg.HandleAlive(context.Background(), msg)

	time.Sleep(50 * time.Millisecond)
	events := rec.waitFor(t, 1)
	if len(events) != 1 {
		t.Fatalf("expected the duplicate alives to be suppressed, got %d events", len(events))
	}
}

func TestHandleAliveRebootEmitsRootDeviceUpdated(t *testing.T) {
	srv := startDescriptionServer(t, testDeviceDescription)
	rec := &eventRecorder{}
	reg, err := New(rec.handle, 4, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(reg.Close)

	reg.HandleAlive(context.Background(), aliveMessage(srv.URL+"/description.xml", 1, 1))
	rec.waitFor(t, 1)

	reg.HandleAlive(context.Background(), aliveMessage(srv.URL+"/description.xml", 2, 1))
	events := rec.waitFor(t, 2)
	if len(events) != 2 || events[1].Type != EventRootDeviceUpdated {
		t.Fatalf("events = %+v", events)
	}
}

func TestHandleByebyeEvictsAndEmitsOffline(t *testing.T) {
	srv := startDescriptionServer(t, testDeviceDescription)
	rec := &eventRecorder{}
	reg, err := New(rec.handle, 4, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(reg.Close)

	reg.HandleAlive(context.Background(), aliveMessage(srv.URL+"/description.xml", 1, 1))
	rec.waitFor(t, 1)

	reg.HandleByebye(ssdp.Message{
		Type: ssdp.TypeAdvertiseByebye,
		NT:   "upnp:rootdevice",
		USN:  upnp.RootDevice(testUDN).USN(),
	})

	events := rec.waitFor(t, 2)
	if len(events) != 2 || events[1].Type != EventRootDeviceOffline {
		t.Fatalf("events = %+v", events)
	}
	if _, _, ok := reg.Get(testUDN); ok {
		t.Fatal("expected the entry to be evicted after byebye")
	}
}

func TestHandleAliveFetchFailureEmitsDeviceInvalidated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	rec := &eventRecorder{}
	reg, err := New(rec.handle, 4, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(reg.Close)

	reg.HandleAlive(context.Background(), aliveMessage(srv.URL+"/description.xml", 1, 1))

	events := rec.waitFor(t, 1)
	if len(events) != 1 || events[0].Type != EventDeviceInvalidated {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Err == nil {
		t.Fatal("expected a non-nil Err on DeviceInvalidated")
	}
	if _, _, ok := reg.Get(testUDN); ok {
		t.Fatal("a device that failed to fetch should not be cached")
	}
}

func TestHandleUpdateConfigIDChangeTriggersRefetch(t *testing.T) {
	srv := startDescriptionServer(t, testDeviceDescription)
	rec := &eventRecorder{}
	reg, err := New(rec.handle, 4, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(reg.Close)

	reg.HandleAlive(context.Background(), aliveMessage(srv.URL+"/description.xml", 1, 1))
	rec.waitFor(t, 1)

	reg.HandleUpdate(context.Background(), ssdp.Message{
		Type:       ssdp.TypeAdvertiseUpdate,
		NT:         "upnp:rootdevice",
		USN:        upnp.RootDevice(testUDN).USN(),
		Location:   srv.URL + "/description.xml",
		BootID:     1,
		ConfigID:   2,
		NextBootID: 1,
		HaveBootID: true,
	})

	events := rec.waitFor(t, 2)
	if len(events) != 2 || events[1].Type != EventRootDeviceUpdated {
		t.Fatalf("events = %+v", events)
	}
}

func TestHandleUpdateUnknownUDNIsIgnored(t *testing.T) {
	rec := &eventRecorder{}
	reg, err := New(rec.handle, 4, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(reg.Close)

	reg.HandleUpdate(context.Background(), ssdp.Message{
		Type:       ssdp.TypeAdvertiseUpdate,
		NT:         "upnp:rootdevice",
		USN:        upnp.RootDevice(testUDN).USN(),
		Location:   "http://example.invalid/description.xml",
		BootID:     1,
		ConfigID:   2,
		NextBootID: 1,
		HaveBootID: true,
	})

	time.Sleep(50 * time.Millisecond)
	if events := rec.waitFor(t, 0); len(events) != 0 {
		t.Fatalf("expected no events for an unknown UDN, got %+v", events)
	}
}

func TestExpireStaleEvictsLapsedEntryAndEmitsOffline(t *testing.T) {
	srv := startDescriptionServer(t, testDeviceDescription)
	rec := &eventRecorder{}
	reg, err := New(rec.handle, 4, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(reg.Close)

	start := time.Now()
	reg.now = func() time.Time { return start }

	reg.HandleAlive(context.Background(), aliveMessage(srv.URL+"/description.xml", 1, 1))
	rec.waitFor(t, 1)

	reg.ExpireStale(start.Add(1799 * time.Second))
	if _, _, ok := reg.Get(testUDN); !ok {
		t.Fatal("entry should still be cached before its max-age lapses")
	}

	reg.ExpireStale(start.Add(1800 * time.Second))
	events := rec.waitFor(t, 2)
	if len(events) != 2 || events[1].Type != EventRootDeviceOffline {
		t.Fatalf("events = %+v", events)
	}
	if _, _, ok := reg.Get(testUDN); ok {
		t.Fatal("expected the entry to be evicted once its max-age lapsed")
	}
}

func TestHandleAliveDuplicateExtendsExpiry(t *testing.T) {
	srv := startDescriptionServer(t, testDeviceDescription)
	rec := &eventRecorder{}
	reg, err := New(rec.handle, 4, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(reg.Close)

	start := time.Now()
	reg.now = func() time.Time { return start }

	msg := aliveMessage(srv.URL+"/description.xml", 1, 1)
	reg.HandleAlive(context.Background(), msg)
	rec.waitFor(t, 1)

	reg.now = func() time.Time { return start.Add(1700 * time.Second) }
	reg.HandleAlive(context.Background(), msg) // duplicate burst member, extends expiry

	reg.ExpireStale(start.Add(1800 * time.Second))
	if _, _, ok := reg.Get(testUDN); !ok {
		t.Fatal("duplicate alive should have extended the entry's expiry")
	}
}
