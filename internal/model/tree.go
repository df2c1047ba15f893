package model

import (
	"sync"

	"github.com/upnpgo/upnp/internal/upnp"
	"github.com/upnpgo/upnp/internal/upnperr"
)

// Tree is an arena-owned device/service tree: one Tree per hosted root
// device set (device host role) or per cached remote device (control
// point role). a Tree is mutated only from its owning
// event loop; the mutex here guards the rarer case of a concurrent read
// from a worker-pool goroutine serving a description request.
type Tree struct {
	mu       sync.RWMutex
	devices  []Device
	services []Service
}

// NewTree builds an empty Tree.
func NewTree() *Tree {
	return &Tree{}
}

// AddDevice appends a Device to the arena and returns its index. parent
// should be NoParent for a root device.
func (t *Tree) AddDevice(d Device) DeviceIndex {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := DeviceIndex(len(t.devices))
	t.devices = append(t.devices, d)
	if d.Parent != NoParent {
		t.devices[d.Parent].Embedded = append(t.devices[d.Parent].Embedded, idx)
	}
	return idx
}

// AddService appends a Service to the arena, linking it to its owning
// device, and returns its index.
func (t *Tree) AddService(s Service) ServiceIndex {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := ServiceIndex(len(t.services))
	t.services = append(t.services, s)
	t.devices[s.Owner].Services = append(t.devices[s.Owner].Services, idx)
	return idx
}

// Device returns a copy of the device at idx.
func (t *Tree) Device(idx DeviceIndex) (Device, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if idx < 0 || int(idx) >= len(t.devices) {
		return Device{}, upnperr.New(upnperr.KindResourceNotFound, "device index out of range")
	}
	return t.devices[idx], nil
}

// Service returns a copy of the service at idx.
func (t *Tree) Service(idx ServiceIndex) (Service, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if idx < 0 || int(idx) >= len(t.services) {
		return Service{}, upnperr.New(upnperr.KindResourceNotFound, "service index out of range")
	}
	return t.services[idx], nil
}

// RootDevices returns the indices of every device with no parent.
func (t *Tree) RootDevices() []DeviceIndex {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var roots []DeviceIndex
	for i, d := range t.devices {
		if d.IsRoot() {
			roots = append(roots, DeviceIndex(i))
		}
	}
	return roots
}

// FindServiceByControlURL returns the service whose ControlURL matches
// path, used by the control dispatcher to resolve an inbound POST.
func (t *Tree) FindServiceByControlURL(path string) (ServiceIndex, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i, s := range t.services {
		if s.ControlURL == path {
			return ServiceIndex(i), nil
		}
	}
	return 0, upnperr.New(upnperr.KindResourceNotFound, "no service with control URL: "+path)
}

// FindServiceByEventSubURL returns the service whose EventSubURL matches
// path, used by the GENA host side to resolve a SUBSCRIBE/UNSUBSCRIBE.
func (t *Tree) FindServiceByEventSubURL(path string) (ServiceIndex, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i, s := range t.services {
		if s.EventSubURL == path {
			return ServiceIndex(i), nil
		}
	}
	return 0, upnperr.New(upnperr.KindResourceNotFound, "no service with event sub URL: "+path)
}

// SetServiceSCPD attaches a service's parsed action list and state
// variable table, discovered from its SCPD document fetched separately
// from the owning device description (the rule: "The model is
// constructed from a parsed device description plus, per service, its
// SCPD").
func (t *Tree) SetServiceSCPD(idx ServiceIndex, actions []Action, vars []StateVariable) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(idx) < 0 || int(idx) >= len(t.services) {
		return upnperr.New(upnperr.KindResourceNotFound, "service index out of range")
	}
	t.services[idx].Actions = actions
	t.services[idx].StateVariables = vars
	return nil
}

// SetStateVariable updates a state variable's current value in place. The
// caller (the GENA engine, typically) is responsible for noticing the
// change and queuing a moderated event.
func (t *Tree) SetStateVariable(svc ServiceIndex, name, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(svc) < 0 || int(svc) >= len(t.services) {
		return upnperr.New(upnperr.KindResourceNotFound, "service index out of range")
	}
	sv, ok := t.services[svc].FindStateVariable(name)
	if !ok {
		return upnperr.New(upnperr.KindInvalidArgument, "unknown state variable: "+name)
	}
	sv.Current = value
	return nil
}

// Reconfigure bumps the ConfigID of root and, transitively, every embedded
// device and service beneath it, on the rule that a configuration change
// (embedded device added/removed) bumps configId.
// Devices whose subtree configId did not previously match root's are left
// untouched: a config bump only resynchronises nodes that shared root's
// prior configId, so a node already mid-upgrade isn't silently reset.
func (t *Tree) Reconfigure(root DeviceIndex, newConfigID int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(root) < 0 || int(root) >= len(t.devices) {
		return upnperr.New(upnperr.KindResourceNotFound, "device index out of range")
	}
	oldConfigID := t.devices[root].ConfigID
	t.reconfigureSubtree(root, oldConfigID, newConfigID)
	return nil
}

func (t *Tree) reconfigureSubtree(idx DeviceIndex, oldConfigID, newConfigID int) {
	d := &t.devices[idx]
	if d.ConfigID != oldConfigID {
		return
	}
	d.ConfigID = newConfigID
	for _, svcIdx := range d.Services {
		if t.services[svcIdx].ConfigID == oldConfigID {
			t.services[svcIdx].ConfigID = newConfigID
		}
	}
	for _, childIdx := range d.Embedded {
		t.reconfigureSubtree(childIdx, oldConfigID, newConfigID)
	}
}

// AdvertisedUSNs builds the ordered set of USNs requires for
// a full advertisement/byebye burst: one upnp:rootdevice USN per root, one
// bare-UDN USN and one device-type USN per device (root or embedded), and
// one service-type USN per service. It satisfies ssdp.USNSource structurally.
func (t *Tree) AdvertisedUSNs() []upnp.Discovery {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []upnp.Discovery
	for i, d := range t.devices {
		if d.IsRoot() {
			t.appendDeviceUSNs(&out, DeviceIndex(i), true)
		}
	}
	return out
}

func (t *Tree) appendDeviceUSNs(out *[]upnp.Discovery, idx DeviceIndex, isRoot bool) {
	d := t.devices[idx]
	if isRoot {
		*out = append(*out, upnp.RootDevice(d.UDN))
	}
	*out = append(*out, upnp.SpecificDevice(d.UDN))
	*out = append(*out, upnp.DeviceType(d.DeviceType, d.UDN))
	for _, svcIdx := range d.Services {
		s := t.services[svcIdx]
		*out = append(*out, upnp.ServiceType(s.ServiceType, d.UDN))
	}
	for _, childIdx := range d.Embedded {
		t.appendDeviceUSNs(out, childIdx, false)
	}
}
