package model

import (
	"testing"

	"github.com/upnpgo/upnp/internal/upnp"
	"github.com/upnpgo/upnp/internal/upnperr"
)

func buildBinaryLightTree(t *testing.T) (*Tree, DeviceIndex, ServiceIndex) {
	t.Helper()
	deviceType, err := upnp.ParseResourceType("urn:schemas-upnp-org:device:BinaryLight:1")
	if err != nil {
		t.Fatalf("ParseResourceType(device): %v", err)
	}
	serviceType, err := upnp.ParseResourceType("urn:schemas-upnp-org:service:SwitchPower:1")
	if err != nil {
		t.Fatalf("ParseResourceType(service): %v", err)
	}

	tree := NewTree()
	root := tree.AddDevice(Device{
		UDN:          "uuid:aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee",
		FriendlyName: "Example Binary Light",
		DeviceType:   deviceType,
		Parent:       NoParent,
		ConfigID:     1,
	})
	svc := tree.AddService(Service{
		Owner:       root,
		ServiceID:   "urn:upnp-org:serviceId:SwitchPower:1",
		ServiceType: serviceType,
		ControlURL:  "/SwitchPower/Control",
		EventSubURL: "/SwitchPower/Event",
		ConfigID:    1,
		StateVariables: []StateVariable{
			{Name: "Target", DataType: "boolean", Evented: EventedNo},
			{Name: "Status", DataType: "boolean", Evented: EventedYes, Default: "0"},
		},
		Actions: []Action{
			{
				Name:    "SetTarget",
				InArgs:  []Argument{{Name: "newTargetValue", RelatedStateVariable: "Target"}},
				OutArgs: nil,
			},
			{
				Name:    "GetTarget",
				InArgs:  nil,
				OutArgs: []Argument{{Name: "RetTargetValue", RelatedStateVariable: "Target"}},
			},
		},
	})
	return tree, root, svc
}

func TestAdvertisedUSNsCoversRootDeviceTypeAndServiceType(t *testing.T) {
	tree, _, _ := buildBinaryLightTree(t)
	usns := tree.AdvertisedUSNs()

	var haveRoot, haveUDN, haveDeviceType, haveServiceType bool
	for _, d := range usns {
		switch d.Variant {
		case upnp.VariantRootDevice:
			haveRoot = true
		case upnp.VariantSpecificDevice:
			haveUDN = true
		case upnp.VariantDeviceType:
			haveDeviceType = true
		case upnp.VariantServiceType:
			haveServiceType = true
		}
	}
	if !haveRoot || !haveUDN || !haveDeviceType || !haveServiceType {
		t.Fatalf("AdvertisedUSNs() missing a variant: %+v", usns)
	}
	if len(usns) != 4 {
		t.Fatalf("len(AdvertisedUSNs()) = %d, want 4 for one root device with one service", len(usns))
	}
}

func TestFindServiceByControlURL(t *testing.T) {
	tree, _, svcIdx := buildBinaryLightTree(t)
	found, err := tree.FindServiceByControlURL("/SwitchPower/Control")
	if err != nil {
		t.Fatalf("FindServiceByControlURL: %v", err)
	}
	if found != svcIdx {
		t.Fatalf("found index %d, want %d", found, svcIdx)
	}
	if _, err := tree.FindServiceByControlURL("/nonexistent"); !upnperr.Is(err, upnperr.KindResourceNotFound) {
		t.Fatalf("expected ResourceNotFound, got %v", err)
	}
}

func TestValidateActionCoercesAndRejectsBadBoolean(t *testing.T) {
	tree, _, svcIdx := buildBinaryLightTree(t)
	svc, _ := tree.Service(svcIdx)
	action, _ := svc.FindAction("SetTarget")

	coerced, err := ValidateAction(svc, *action, []ArgumentValue{{Name: "newTargetValue", Value: "true"}})
	if err != nil {
		t.Fatalf("ValidateAction: %v", err)
	}
	if coerced["newTargetValue"] != "1" {
		t.Fatalf("coerced value = %q, want canonical \"1\"", coerced["newTargetValue"])
	}

	_, err = ValidateAction(svc, *action, []ArgumentValue{{Name: "newTargetValue", Value: "not-a-bool"}})
	if !upnperr.Is(err, upnperr.KindInvalidArgument) {
		t.Fatalf("expected InvalidArgument for malformed boolean, got %v", err)
	}
}

func TestValidateActionRejectsMissingArgument(t *testing.T) {
	tree, _, svcIdx := buildBinaryLightTree(t)
	svc, _ := tree.Service(svcIdx)
	action, _ := svc.FindAction("SetTarget")

	_, err := ValidateAction(svc, *action, nil)
	if !upnperr.Is(err, upnperr.KindInvalidArgument) {
		t.Fatalf("expected InvalidArgument for missing argument, got %v", err)
	}
}

func TestCoerceArgumentRejectsOutOfRange(t *testing.T) {
	sv := StateVariable{Name: "Brightness", DataType: "ui4", HasRange: true, Minimum: "0", Maximum: "100"}
	if _, err := CoerceArgument(sv, "150"); !upnperr.Is(err, upnperr.KindArgumentValueOutOfRange) {
		t.Fatalf("expected ArgumentValueOutOfRange for out-of-range value, got %v", err)
	}
	canonical, err := CoerceArgument(sv, "42")
	if err != nil {
		t.Fatalf("CoerceArgument: %v", err)
	}
	if canonical != "42" {
		t.Fatalf("canonical = %q", canonical)
	}
}

func TestCoerceArgumentRejectsValueOutsideAllowedList(t *testing.T) {
	sv := StateVariable{Name: "Mode", DataType: "string", AllowedValues: []string{"Auto", "Manual"}}
	if _, err := CoerceArgument(sv, "Bogus"); !upnperr.Is(err, upnperr.KindArgumentValueOutOfRange) {
		t.Fatalf("expected ArgumentValueOutOfRange, got %v", err)
	}
	if _, err := CoerceArgument(sv, "Auto"); err != nil {
		t.Fatalf("CoerceArgument(Auto): %v", err)
	}
}

func TestReconfigureBumpsRootAndChildren(t *testing.T) {
	tree, root, svcIdx := buildBinaryLightTree(t)
	if err := tree.Reconfigure(root, 2); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	d, _ := tree.Device(root)
	if d.ConfigID != 2 {
		t.Fatalf("device ConfigID = %d, want 2", d.ConfigID)
	}
	svc, _ := tree.Service(svcIdx)
	if svc.ConfigID != 2 {
		t.Fatalf("service ConfigID = %d, want 2", svc.ConfigID)
	}
}
