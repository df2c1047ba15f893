package upnp

import (
	"strings"

	"github.com/upnpgo/upnp/internal/upnperr"
)

// DiscoveryVariant tags the shape of a USN.
type DiscoveryVariant int

const (
	VariantUndefined DiscoveryVariant = iota
	VariantRootDevice
	VariantSpecificDevice
	VariantDeviceType
	VariantServiceType
)

// Discovery is the internal representation of a USN: a tagged variant plus
// optional UDN and ResourceType. It is the in-memory counterpart of the
// on-wire USN string.
type Discovery struct {
	Variant DiscoveryVariant
	UDN     string       // set for all variants except Undefined
	Type    ResourceType // set only for DeviceType/ServiceType
}

// RootDevice builds the "upnp:rootdevice" USN for a UDN.
func RootDevice(udn string) Discovery {
	return Discovery{Variant: VariantRootDevice, UDN: udn}
}

// SpecificDevice builds the bare-UDN USN.
func SpecificDevice(udn string) Discovery {
	return Discovery{Variant: VariantSpecificDevice, UDN: udn}
}

// DeviceType builds a device-type USN.
func DeviceType(rt ResourceType, udn string) Discovery {
	return Discovery{Variant: VariantDeviceType, UDN: udn, Type: rt}
}

// ServiceType builds a service-type USN.
func ServiceType(rt ResourceType, udn string) Discovery {
	return Discovery{Variant: VariantServiceType, UDN: udn, Type: rt}
}

// NT returns the Notification Type projection of this USN (the left-hand
// side one would find in an SSDP NT header), distinct from the full USN
// string only for RootDevice/DeviceType/ServiceType variants.
func (d Discovery) NT() string {
	switch d.Variant {
	case VariantRootDevice:
		return "upnp:rootdevice"
	case VariantSpecificDevice:
		return d.UDN
	case VariantDeviceType, VariantServiceType:
		return d.Type.String()
	default:
		return ""
	}
}

// USN renders the on-wire USN string for this discovery variant.
func (d Discovery) USN() string {
	switch d.Variant {
	case VariantRootDevice:
		return d.UDN + "::upnp:rootdevice"
	case VariantSpecificDevice:
		return d.UDN
	case VariantDeviceType, VariantServiceType:
		return d.UDN + "::" + d.Type.String()
	default:
		return ""
	}
}

// ParseUSN parses an on-wire USN string back into a Discovery. It requires
// the caller to already know whether this was an "upnp:rootdevice" NT (the
// wire format for a root-device USN is indistinguishable from a
// specific-device USN with a type suffix without that context), so ParseUSN
// takes the paired NT value, exactly as a decoder reading an SSDP message
// would have both fields available.
func ParseUSN(usn, nt string) (Discovery, error) {
	if usn == "" {
		return Discovery{}, upnperr.New(upnperr.KindMalformedMessage, "empty USN")
	}
	if nt == "upnp:rootdevice" {
		udn := strings.TrimSuffix(usn, "::upnp:rootdevice")
		if udn == usn || udn == "" {
			return Discovery{}, upnperr.New(upnperr.KindMalformedMessage, "malformed rootdevice USN: "+usn)
		}
		return RootDevice(udn), nil
	}

	if !strings.Contains(usn, "::") {
		// Bare UDN, e.g. "uuid:aaaa-bbbb-..."
		return SpecificDevice(usn), nil
	}

	idx := strings.Index(usn, "::")
	udn := usn[:idx]
	typeStr := usn[idx+2:]
	rt, err := ParseResourceType(typeStr)
	if err != nil {
		return Discovery{}, err
	}
	switch rt.Kind {
	case KindDevice:
		return DeviceType(rt, udn), nil
	case KindService:
		return ServiceType(rt, udn), nil
	default:
		return Discovery{}, upnperr.New(upnperr.KindMalformedMessage, "USN type must be device or service: "+usn)
	}
}

// MatchesSearchTarget reports whether an M-SEARCH ST string matches this
// advertised Discovery: "ssdp:all" matches everything,
// "upnp:rootdevice" matches only RootDevice USNs, and a device/service type
// matches by ResourceType equality with version downgrade.
func (d Discovery) MatchesSearchTarget(st string) (bool, error) {
	switch st {
	case "ssdp:all":
		return true, nil
	case "upnp:rootdevice":
		return d.Variant == VariantRootDevice, nil
	}
	if strings.HasPrefix(st, "uuid:") && !strings.Contains(st, "::") {
		return d.Variant == VariantSpecificDevice && d.UDN == st, nil
	}
	searchType, err := ParseResourceType(st)
	if err != nil {
		return false, err
	}
	switch d.Variant {
	case VariantDeviceType, VariantServiceType:
		return searchType.MatchesSearch(d.Type), nil
	default:
		return false, nil
	}
}
