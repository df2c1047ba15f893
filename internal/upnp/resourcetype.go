// Package upnp holds the small, dependency-free identifiers that every
// other package in this module shares: resource types, UDNs, USNs/discovery
// types, and product tokens. None of it speaks a wire protocol; the codecs
// for that live in internal/ssdp and internal/soapcodec.
package upnp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/upnpgo/upnp/internal/upnperr"
)

// Kind distinguishes a device resource type from a service resource type.
type Kind string

const (
	KindDevice  Kind = "device"
	KindService Kind = "service"
)

// ResourceType is a UPnP type identifier of the form
// scheme:domain:kind:name:version, e.g.
// urn:schemas-upnp-org:device:BinaryLight:1.
type ResourceType struct {
	Scheme  string // "urn" or "uuid"
	Domain  string
	Kind    Kind
	Name    string
	Version int
}

// ParseResourceType parses a colon-delimited resource type string.
func ParseResourceType(s string) (ResourceType, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 5 {
		return ResourceType{}, upnperr.New(upnperr.KindMalformedMessage, "resource type must have 5 colon-delimited fields: "+s)
	}
	scheme, domain, kind, name, versionStr := parts[0], parts[1], parts[2], parts[3], parts[4]
	if scheme != "urn" && scheme != "uuid" {
		return ResourceType{}, upnperr.New(upnperr.KindMalformedMessage, "resource type scheme must be urn or uuid: "+s)
	}
	if kind != string(KindDevice) && kind != string(KindService) {
		return ResourceType{}, upnperr.New(upnperr.KindMalformedMessage, "resource type kind must be device or service: "+s)
	}
	version, err := strconv.Atoi(versionStr)
	if err != nil || version <= 0 {
		return ResourceType{}, upnperr.New(upnperr.KindMalformedMessage, "resource type version must be a positive integer: "+s)
	}
	return ResourceType{
		Scheme:  scheme,
		Domain:  domain,
		Kind:    Kind(kind),
		Name:    name,
		Version: version,
	}, nil
}

// String renders the canonical wire form.
func (r ResourceType) String() string {
	return fmt.Sprintf("%s:%s:%s:%s:%d", r.Scheme, r.Domain, r.Kind, r.Name, r.Version)
}

// sameType reports whether r and other name the same scheme/domain/kind/name,
// ignoring version. Equality on these fields is case-sensitive.
func (r ResourceType) sameType(other ResourceType) bool {
	return r.Scheme == other.Scheme &&
		r.Domain == other.Domain &&
		r.Kind == other.Kind &&
		r.Name == other.Name
}

// Equal reports exact equality, version included.
func (r ResourceType) Equal(other ResourceType) bool {
	return r.sameType(other) && r.Version == other.Version
}

// MatchesSearch reports whether an M-SEARCH for type `st` (this ResourceType
// used as the search target) matches an advertised resource type `advertised`,
// applying UDA's version-downgrade rule: a device/service of version v is a
// valid response to a search for any version w <= v of the same type.
func (st ResourceType) MatchesSearch(advertised ResourceType) bool {
	return st.sameType(advertised) && advertised.Version >= st.Version
}
