package upnp

import (
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/upnpgo/upnp/internal/upnperr"
)

// NewUDN mints a fresh UDN, in the "uuid:<uuid>" wire form, using
// github.com/google/uuid.
func NewUDN() string {
	return newUUIDString()
}

// NewSID mints a fresh GENA subscription identifier. SIDs and UDNs share
// the same "uuid:<uuid>" wire form but are minted for
// distinct purposes, so callers use the name matching their role.
func NewSID() string {
	return newUUIDString()
}

func newUUIDString() string {
	return "uuid:" + uuid.NewString()
}

// ValidateUDN checks the syntactic form of a UDN string (the rule: "a UUID
// uniquely identifying a device across boots").
func ValidateUDN(udn string) error {
	return validateUUIDForm(udn, "UDN")
}

// ValidateSID checks the syntactic form of a GENA SID string.
func ValidateSID(sid string) error {
	return validateUUIDForm(sid, "SID")
}

func validateUUIDForm(s, label string) error {
	const prefix = "uuid:"
	if !strings.HasPrefix(s, prefix) {
		return upnperr.New(upnperr.KindMalformedMessage, label+" must start with uuid:: "+s)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(s, prefix)); err != nil {
		return upnperr.Wrap(upnperr.KindMalformedMessage, label+" is not a valid UUID: "+s, err)
	}
	return nil
}

// Endpoint is an IPv4 address plus a UDP/TCP port; this module deliberately
// supports IPv4 only.
type Endpoint struct {
	IP   net.IP
	Port uint16
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.IP.String(), portString(e.Port))
}

func portString(p uint16) string {
	const digits = "0123456789"
	if p == 0 {
		return "0"
	}
	buf := make([]byte, 0, 5)
	for p > 0 {
		buf = append([]byte{digits[p%10]}, buf...)
		p /= 10
	}
	return string(buf)
}

// ParseEndpoint parses a "host:port" string into an Endpoint, rejecting
// non-IPv4 hosts.
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, upnperr.Wrap(upnperr.KindMalformedMessage, "invalid endpoint: "+s, err)
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return Endpoint{}, upnperr.New(upnperr.KindMalformedMessage, "endpoint host must be an IPv4 address: "+s)
	}
	port, err := parsePort(portStr)
	if err != nil {
		return Endpoint{}, err
	}
	return Endpoint{IP: ip.To4(), Port: port}, nil
}

func parsePort(s string) (uint16, error) {
	var v int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, upnperr.New(upnperr.KindMalformedMessage, "invalid port: "+s)
		}
		v = v*10 + int(c-'0')
		if v > 65535 {
			return 0, upnperr.New(upnperr.KindMalformedMessage, "port out of range: "+s)
		}
	}
	return uint16(v), nil
}
