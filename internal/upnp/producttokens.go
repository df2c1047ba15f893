package upnp

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/upnpgo/upnp/internal/upnperr"
)

// ProductTokens is the three-token SERVER/USER-AGENT header value UDA
// defines: an OS token, a UPnP version token, and a product token, e.g.
// "Linux/5.15 UPnP/1.1 upnpgo/1.0".
type ProductTokens struct {
	OSToken      string
	UPnPToken    string // "UPnP/1.0" or "UPnP/1.1"
	ProductToken string
}

var upnpTokenPattern = regexp.MustCompile(`^UPnP/1\.[01]$`)

// String renders the header value.
func (p ProductTokens) String() string {
	return fmt.Sprintf("%s %s %s", p.OSToken, p.UPnPToken, p.ProductToken)
}

// Minor returns 0 or 1 for UPnP/1.0 and UPnP/1.1 respectively, or -1 if the
// UPnP token is not set/valid.
func (p ProductTokens) Minor() int {
	if !upnpTokenPattern.MatchString(p.UPnPToken) {
		return -1
	}
	if strings.HasSuffix(p.UPnPToken, "1.1") {
		return 1
	}
	return 0
}

// ParseProductTokensStrict requires all three tokens to be present and the
// UPnP token to be well-formed. Used when composing an outbound
// advertisement, where this module controls every field.
func ParseProductTokensStrict(s string) (ProductTokens, error) {
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return ProductTokens{}, upnperr.New(upnperr.KindMalformedMessage, "product tokens require exactly 3 space-separated fields: "+s)
	}
	if !upnpTokenPattern.MatchString(fields[1]) {
		return ProductTokens{}, upnperr.New(upnperr.KindMalformedMessage, "middle product token must be UPnP/1.0 or UPnP/1.1: "+s)
	}
	return ProductTokens{OSToken: fields[0], UPnPToken: fields[1], ProductToken: fields[2]}, nil
}

// ParseProductTokensLax accepts any number of tokens as long as one of them
// is a well-formed UPnP version token, per UDA guidance that implementations
// should tolerate malformed OS/product tokens from other vendors. Used when
// decoding an inbound advertisement or SERVER header.
func ParseProductTokensLax(s string) (ProductTokens, error) {
	fields := strings.Fields(s)
	var pt ProductTokens
	found := false
	for i, f := range fields {
		if upnpTokenPattern.MatchString(f) {
			pt.UPnPToken = f
			if i > 0 {
				pt.OSToken = strings.Join(fields[:i], " ")
			}
			if i+1 < len(fields) {
				pt.ProductToken = strings.Join(fields[i+1:], " ")
			}
			found = true
			break
		}
	}
	if !found {
		return ProductTokens{}, upnperr.New(upnperr.KindMalformedMessage, "no UPnP/1.x token found in: "+s)
	}
	return pt, nil
}
