package soapcodec

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/upnpgo/upnp/internal/upnperr"
)

// upnpErrorNS is the namespace UDA mandates for the <UPnPError> detail
// element carried inside a SOAP fault.
const upnpErrorNS = "urn:schemas-upnp-org:control-1-0"

// fault is the wire shape of a SOAP 1.1 Fault element carrying a UPnPError
// detail.
type fault struct {
	XMLName     xml.Name `xml:"Fault"`
	FaultCode   string   `xml:"faultcode"`
	FaultString string   `xml:"faultstring"`
	Detail      struct {
		UPnPError struct {
			ErrorCode        int    `xml:"errorCode"`
			ErrorDescription string `xml:"errorDescription"`
		} `xml:"UPnPError"`
	} `xml:"detail"`
}

func (f fault) toError() error {
	kind := upnperr.FromSoapFaultCode(f.Detail.UPnPError.ErrorCode)
	msg := f.Detail.UPnPError.ErrorDescription
	if msg == "" {
		msg = f.FaultString
	}
	return upnperr.New(kind, msg)
}

// EncodeFault serialises a SOAP 1.1 fault envelope carrying a UPnPError
// detail for the given code/description. The fault code/string pair
// ("Client"/"UPnPError") is the fixed value UDA mandates for every
// UPnPError fault regardless of the underlying errorCode.
func EncodeFault(errorCode int, errorDescription string) []byte {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	fmt.Fprintf(&buf, `<s:Envelope xmlns:s="%s" s:encodingStyle="%s"><s:Body><s:Fault>`+
		`<faultcode>s:Client</faultcode><faultstring>UPnPError</faultstring>`+
		`<detail><UPnPError xmlns="%s"><errorCode>%d</errorCode>`+
		`<errorDescription>%s</errorDescription></UPnPError></detail>`+
		`</s:Fault></s:Body></s:Envelope>`,
		envelopeNS, encodingURI, upnpErrorNS, errorCode, xmlEscape(errorDescription))
	return buf.Bytes()
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
