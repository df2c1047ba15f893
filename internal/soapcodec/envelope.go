// Package soapcodec serialises and deserialises the SOAP 1.1 envelope UPnP
// action control uses, including SOAP fault extraction with UPnPError
// codes. Argument values cross this package as already-string wire
// representations; type coercion against a state variable's declared
// SOAP type is internal/model's job, not this package's.
package soapcodec

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/upnpgo/upnp/internal/upnperr"
)

// Argument is one action argument name/value pair, in on-wire string form.
type Argument struct {
	Name  string
	Value string
}

const (
	envelopeNS  = "http://schemas.xmlsoap.org/soap/envelope/"
	encodingURI = "http://schemas.xmlsoap.org/soap/encoding/"
)

// SOAPAction renders the SOAPACTION header value for an action invocation:
// `"<serviceType>#<actionName>"`, quotes included.
func SOAPAction(serviceType, actionName string) string {
	return fmt.Sprintf(`"%s#%s"`, serviceType, actionName)
}

// envelope is the wire shape of a SOAP 1.1 envelope with a single body
// element, used for both requests and success responses. The body's
// single child (the action element, or a Fault) is captured as raw XML
// and classified in a second pass: encoding/xml has no notion of "decode
// whatever child is here, then tell me its tag" in one step when the tag
// name is caller-determined rather than known in advance.
type envelope struct {
	XMLName xml.Name `xml:"http://schemas.xmlsoap.org/soap/envelope/ Envelope"`
	Body    struct {
		Inner []byte `xml:",innerxml"`
	} `xml:"http://schemas.xmlsoap.org/soap/envelope/ Body"`
}

// EncodeAction serialises an action invocation or success-response body:
// `<u:ActionName xmlns:u="serviceType">` wrapping one element per argument.
func EncodeAction(serviceType, actionName string, args []Argument) ([]byte, error) {
	var argXML bytes.Buffer
	for _, a := range args {
		enc := xml.NewEncoder(&argXML)
		el := xml.StartElement{Name: xml.Name{Local: a.Name}}
		if err := enc.EncodeElement(a.Value, el); err != nil {
			return nil, upnperr.Wrap(upnperr.KindInternal, "encode argument "+a.Name, err)
		}
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	fmt.Fprintf(&buf, `<s:Envelope xmlns:s="%s" s:encodingStyle="%s"><s:Body><u:%s xmlns:u="%s">`,
		envelopeNS, encodingURI, actionName, serviceType)
	buf.Write(argXML.Bytes())
	fmt.Fprintf(&buf, `</u:%s></s:Body></s:Envelope>`, actionName)
	return buf.Bytes(), nil
}

// DecodeAction parses a SOAP body expected to contain the named action
// element and returns its child elements as Arguments, in document order.
// If the body is a Fault instead, DecodeAction returns the *Fault as the
// error (use errors.As to recover it).
func DecodeAction(data []byte, actionName string) ([]Argument, error) {
	var env envelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return nil, upnperr.Wrap(upnperr.KindMalformedMessage, "parse SOAP envelope", err)
	}

	name, inner, err := firstChildElement(env.Body.Inner)
	if err != nil {
		return nil, upnperr.Wrap(upnperr.KindMalformedMessage, "SOAP body has no child element", err)
	}

	if name.Local == "Fault" {
		var f fault
		if err := xml.Unmarshal(wrapElement(name, inner), &f); err != nil {
			return nil, upnperr.Wrap(upnperr.KindMalformedMessage, "parse SOAP fault", err)
		}
		return nil, f.toError()
	}

	if name.Local != actionName {
		return nil, upnperr.New(upnperr.KindMalformedMessage,
			fmt.Sprintf("SOAP body action %q does not match expected %q", name.Local, actionName))
	}
	return decodeArgumentElements(inner)
}

// firstChildElement returns the name and inner XML of the first element in
// a fragment, used to classify a SOAP body's single child without knowing
// its tag name up front.
func firstChildElement(fragment []byte) (xml.Name, []byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(fragment))
	for {
		tok, err := dec.Token()
		if err != nil {
			return xml.Name{}, nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		var wrapper struct {
			Inner []byte `xml:",innerxml"`
		}
		if err := dec.DecodeElement(&wrapper, &start); err != nil {
			return xml.Name{}, nil, err
		}
		return start.Name, wrapper.Inner, nil
	}
}

// wrapElement re-wraps an inner-XML fragment in its enclosing element so it
// can be unmarshalled into a struct expecting that element as XMLName.
func wrapElement(name xml.Name, inner []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "<%s>", name.Local)
	buf.Write(inner)
	fmt.Fprintf(&buf, "</%s>", name.Local)
	return buf.Bytes()
}

// genericElement matches any immediate child element with its text content,
// used to walk an action body's argument list without knowing the schema.
type genericElement struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

func decodeArgumentElements(inner []byte) ([]Argument, error) {
	dec := xml.NewDecoder(bytes.NewReader(inner))
	var args []Argument
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		var el genericElement
		if err := dec.DecodeElement(&el, &start); err != nil {
			return nil, upnperr.Wrap(upnperr.KindMalformedMessage, "decode argument element", err)
		}
		args = append(args, Argument{Name: el.XMLName.Local, Value: el.Value})
	}
	return args, nil
}
