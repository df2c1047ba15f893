package gena

import (
	"bytes"
	"encoding/xml"

	"github.com/upnpgo/upnp/internal/upnperr"
)

// Property is one evented state variable name/value pair carried in a
// NOTIFY body.
type Property struct {
	Name  string
	Value string
}

const propertySetNS = "urn:schemas-upnp-org:event-1-0"

// EncodePropertySet builds a NOTIFY body carrying props, in declaration
// order, as UDA's <e:propertyset> document.
func EncodePropertySet(props []Property) []byte {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0"?>` + "\n")
	buf.WriteString(`<e:propertyset xmlns:e="` + propertySetNS + `">`)
	for _, p := range props {
		buf.WriteString("<e:property>")
		buf.WriteByte('<')
		buf.WriteString(p.Name)
		buf.WriteByte('>')
		xml.EscapeText(&buf, []byte(p.Value))
		buf.WriteString("</")
		buf.WriteString(p.Name)
		buf.WriteByte('>')
		buf.WriteString("</e:property>")
	}
	buf.WriteString("</e:propertyset>")
	return buf.Bytes()
}

type propertySetXML struct {
	XMLName    xml.Name      `xml:"propertyset"`
	Properties []rawProperty `xml:"property"`
}

type rawProperty struct {
	Inner []byte `xml:",innerxml"`
}

// DecodePropertySet parses a NOTIFY body into its ordered Property list.
func DecodePropertySet(data []byte) ([]Property, error) {
	var doc propertySetXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, upnperr.Wrap(upnperr.KindMalformedMessage, "parse NOTIFY propertyset", err)
	}

	props := make([]Property, 0, len(doc.Properties))
	for _, raw := range doc.Properties {
		name, value, err := firstChildElement(raw.Inner)
		if err != nil {
			return nil, err
		}
		props = append(props, Property{Name: name, Value: value})
	}
	return props, nil
}

// firstChildElement tokenizes fragment looking for its first (and only
// expected) child element, returning its local name and character data.
func firstChildElement(fragment []byte) (name, value string, err error) {
	dec := xml.NewDecoder(bytes.NewReader(fragment))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", "", upnperr.Wrap(upnperr.KindMalformedMessage, "malformed property element", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		var wrapper struct {
			Value string `xml:",chardata"`
		}
		if err := dec.DecodeElement(&wrapper, &start); err != nil {
			return "", "", upnperr.Wrap(upnperr.KindMalformedMessage, "malformed property value", err)
		}
		return start.Name.Local, wrapper.Value, nil
	}
}
