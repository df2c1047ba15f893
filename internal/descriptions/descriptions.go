// Package descriptions parses UDA device/service description documents:
// given raw device-description XML (plus, per service, its SCPD), it
// produces an internal/model.Tree or a parse error naming the first
// offending element. XML struct shapes are grounded on the bridge's
// internal/sonos/types.go DeviceDescription, generalized from one flat
// Sonos <device> element to the full recursive UDA device description
// (embedded device lists, service lists, SCPD documents).
package descriptions

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/upnpgo/upnp/internal/model"
	"github.com/upnpgo/upnp/internal/upnp"
	"github.com/upnpgo/upnp/internal/upnperr"
)

// upaDataTypes is the UDA-defined SOAP data type set; a stateVariable
// whose dataType is not one of these fails validation.
var upaDataTypes = map[string]bool{
	"ui1": true, "ui2": true, "ui3": true, "ui4": true,
	"i1": true, "i2": true, "i3": true, "i4": true, "int": true,
	"r4": true, "r8": true, "number": true, "fixed.14.4": true, "float": true,
	"char": true, "string": true,
	"date": true, "dateTime": true, "dateTime.tz": true, "time": true, "time.tz": true,
	"boolean": true, "bin.base64": true, "bin.hex": true, "uri": true, "uuid": true,
}

type rootXML struct {
	XMLName    xml.Name `xml:"root"`
	URLBase    string   `xml:"URLBase"`
	DeviceNode deviceXML `xml:"device"`
}

type deviceXML struct {
	DeviceType       string         `xml:"deviceType"`
	FriendlyName     string         `xml:"friendlyName"`
	Manufacturer     string         `xml:"manufacturer"`
	ModelName        string         `xml:"modelName"`
	ModelNumber      string         `xml:"modelNumber"`
	UDN              string         `xml:"UDN"`
	ServiceList      []serviceXML   `xml:"serviceList>service"`
	EmbeddedDevices  []deviceXML    `xml:"deviceList>device"`
}

type serviceXML struct {
	ServiceType string `xml:"serviceType"`
	ServiceID   string `xml:"serviceId"`
	SCPDURL     string `xml:"SCPDURL"`
	ControlURL  string `xml:"controlURL"`
	EventSubURL string `xml:"eventSubURL"`
}

// PendingSCPD names a service whose SCPD document must still be fetched
// and parsed with ParseSCPD, then merged with Tree.SetServiceSCPD.
type PendingSCPD struct {
	Service model.ServiceIndex
	SCPDURL string // absolute, resolved against the description's base URL
}

// ParseDeviceDescription parses a UDA device description document into a
// model.Tree, resolving SCPDURL/controlURL/eventSubURL against baseURL
// (the description's own URLBase element takes precedence over the
// fetch-location-derived baseURL, per UDA). Every service is returned
// without Actions/StateVariables populated; ParseSCPD and
// Tree.SetServiceSCPD fill those in once each SCPD is fetched.
func ParseDeviceDescription(data []byte, baseURL string) (*model.Tree, []PendingSCPD, error) {
	var doc rootXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, nil, upnperr.Wrap(upnperr.KindMalformedMessage, "parse device description", err)
	}

	base := baseURL
	if doc.URLBase != "" {
		base = doc.URLBase
	}
	baseU, err := url.Parse(base)
	if err != nil {
		return nil, nil, upnperr.Wrap(upnperr.KindMalformedMessage, "invalid base URL: "+base, err)
	}

	tree := model.NewTree()
	seenUDNs := make(map[string]bool)
	var pending []PendingSCPD

	var addDevice func(d deviceXML, parent model.DeviceIndex) error
	addDevice = func(d deviceXML, parent model.DeviceIndex) error {
		if err := upnp.ValidateUDN(d.UDN); err != nil {
			return upnperr.Wrap(upnperr.KindMalformedMessage, "device element has invalid UDN", err)
		}
		if seenUDNs[d.UDN] {
			return upnperr.New(upnperr.KindMalformedMessage, "duplicate UDN in device tree: "+d.UDN)
		}
		seenUDNs[d.UDN] = true

		deviceType, err := upnp.ParseResourceType(d.DeviceType)
		if err != nil {
			return upnperr.Wrap(upnperr.KindMalformedMessage, "device "+d.UDN+" has invalid deviceType", err)
		}

		idx := tree.AddDevice(model.Device{
			UDN:          d.UDN,
			FriendlyName: d.FriendlyName,
			Manufacturer: d.Manufacturer,
			ModelName:    d.ModelName,
			ModelNumber:  d.ModelNumber,
			DeviceType:   deviceType,
			Parent:       parent,
		})

		seenServiceIDs := make(map[string]bool)
		for _, s := range d.ServiceList {
			if seenServiceIDs[s.ServiceID] {
				return upnperr.New(upnperr.KindMalformedMessage, "duplicate serviceId within device "+d.UDN+": "+s.ServiceID)
			}
			seenServiceIDs[s.ServiceID] = true

			serviceType, err := upnp.ParseResourceType(s.ServiceType)
			if err != nil {
				return upnperr.Wrap(upnperr.KindMalformedMessage, "service "+s.ServiceID+" has invalid serviceType", err)
			}

			scpdURL, err := resolveURL(baseU, s.SCPDURL)
			if err != nil {
				return err
			}
			controlURL, err := resolveURL(baseU, s.ControlURL)
			if err != nil {
				return err
			}
			eventSubURL, err := resolveURL(baseU, s.EventSubURL)
			if err != nil {
				return err
			}

			svcIdx := tree.AddService(model.Service{
				Owner:       idx,
				ServiceID:   s.ServiceID,
				ServiceType: serviceType,
				SCPDURL:     scpdURL.String(),
				ControlURL:  controlURL.RequestURI(),
				EventSubURL: eventSubURL.RequestURI(),
			})
			pending = append(pending, PendingSCPD{Service: svcIdx, SCPDURL: scpdURL.String()})
		}

		for _, child := range d.EmbeddedDevices {
			if err := addDevice(child, idx); err != nil {
				return err
			}
		}
		return nil
	}

	if err := addDevice(doc.DeviceNode, model.NoParent); err != nil {
		return nil, nil, err
	}
	return tree, pending, nil
}

func resolveURL(base *url.URL, ref string) (*url.URL, error) {
	refURL, err := url.Parse(ref)
	if err != nil {
		return nil, upnperr.Wrap(upnperr.KindMalformedMessage, "invalid URL reference: "+ref, err)
	}
	return base.ResolveReference(refURL), nil
}

type scpdXML struct {
	XMLName      xml.Name        `xml:"scpd"`
	ActionList   []actionXML     `xml:"actionList>action"`
	StateVars    []stateVarXML   `xml:"serviceStateTable>stateVariable"`
}

type actionXML struct {
	Name      string         `xml:"name"`
	Arguments []argumentXML  `xml:"argumentList>argument"`
}

type argumentXML struct {
	Name                 string `xml:"name"`
	Direction            string `xml:"direction"`
	RelatedStateVariable string `xml:"relatedStateVariable"`
}

type stateVarXML struct {
	SendEvents       string           `xml:"sendEvents,attr"`
	Name             string           `xml:"name"`
	DataType         string           `xml:"dataType"`
	DefaultValue     string           `xml:"defaultValue"`
	AllowedValueList *allowedValueXML `xml:"allowedValueList"`
	AllowedRange     *allowedRangeXML `xml:"allowedValueRange"`
	MaximumRate      string           `xml:"maximumRate,attr"`
	MinimumDelta     string           `xml:"minimumDelta,attr"`
}

type allowedValueXML struct {
	Values []string `xml:"allowedValue"`
}

type allowedRangeXML struct {
	Minimum string `xml:"minimum"`
	Maximum string `xml:"maximum"`
	Step    string `xml:"step"`
}

// ParseSCPD parses a Service Control Protocol Description document,
// validating every rule UDA imposes beyond basic well-formedness:
// relatedStateVariable resolution, the UDA data-type set, range min<=max
// and step>0, and allowedValueList restricted to string-typed variables.
func ParseSCPD(data []byte) ([]model.Action, []model.StateVariable, error) {
	var doc scpdXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, nil, upnperr.Wrap(upnperr.KindMalformedMessage, "parse SCPD", err)
	}

	varNames := make(map[string]string, len(doc.StateVars)) // name -> dataType
	vars := make([]model.StateVariable, 0, len(doc.StateVars))
	for _, v := range doc.StateVars {
		if !upaDataTypes[v.DataType] {
			return nil, nil, upnperr.New(upnperr.KindMalformedMessage, "state variable "+v.Name+" has non-UDA dataType: "+v.DataType)
		}
		sv := model.StateVariable{
			Name:         v.Name,
			DataType:     v.DataType,
			Default:      v.DefaultValue,
			Current:      v.DefaultValue,
			Evented:      parseEvented(v.SendEvents),
			MaximumRate:  v.MaximumRate,
			MinimumDelta: v.MinimumDelta,
		}
		if v.AllowedValueList != nil {
			if v.DataType != "string" {
				return nil, nil, upnperr.New(upnperr.KindMalformedMessage,
					"state variable "+v.Name+" has allowedValueList but dataType is not string")
			}
			sv.AllowedValues = v.AllowedValueList.Values
		}
		if v.AllowedRange != nil {
			if err := validateRange(v.Name, *v.AllowedRange); err != nil {
				return nil, nil, err
			}
			sv.HasRange = true
			sv.Minimum = v.AllowedRange.Minimum
			sv.Maximum = v.AllowedRange.Maximum
			sv.Step = v.AllowedRange.Step
		}
		varNames[v.Name] = v.DataType
		vars = append(vars, sv)
	}

	actions := make([]model.Action, 0, len(doc.ActionList))
	for _, a := range doc.ActionList {
		action := model.Action{Name: a.Name}
		for _, arg := range a.Arguments {
			if _, ok := varNames[arg.RelatedStateVariable]; !ok {
				return nil, nil, upnperr.New(upnperr.KindMalformedMessage,
					fmt.Sprintf("action %s argument %s references unknown state variable %s", a.Name, arg.Name, arg.RelatedStateVariable))
			}
			declared := model.Argument{Name: arg.Name, RelatedStateVariable: arg.RelatedStateVariable}
			switch strings.ToLower(arg.Direction) {
			case "in":
				action.InArgs = append(action.InArgs, declared)
			case "out":
				action.OutArgs = append(action.OutArgs, declared)
			default:
				return nil, nil, upnperr.New(upnperr.KindMalformedMessage,
					"action "+a.Name+" argument "+arg.Name+" has invalid direction: "+arg.Direction)
			}
		}
		actions = append(actions, action)
	}

	return actions, vars, nil
}

func parseEvented(sendEvents string) model.Evented {
	switch strings.ToLower(sendEvents) {
	case "yes":
		return model.EventedYes
	case "indirect":
		return model.EventedIndirect
	default:
		return model.EventedNo
	}
}

func validateRange(varName string, r allowedRangeXML) error {
	min, err1 := strconv.ParseFloat(r.Minimum, 64)
	max, err2 := strconv.ParseFloat(r.Maximum, 64)
	if err1 != nil || err2 != nil {
		return upnperr.New(upnperr.KindMalformedMessage, "state variable "+varName+" has non-numeric allowedValueRange bounds")
	}
	if min > max {
		return upnperr.New(upnperr.KindMalformedMessage, "state variable "+varName+" has min > max in allowedValueRange")
	}
	if r.Step != "" {
		step, err := strconv.ParseFloat(r.Step, 64)
		if err != nil || step <= 0 {
			return upnperr.New(upnperr.KindMalformedMessage, "state variable "+varName+" has non-positive step in allowedValueRange")
		}
	}
	return nil
}
