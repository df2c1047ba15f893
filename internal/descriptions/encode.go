package descriptions

import (
	"encoding/xml"

	"github.com/upnpgo/upnp/internal/model"
)

// EncodeDeviceDescription renders tree's root device idx (and any embedded
// devices) as a UDA device description document, the mirror of
// ParseDeviceDescription: a device host serves this at its LOCATION so
// control points can fetch and parse it back into their own model.Tree.
func EncodeDeviceDescription(tree *model.Tree, root model.DeviceIndex) ([]byte, error) {
	dev, err := tree.Device(root)
	if err != nil {
		return nil, err
	}
	doc := struct {
		XMLName     xml.Name  `xml:"root"`
		Xmlns       string    `xml:"xmlns,attr"`
		SpecVersion specXML   `xml:"specVersion"`
		DeviceNode  deviceXML `xml:"device"`
	}{
		Xmlns:       "urn:schemas-upnp-org:device-1-0",
		SpecVersion: specXML{Major: 1, Minor: 0},
	}
	node, err := buildDeviceXML(tree, root, dev)
	if err != nil {
		return nil, err
	}
	doc.DeviceNode = node

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

type specXML struct {
	Major int `xml:"major"`
	Minor int `xml:"minor"`
}

func buildDeviceXML(tree *model.Tree, idx model.DeviceIndex, dev model.Device) (deviceXML, error) {
	node := deviceXML{
		DeviceType:   dev.DeviceType.String(),
		FriendlyName: dev.FriendlyName,
		Manufacturer: dev.Manufacturer,
		ModelName:    dev.ModelName,
		ModelNumber:  dev.ModelNumber,
		UDN:          dev.UDN,
	}
	for _, svcIdx := range dev.Services {
		svc, err := tree.Service(svcIdx)
		if err != nil {
			return deviceXML{}, err
		}
		node.ServiceList = append(node.ServiceList, serviceXML{
			ServiceType: svc.ServiceType.String(),
			ServiceID:   svc.ServiceID,
			SCPDURL:     svc.SCPDURL,
			ControlURL:  svc.ControlURL,
			EventSubURL: svc.EventSubURL,
		})
	}
	for _, childIdx := range dev.Embedded {
		child, err := tree.Device(childIdx)
		if err != nil {
			return deviceXML{}, err
		}
		childNode, err := buildDeviceXML(tree, childIdx, child)
		if err != nil {
			return deviceXML{}, err
		}
		node.EmbeddedDevices = append(node.EmbeddedDevices, childNode)
	}
	return node, nil
}

// EncodeSCPD renders a service's actions and state variables as an SCPD
// document, the mirror of ParseSCPD.
func EncodeSCPD(actions []model.Action, vars []model.StateVariable) ([]byte, error) {
	doc := struct {
		XMLName     xml.Name  `xml:"scpd"`
		Xmlns       string    `xml:"xmlns,attr"`
		SpecVersion specXML   `xml:"specVersion"`
		ActionList  []actionXML   `xml:"actionList>action"`
		StateTable  []stateVarXML `xml:"serviceStateTable>stateVariable"`
	}{
		Xmlns:       "urn:schemas-upnp-org:service-1-0",
		SpecVersion: specXML{Major: 1, Minor: 0},
	}

	for _, a := range actions {
		axml := actionXML{Name: a.Name}
		for _, in := range a.InArgs {
			axml.Arguments = append(axml.Arguments, argumentXML{Name: in.Name, Direction: "in", RelatedStateVariable: in.RelatedStateVariable})
		}
		for _, out := range a.OutArgs {
			axml.Arguments = append(axml.Arguments, argumentXML{Name: out.Name, Direction: "out", RelatedStateVariable: out.RelatedStateVariable})
		}
		doc.ActionList = append(doc.ActionList, axml)
	}

	for _, v := range vars {
		vxml := stateVarXML{
			SendEvents:   string(v.Evented),
			Name:         v.Name,
			DataType:     v.DataType,
			DefaultValue: v.Default,
			MaximumRate:  v.MaximumRate,
			MinimumDelta: v.MinimumDelta,
		}
		if vxml.SendEvents == "" {
			vxml.SendEvents = "no"
		}
		if len(v.AllowedValues) > 0 {
			vxml.AllowedValueList = &allowedValueXML{Values: v.AllowedValues}
		}
		if v.HasRange {
			vxml.AllowedRange = &allowedRangeXML{Minimum: v.Minimum, Maximum: v.Maximum, Step: v.Step}
		}
		doc.StateTable = append(doc.StateTable, vxml)
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}
