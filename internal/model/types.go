// Package model implements the device/service object model: devices,
// services, actions, and state variables, arranged as an arena-owned tree
// rather than pointer-linked nodes, so embedded-device and service lookups
// traverse integer indices, never parent pointers.
// The XML struct shapes below are grounded on the bridge's
// internal/sonos/types.go DeviceDescription, generalized from a
// Sonos-specific single-device document to the full UDA device/service/
// SCPD hierarchy.
package model

import "github.com/upnpgo/upnp/internal/upnp"

// Evented classifies how a state variable participates in eventing: not at
// all, via moderated NOTIFY, or only indirectly through another variable.
type Evented string

const (
	EventedNo       Evented = "no"
	EventedYes      Evented = "yes"
	EventedIndirect Evented = "indirect"
)

// DeviceIndex and ServiceIndex address nodes within a Tree's arenas.
type DeviceIndex int
type ServiceIndex int

// NoParent marks a Device with no owning parent (i.e. a root device).
const NoParent DeviceIndex = -1

// Device is one node in the hosted or cached device tree.
type Device struct {
	UDN          string
	FriendlyName string
	Manufacturer string
	ModelName    string
	ModelNumber  string
	DeviceType   upnp.ResourceType
	ConfigID     int
	Parent       DeviceIndex
	Embedded     []DeviceIndex
	Services     []ServiceIndex
}

// IsRoot reports whether d has no owning parent device.
func (d Device) IsRoot() bool { return d.Parent == NoParent }

// Service is one UPnP service hosted by a Device.
type Service struct {
	Owner          DeviceIndex
	ServiceID      string
	ServiceType    upnp.ResourceType
	SCPDURL        string
	ControlURL     string
	EventSubURL    string
	ConfigID       int
	Actions        []Action
	StateVariables []StateVariable
}

// StateVariable is one SCPD state variable.
type StateVariable struct {
	Name           string
	DataType       string // SOAP type: "string", "i4", "boolean", "ui4", ...
	Default        string
	Current        string
	Evented        Evented
	AllowedValues  []string // nil unless the SCPD declares an enumeration
	HasRange       bool
	Minimum        string
	Maximum        string
	Step           string
	// MaximumRate and MinimumDelta moderate eventing: a
	// change arriving faster than MaximumRate seconds since the last
	// emission, or by less than MinimumDelta, is coalesced into the next
	// eligible emission rather than sent immediately. Empty means
	// unmoderated.
	MaximumRate  string
	MinimumDelta string
}

// Argument is one Action input or output, referencing its type source by
// state variable name (the rule: "each argument references a state
// variable").
type Argument struct {
	Name                 string
	RelatedStateVariable string
}

// Direction distinguishes an Action's input and output argument lists.
type Direction int

const (
	DirectionIn Direction = iota
	DirectionOut
)

// Action is one SCPD action.
type Action struct {
	Name    string
	InArgs  []Argument
	OutArgs []Argument
}

// FindInArg returns the named input argument, or false if none matches.
func (a Action) FindInArg(name string) (Argument, bool) {
	for _, arg := range a.InArgs {
		if arg.Name == name {
			return arg, true
		}
	}
	return Argument{}, false
}

// FindStateVariable returns the named state variable on a service.
func (s Service) FindStateVariable(name string) (*StateVariable, bool) {
	for i := range s.StateVariables {
		if s.StateVariables[i].Name == name {
			return &s.StateVariables[i], true
		}
	}
	return nil, false
}

// FindAction returns the named action on a service.
func (s Service) FindAction(name string) (*Action, bool) {
	for i := range s.Actions {
		if s.Actions[i].Name == name {
			return &s.Actions[i], true
		}
	}
	return nil, false
}
