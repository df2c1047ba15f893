package model

import (
	"strconv"
	"strings"

	"github.com/upnpgo/upnp/internal/upnperr"
)

// ArgumentValue is one invoked argument's wire value, keyed by name — the
// shape an inbound SOAP action body or an outbound action call supplies,
// distinct from Argument (the SCPD's static name/type declaration).
type ArgumentValue struct {
	Name  string
	Value string
}

// soap type families this module validates. UDA defines more (ui1, ui2,
// i1, i2, i8, r4, r8, date, dateTime, uuid, bin.base64, ...); they are
// accepted as opaque strings like "string" since this module does not
// interpret their values beyond the families below.
const (
	typeBoolean = "boolean"
	typeI4      = "i4"
	typeUI4     = "ui4"
	typeInt     = "int"
)

// CoerceArgument validates value against sv's declared type, allowed-value
// list, and allowed-value range, returning the canonical wire form. A bad
// type or name is reported as InvalidArgument (SOAP fault 402); a value
// outside the declared allowedValueList/allowedValueRange is reported as
// ArgumentValueOutOfRange (SOAP fault 600) instead.
func CoerceArgument(sv StateVariable, value string) (string, error) {
	canonical := value
	switch strings.ToLower(sv.DataType) {
	case typeBoolean:
		b, err := parseUPnPBool(value)
		if err != nil {
			return "", upnperr.Wrap(upnperr.KindInvalidArgument, "argument "+sv.Name+" is not a valid boolean", err)
		}
		canonical = formatUPnPBool(b)
	case typeI4, typeInt, typeUI4:
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return "", upnperr.Wrap(upnperr.KindInvalidArgument, "argument "+sv.Name+" is not a valid integer", err)
		}
		if strings.ToLower(sv.DataType) == typeUI4 && n < 0 {
			return "", upnperr.New(upnperr.KindInvalidArgument, "argument "+sv.Name+" must be non-negative")
		}
		canonical = strconv.FormatInt(n, 10)
		if sv.HasRange {
			if err := checkRange(sv, n); err != nil {
				return "", err
			}
		}
	}

	if len(sv.AllowedValues) > 0 && !containsFold(sv.AllowedValues, canonical) {
		return "", upnperr.New(upnperr.KindArgumentValueOutOfRange,
			"argument "+sv.Name+" value "+canonical+" is not in the allowed value list")
	}

	return canonical, nil
}

func checkRange(sv StateVariable, n int64) error {
	if sv.Minimum != "" {
		min, err := strconv.ParseInt(sv.Minimum, 10, 64)
		if err == nil && n < min {
			return upnperr.New(upnperr.KindArgumentValueOutOfRange, "argument "+sv.Name+" is below the allowed minimum")
		}
	}
	if sv.Maximum != "" {
		max, err := strconv.ParseInt(sv.Maximum, 10, 64)
		if err == nil && n > max {
			return upnperr.New(upnperr.KindArgumentValueOutOfRange, "argument "+sv.Name+" is above the allowed maximum")
		}
	}
	return nil
}

func containsFold(values []string, v string) bool {
	for _, allowed := range values {
		if strings.EqualFold(allowed, v) {
			return true
		}
	}
	return false
}

// parseUPnPBool accepts the wire forms UDA allows for a boolean state
// variable: "0"/"1", "true"/"false" and "yes"/"no" (case-insensitive).
func parseUPnPBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true, nil
	case "0", "false", "no":
		return false, nil
	default:
		return false, upnperr.New(upnperr.KindInvalidArgument, "not a UPnP boolean: "+s)
	}
}

func formatUPnPBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// ValidateAction checks that args exactly names the action's declared
// input arguments: no missing, no extra (order is enforced on the wire by
// the SCPD itself; this checks the name set an invocation actually
// supplies) and coerces each value against its related state variable.
func ValidateAction(svc Service, action Action, args []ArgumentValue) (map[string]string, error) {
	if len(args) != len(action.InArgs) {
		return nil, upnperr.New(upnperr.KindInvalidArgument,
			"action "+action.Name+" expects "+strconv.Itoa(len(action.InArgs))+" arguments, got "+strconv.Itoa(len(args)))
	}

	byName := make(map[string]string, len(args))
	for _, a := range args {
		byName[a.Name] = a.Value
	}

	coerced := make(map[string]string, len(action.InArgs))
	for _, decl := range action.InArgs {
		raw, ok := byName[decl.Name]
		if !ok {
			return nil, upnperr.New(upnperr.KindInvalidArgument, "missing argument: "+decl.Name)
		}
		sv, ok := svc.FindStateVariable(decl.RelatedStateVariable)
		if !ok {
			return nil, upnperr.New(upnperr.KindInternal, "action argument references unknown state variable: "+decl.RelatedStateVariable)
		}
		value, err := CoerceArgument(*sv, raw)
		if err != nil {
			return nil, err
		}
		coerced[decl.Name] = value
	}
	return coerced, nil
}
