package control

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/upnpgo/upnp/internal/model"
	"github.com/upnpgo/upnp/internal/soapcodec"
	"github.com/upnpgo/upnp/internal/upnp"
)

func buildSwitchPowerService(t *testing.T) (*model.Tree, model.ServiceIndex) {
	t.Helper()
	deviceType, err := upnp.ParseResourceType("urn:schemas-upnp-org:device:BinaryLight:1")
	if err != nil {
		t.Fatalf("ParseResourceType: %v", err)
	}
	serviceType, err := upnp.ParseResourceType("urn:schemas-upnp-org:service:SwitchPower:1")
	if err != nil {
		t.Fatalf("ParseResourceType: %v", err)
	}

	tree := model.NewTree()
	root := tree.AddDevice(model.Device{UDN: upnp.NewUDN(), DeviceType: deviceType, Parent: model.NoParent})
	svc := tree.AddService(model.Service{
		Owner:       root,
		ServiceID:   "urn:upnp-org:serviceId:SwitchPower:1",
		ServiceType: serviceType,
		ControlURL:  "/SwitchPower/Control",
		StateVariables: []model.StateVariable{
			{Name: "Target", DataType: "boolean"},
			{Name: "Status", DataType: "boolean", Evented: model.EventedYes, Current: "0"},
		},
		Actions: []model.Action{
			{
				Name:    "SetTarget",
				InArgs:  []model.Argument{{Name: "newTargetValue", RelatedStateVariable: "Target"}},
				OutArgs: nil,
			},
			{
				Name:    "GetStatus",
				InArgs:  nil,
				OutArgs: []model.Argument{{Name: "ResultStatus", RelatedStateVariable: "Status"}},
			},
		},
	})
	return tree, svc
}

func TestDispatcherServeHTTPInvokesHandlerAndEncodesResponse(t *testing.T) {
	tree, _ := buildSwitchPowerService(t)

	var gotArgs map[string]string
	var gotAction string
	handler := func(svc model.Service, action model.Action, args map[string]string) ([]model.ArgumentValue, error) {
		gotAction = action.Name
		gotArgs = args
		return nil, nil
	}
	d := NewDispatcher(tree, handler, nil)

	body, err := soapcodec.EncodeAction("urn:schemas-upnp-org:service:SwitchPower:1", "SetTarget",
		[]soapcodec.Argument{{Name: "newTargetValue", Value: "1"}})
	if err != nil {
		t.Fatalf("EncodeAction: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/SwitchPower/Control", strings.NewReader(string(body)))
	req.Header.Set("SOAPACTION", soapcodec.SOAPAction("urn:schemas-upnp-org:service:SwitchPower:1", "SetTarget"))

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if gotAction != "SetTarget" {
		t.Fatalf("handler invoked with action %q", gotAction)
	}
	if gotArgs["newTargetValue"] != "1" {
		t.Fatalf("handler args = %+v", gotArgs)
	}
}

func TestDispatcherServeHTTPEncodesHandlerOutputsAsResponse(t *testing.T) {
	tree, _ := buildSwitchPowerService(t)

	handler := func(svc model.Service, action model.Action, args map[string]string) ([]model.ArgumentValue, error) {
		return []model.ArgumentValue{{Name: "ResultStatus", Value: "1"}}, nil
	}
	d := NewDispatcher(tree, handler, nil)

	body, _ := soapcodec.EncodeAction("urn:schemas-upnp-org:service:SwitchPower:1", "GetStatus", nil)
	req := httptest.NewRequest(http.MethodPost, "/SwitchPower/Control", strings.NewReader(string(body)))
	req.Header.Set("SOAPACTION", soapcodec.SOAPAction("urn:schemas-upnp-org:service:SwitchPower:1", "GetStatus"))

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	outArgs, err := soapcodec.DecodeAction(rec.Body.Bytes(), "GetStatusResponse")
	if err != nil {
		t.Fatalf("DecodeAction: %v", err)
	}
	if len(outArgs) != 1 || outArgs[0].Name != "ResultStatus" || outArgs[0].Value != "1" {
		t.Fatalf("outArgs = %+v", outArgs)
	}
}

func TestDispatcherServeHTTPReturnsFaultForUnknownAction(t *testing.T) {
	tree, _ := buildSwitchPowerService(t)
	d := NewDispatcher(tree, func(model.Service, model.Action, map[string]string) ([]model.ArgumentValue, error) {
		t.Fatal("handler should not be invoked for an unknown action")
		return nil, nil
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/SwitchPower/Control", strings.NewReader(""))
	req.Header.Set("SOAPACTION", soapcodec.SOAPAction("urn:schemas-upnp-org:service:SwitchPower:1", "Explode"))

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 (SOAP fault)", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "UPnPError") {
		t.Fatalf("body missing UPnPError detail: %s", rec.Body.String())
	}
}

func TestDispatcherServeHTTPReturnsFaultForInvalidArgument(t *testing.T) {
	tree, _ := buildSwitchPowerService(t)
	d := NewDispatcher(tree, func(model.Service, model.Action, map[string]string) ([]model.ArgumentValue, error) {
		t.Fatal("handler should not be invoked when argument coercion fails")
		return nil, nil
	}, nil)

	body, _ := soapcodec.EncodeAction("urn:schemas-upnp-org:service:SwitchPower:1", "SetTarget",
		[]soapcodec.Argument{{Name: "newTargetValue", Value: "not-a-boolean"}})
	req := httptest.NewRequest(http.MethodPost, "/SwitchPower/Control", strings.NewReader(string(body)))
	req.Header.Set("SOAPACTION", soapcodec.SOAPAction("urn:schemas-upnp-org:service:SwitchPower:1", "SetTarget"))

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 (SOAP fault)", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<errorCode>402</errorCode>") {
		t.Fatalf("expected UPnPError 402 for invalid argument: %s", rec.Body.String())
	}
}

func TestDispatcherServeHTTPReturnsFault600ForValueOutsideAllowedList(t *testing.T) {
	deviceType, err := upnp.ParseResourceType("urn:schemas-upnp-org:device:BinaryLight:1")
	if err != nil {
		t.Fatalf("ParseResourceType: %v", err)
	}
	serviceType, err := upnp.ParseResourceType("urn:schemas-upnp-org:service:SwitchPower:1")
	if err != nil {
		t.Fatalf("ParseResourceType: %v", err)
	}

	tree := model.NewTree()
	root := tree.AddDevice(model.Device{UDN: upnp.NewUDN(), DeviceType: deviceType, Parent: model.NoParent})
	tree.AddService(model.Service{
		Owner:       root,
		ServiceID:   "urn:upnp-org:serviceId:SwitchPower:1",
		ServiceType: serviceType,
		ControlURL:  "/SwitchPower/Control",
		StateVariables: []model.StateVariable{
			{Name: "Mode", DataType: "string", AllowedValues: []string{"Auto", "Manual"}},
		},
		Actions: []model.Action{
			{Name: "SetMode", InArgs: []model.Argument{{Name: "newMode", RelatedStateVariable: "Mode"}}},
		},
	})

	d := NewDispatcher(tree, func(model.Service, model.Action, map[string]string) ([]model.ArgumentValue, error) {
		t.Fatal("handler should not be invoked when the argument value is outside the allowed list")
		return nil, nil
	}, nil)

	body, _ := soapcodec.EncodeAction("urn:schemas-upnp-org:service:SwitchPower:1", "SetMode",
		[]soapcodec.Argument{{Name: "newMode", Value: "Bogus"}})
	req := httptest.NewRequest(http.MethodPost, "/SwitchPower/Control", strings.NewReader(string(body)))
	req.Header.Set("SOAPACTION", soapcodec.SOAPAction("urn:schemas-upnp-org:service:SwitchPower:1", "SetMode"))

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 (SOAP fault)", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<errorCode>600</errorCode>") {
		t.Fatalf("expected UPnPError 600 for a value outside the allowed list: %s", rec.Body.String())
	}
}

func TestDispatcherServeHTTPReturns404ForUnknownControlURL(t *testing.T) {
	tree, _ := buildSwitchPowerService(t)
	d := NewDispatcher(tree, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/nonexistent", strings.NewReader(""))
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestActionNameFromSoapAction(t *testing.T) {
	name, err := actionNameFromSoapAction(`"urn:schemas-upnp-org:service:SwitchPower:1#SetTarget"`)
	if err != nil || name != "SetTarget" {
		t.Fatalf("got %q, %v", name, err)
	}
	if _, err := actionNameFromSoapAction("garbage"); err == nil {
		t.Fatal("expected error for a header with no '#'")
	}
}
