package soapcodec

import (
	"testing"

	"github.com/upnpgo/upnp/internal/upnperr"
)

func TestSOAPAction(t *testing.T) {
	got := SOAPAction("urn:schemas-upnp-org:service:SwitchPower:1", "SetTarget")
	want := `"urn:schemas-upnp-org:service:SwitchPower:1#SetTarget"`
	if got != want {
		t.Fatalf("SOAPAction() = %q, want %q", got, want)
	}
}

func TestEncodeDecodeActionRoundTrip(t *testing.T) {
	args := []Argument{{Name: "newTargetValue", Value: "1"}}
	data, err := EncodeAction("urn:schemas-upnp-org:service:SwitchPower:1", "SetTarget", args)
	if err != nil {
		t.Fatalf("EncodeAction: %v", err)
	}

	decoded, err := DecodeAction(data, "SetTarget")
	if err != nil {
		t.Fatalf("DecodeAction: %v", err)
	}
	if len(decoded) != 1 || decoded[0].Name != "newTargetValue" || decoded[0].Value != "1" {
		t.Fatalf("decoded args = %+v", decoded)
	}
}

func TestDecodeActionRejectsMismatchedName(t *testing.T) {
	data, _ := EncodeAction("urn:schemas-upnp-org:service:SwitchPower:1", "SetTarget", nil)
	if _, err := DecodeAction(data, "GetTarget"); err == nil {
		t.Fatal("expected error for mismatched action name")
	}
}

func TestDecodeActionExtractsFault(t *testing.T) {
	data := EncodeFault(402, "Invalid Args")
	_, err := DecodeAction(data, "SetTarget")
	if err == nil {
		t.Fatal("expected fault error")
	}
	if !upnperr.Is(err, upnperr.KindInvalidArgument) {
		t.Fatalf("error kind = %v, want InvalidArgument", err)
	}
}

func TestDecodeActionFaultMapsEveryKnownCode(t *testing.T) {
	cases := []struct {
		code int
		kind upnperr.Kind
	}{
		{401, upnperr.KindActionNotAuthorized},
		{402, upnperr.KindInvalidArgument},
		{501, upnperr.KindActionFailed},
		{600, upnperr.KindArgumentValueOutOfRange},
		{725, upnperr.KindArgumentValueOutOfRange},
	}
	for _, tc := range cases {
		data := EncodeFault(tc.code, "boom")
		_, err := DecodeAction(data, "Whatever")
		if !upnperr.Is(err, tc.kind) {
			t.Errorf("code %d: got kind mismatch for error %v, want %v", tc.code, err, tc.kind)
		}
	}
}

func TestEncodeActionEscapesArgumentValues(t *testing.T) {
	data, err := EncodeAction("urn:test:service:X:1", "Echo", []Argument{{Name: "Text", Value: "<tag> & \"quote\""}})
	if err != nil {
		t.Fatalf("EncodeAction: %v", err)
	}
	decoded, err := DecodeAction(data, "Echo")
	if err != nil {
		t.Fatalf("DecodeAction: %v", err)
	}
	if decoded[0].Value != `<tag> & "quote"` {
		t.Fatalf("round-tripped value = %q", decoded[0].Value)
	}
}
