package gena

import "testing"

func TestEncodeDecodePropertySetRoundTrip(t *testing.T) {
	props := []Property{
		{Name: "Status", Value: "1"},
		{Name: "Name", Value: "A & B <weird>"},
	}
	body := EncodePropertySet(props)

	decoded, err := DecodePropertySet(body)
	if err != nil {
		t.Fatalf("DecodePropertySet: %v", err)
	}
	if len(decoded) != len(props) {
		t.Fatalf("len(decoded) = %d, want %d", len(decoded), len(props))
	}
	for i, p := range props {
		if decoded[i].Name != p.Name || decoded[i].Value != p.Value {
			t.Fatalf("decoded[%d] = %+v, want %+v", i, decoded[i], p)
		}
	}
}

func TestDecodePropertySetRejectsMalformedXML(t *testing.T) {
	if _, err := DecodePropertySet([]byte("not xml")); err == nil {
		t.Fatalf("expected error for malformed XML")
	}
}
