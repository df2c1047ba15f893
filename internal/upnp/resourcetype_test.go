package upnp

import "testing"

func TestResourceTypeMatchesSearchVersionDowngrade(t *testing.T) {
	st, err := ParseResourceType("urn:schemas-upnp-org:device:BinaryLight:1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	advertisedV2, err := ParseResourceType("urn:schemas-upnp-org:device:BinaryLight:2")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !st.MatchesSearch(advertisedV2) {
		t.Fatal("search for v1 should match an advertised v2 (version downgrade is legal)")
	}

	advertisedV1 := st
	if !st.MatchesSearch(advertisedV1) {
		t.Fatal("search for v1 should match an advertised v1")
	}

	stV2, _ := ParseResourceType("urn:schemas-upnp-org:device:BinaryLight:2")
	if stV2.MatchesSearch(advertisedV1) {
		t.Fatal("search for v2 must not match an advertised v1 (no upgrade)")
	}

	other, _ := ParseResourceType("urn:schemas-upnp-org:device:DimmableLight:1")
	if st.MatchesSearch(other) {
		t.Fatal("different resource names must never match")
	}
}

func TestParseResourceTypeRejectsMalformed(t *testing.T) {
	cases := []string{
		"urn:schemas-upnp-org:device:BinaryLight", // too few fields
		"urn:schemas-upnp-org:device:BinaryLight:0",
		"urn:schemas-upnp-org:device:BinaryLight:-1",
		"ftp:schemas-upnp-org:device:BinaryLight:1",
		"urn:schemas-upnp-org:widget:BinaryLight:1",
	}
	for _, c := range cases {
		if _, err := ParseResourceType(c); err == nil {
			t.Errorf("expected error parsing %q", c)
		}
	}
}

func TestUSNRoundTrip(t *testing.T) {
	udn := "uuid:aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
	rt, _ := ParseResourceType("urn:schemas-upnp-org:service:SwitchPower:1")
	devRT, _ := ParseResourceType("urn:schemas-upnp-org:device:BinaryLight:1")

	cases := []Discovery{
		RootDevice(udn),
		SpecificDevice(udn),
		DeviceType(devRT, udn),
		ServiceType(rt, udn),
	}

	for _, d := range cases {
		usn := d.USN()
		nt := d.NT()
		got, err := ParseUSN(usn, nt)
		if err != nil {
			t.Fatalf("ParseUSN(%q, %q): %v", usn, nt, err)
		}
		if got != d {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, d)
		}
	}
}

func TestDiscoveryMatchesSearchTarget(t *testing.T) {
	udn := "uuid:aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
	rtV2, _ := ParseResourceType("urn:schemas-upnp-org:device:BinaryLight:2")
	d := DeviceType(rtV2, udn)

	ok, err := d.MatchesSearchTarget("ssdp:all")
	if err != nil || !ok {
		t.Fatalf("ssdp:all should match everything: ok=%v err=%v", ok, err)
	}

	ok, err = d.MatchesSearchTarget("upnp:rootdevice")
	if err != nil || ok {
		t.Fatalf("upnp:rootdevice must not match a device-type USN: ok=%v err=%v", ok, err)
	}

	ok, err = d.MatchesSearchTarget("urn:schemas-upnp-org:device:BinaryLight:1")
	if err != nil || !ok {
		t.Fatalf("v1 search should match v2 advertisement: ok=%v err=%v", ok, err)
	}

	root := RootDevice(udn)
	ok, err = root.MatchesSearchTarget("upnp:rootdevice")
	if err != nil || !ok {
		t.Fatalf("upnp:rootdevice should match a RootDevice USN: ok=%v err=%v", ok, err)
	}
}

func TestClamps(t *testing.T) {
	if ClampMaxAge(1) != 5 || ClampMaxAge(999999) != 86400 || ClampMaxAge(1800) != 1800 {
		t.Fatal("ClampMaxAge out of spec range")
	}
	if ClampMX(0) != 1 || ClampMX(99) != 5 || ClampMX(3) != 3 {
		t.Fatal("ClampMX out of spec range")
	}
	if ClampSubscriptionTimeout(10) != 1800 || ClampSubscriptionTimeout(10_000_000) != 604800 {
		t.Fatal("ClampSubscriptionTimeout out of spec range")
	}
	if ValidSearchPort(1024) || !ValidSearchPort(50000) || ValidSearchPort(70000) {
		t.Fatal("ValidSearchPort range wrong")
	}
	if NextSeq(5) != 6 {
		t.Fatal("NextSeq should increment normally")
	}
	if NextSeq(0xFFFFFFFF) != 1 {
		t.Fatal("NextSeq should wrap to 1, not 0, after 2^32-1")
	}
}

func TestNewSIDMintsValidatableForm(t *testing.T) {
	sid := NewSID()
	if err := ValidateSID(sid); err != nil {
		t.Fatalf("NewSID produced invalid SID: %v", err)
	}
	if err := ValidateSID("not-a-sid"); err == nil {
		t.Fatal("expected error for malformed SID")
	}
}
