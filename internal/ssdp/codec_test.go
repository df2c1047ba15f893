package ssdp

import "testing"

func TestCodecRoundTripAlive(t *testing.T) {
	msg := Message{
		Type:               TypeAdvertiseAlive,
		Host:               MulticastAddr,
		CacheControlMaxAge: 1800,
		Location:           "http://192.0.2.10:8080/description.xml",
		NT:                 "upnp:rootdevice",
		USN:                "uuid:aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee::upnp:rootdevice",
		Server:             "Linux/5.15 UPnP/1.1 upnpgo/1.0",
		BootID:             1,
		ConfigID:           7,
		HaveBootID:         true,
	}
	roundTrip(t, msg)
}

func TestCodecRoundTripByebye(t *testing.T) {
	msg := Message{
		Type: TypeAdvertiseByebye,
		Host: MulticastAddr,
		NT:   "upnp:rootdevice",
		USN:  "uuid:aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee::upnp:rootdevice",
	}
	roundTrip(t, msg)
}

func TestCodecRoundTripUpdate(t *testing.T) {
	msg := Message{
		Type:       TypeAdvertiseUpdate,
		Host:       MulticastAddr,
		Location:   "http://192.0.2.10:8080/description.xml",
		NT:         "upnp:rootdevice",
		USN:        "uuid:aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee::upnp:rootdevice",
		BootID:     1,
		ConfigID:   7,
		NextBootID: 2,
		HaveBootID: true,
	}
	roundTrip(t, msg)
}

func TestCodecRoundTripSearch(t *testing.T) {
	msg := Message{
		Type: TypeSearch,
		Host: MulticastAddr,
		MX:   3,
		ST:   "ssdp:all",
	}
	roundTrip(t, msg)
}

func TestCodecRoundTripSearchResponse(t *testing.T) {
	msg := Message{
		Type:               TypeSearchResponse,
		CacheControlMaxAge: 1800,
		Date:               "Mon, 01 Jan 2026 00:00:00 GMT",
		Ext:                true,
		Location:           "http://192.0.2.10:8080/description.xml",
		Server:             "Linux/5.15 UPnP/1.1 upnpgo/1.0",
		ST:                 "urn:schemas-upnp-org:device:BinaryLight:1",
		USN:                "uuid:aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee::urn:schemas-upnp-org:device:BinaryLight:2",
		BootID:             1,
		ConfigID:           7,
		HaveBootID:         true,
	}
	roundTrip(t, msg)
}

func roundTrip(t *testing.T, msg Message) {
	t.Helper()
	encoded := Encode(msg)
	if len(encoded) > MaxDatagramSize {
		t.Fatalf("encoded message exceeds max datagram size: %d bytes", len(encoded))
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode(Encode(msg)) failed: %v", err)
	}
	if decoded != msg {
		t.Fatalf("round trip mismatch:\n got: %+v\nwant: %+v", decoded, msg)
	}
}

func TestDecodeRejectsOversizeDatagram(t *testing.T) {
	big := make([]byte, MaxDatagramSize+1)
	for i := range big {
		big[i] = 'a'
	}
	if _, err := Decode(big); err == nil {
		t.Fatal("expected Oversize error")
	}
}

func TestDecodeRejectsMissingMandatoryHeader(t *testing.T) {
	raw := "NOTIFY * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"NTS: ssdp:alive\r\n" +
		"\r\n"
	if _, err := Decode([]byte(raw)); err == nil {
		t.Fatal("expected MalformedMessage error for missing CACHE-CONTROL/LOCATION/NT/USN/SERVER")
	}
}

func TestDecodeRejectsUnknownNTS(t *testing.T) {
	raw := "NOTIFY * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"NTS: ssdp:bogus\r\n" +
		"NT: upnp:rootdevice\r\n" +
		"USN: uuid:x::upnp:rootdevice\r\n" +
		"\r\n"
	if _, err := Decode([]byte(raw)); err == nil {
		t.Fatal("expected UnknownVariant error")
	}
}

func TestDecodeRejectsUPnP11MissingVersionIDs(t *testing.T) {
	raw := "NOTIFY * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"CACHE-CONTROL: max-age=1800\r\n" +
		"LOCATION: http://192.0.2.10:8080/description.xml\r\n" +
		"NT: upnp:rootdevice\r\n" +
		"NTS: ssdp:alive\r\n" +
		"SERVER: Linux/5.15 UPnP/1.1 upnpgo/1.0\r\n" +
		"USN: uuid:x::upnp:rootdevice\r\n" +
		"\r\n"
	if _, err := Decode([]byte(raw)); err == nil {
		t.Fatal("expected MissingVersionIds error when SERVER advertises UPnP/1.1 without BOOTID/CONFIGID")
	}
}
