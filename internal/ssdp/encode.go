package ssdp

import (
	"fmt"
	"strings"

	"github.com/upnpgo/upnp/internal/upnp"
)

// Encode renders a Message to its on-wire byte form. Callers are expected
// to have already clamped CacheControlMaxAge/MX via internal/upnp's Clamp*
// helpers; Encode does not re-clamp, so codec round-trip (testable property
// 1) holds exactly.
func Encode(msg Message) []byte {
	var b strings.Builder
	switch msg.Type {
	case TypeAdvertiseAlive:
		encodeAlive(&b, msg)
	case TypeAdvertiseByebye:
		encodeByebye(&b, msg)
	case TypeAdvertiseUpdate:
		encodeUpdate(&b, msg)
	case TypeSearch:
		encodeSearch(&b, msg)
	case TypeSearchResponse:
		encodeSearchResponse(&b, msg)
	}
	return []byte(b.String())
}

func encodeAlive(b *strings.Builder, msg Message) {
	fmt.Fprintf(b, "NOTIFY * HTTP/1.1\r\n")
	fmt.Fprintf(b, "HOST: %s\r\n", msg.Host)
	fmt.Fprintf(b, "CACHE-CONTROL: max-age=%d\r\n", msg.CacheControlMaxAge)
	fmt.Fprintf(b, "LOCATION: %s\r\n", msg.Location)
	fmt.Fprintf(b, "NT: %s\r\n", msg.NT)
	fmt.Fprintf(b, "NTS: %s\r\n", NTSAlive)
	fmt.Fprintf(b, "SERVER: %s\r\n", msg.Server)
	fmt.Fprintf(b, "USN: %s\r\n", msg.USN)
	if msg.HaveBootID {
		fmt.Fprintf(b, "BOOTID.UPNP.ORG: %d\r\n", msg.BootID)
		fmt.Fprintf(b, "CONFIGID.UPNP.ORG: %d\r\n", msg.ConfigID)
	}
	b.WriteString("\r\n")
}

func encodeByebye(b *strings.Builder, msg Message) {
	fmt.Fprintf(b, "NOTIFY * HTTP/1.1\r\n")
	fmt.Fprintf(b, "HOST: %s\r\n", msg.Host)
	fmt.Fprintf(b, "NT: %s\r\n", msg.NT)
	fmt.Fprintf(b, "NTS: %s\r\n", NTSByebye)
	fmt.Fprintf(b, "USN: %s\r\n", msg.USN)
	if msg.HaveBootID {
		fmt.Fprintf(b, "BOOTID.UPNP.ORG: %d\r\n", msg.BootID)
		fmt.Fprintf(b, "CONFIGID.UPNP.ORG: %d\r\n", msg.ConfigID)
	}
	b.WriteString("\r\n")
}

func encodeUpdate(b *strings.Builder, msg Message) {
	fmt.Fprintf(b, "NOTIFY * HTTP/1.1\r\n")
	fmt.Fprintf(b, "HOST: %s\r\n", msg.Host)
	fmt.Fprintf(b, "LOCATION: %s\r\n", msg.Location)
	fmt.Fprintf(b, "NT: %s\r\n", msg.NT)
	fmt.Fprintf(b, "NTS: %s\r\n", NTSUpdate)
	fmt.Fprintf(b, "USN: %s\r\n", msg.USN)
	fmt.Fprintf(b, "BOOTID.UPNP.ORG: %d\r\n", msg.BootID)
	fmt.Fprintf(b, "CONFIGID.UPNP.ORG: %d\r\n", msg.ConfigID)
	fmt.Fprintf(b, "NEXTBOOTID.UPNP.ORG: %d\r\n", msg.NextBootID)
	b.WriteString("\r\n")
}

func encodeSearch(b *strings.Builder, msg Message) {
	fmt.Fprintf(b, "M-SEARCH * HTTP/1.1\r\n")
	fmt.Fprintf(b, "HOST: %s\r\n", msg.Host)
	fmt.Fprintf(b, "MAN: \"ssdp:discover\"\r\n")
	fmt.Fprintf(b, "MX: %d\r\n", msg.MX)
	fmt.Fprintf(b, "ST: %s\r\n", msg.ST)
	if msg.UserAgent != "" {
		fmt.Fprintf(b, "USER-AGENT: %s\r\n", msg.UserAgent)
	}
	b.WriteString("\r\n")
}

func encodeSearchResponse(b *strings.Builder, msg Message) {
	fmt.Fprintf(b, "HTTP/1.1 200 OK\r\n")
	fmt.Fprintf(b, "CACHE-CONTROL: max-age=%d\r\n", msg.CacheControlMaxAge)
	fmt.Fprintf(b, "DATE: %s\r\n", msg.Date)
	if msg.Ext {
		b.WriteString("EXT:\r\n")
	}
	fmt.Fprintf(b, "LOCATION: %s\r\n", msg.Location)
	fmt.Fprintf(b, "SERVER: %s\r\n", msg.Server)
	fmt.Fprintf(b, "ST: %s\r\n", msg.ST)
	fmt.Fprintf(b, "USN: %s\r\n", msg.USN)
	if msg.HaveBootID {
		fmt.Fprintf(b, "BOOTID.UPNP.ORG: %d\r\n", msg.BootID)
		fmt.Fprintf(b, "CONFIGID.UPNP.ORG: %d\r\n", msg.ConfigID)
	}
	if msg.HaveSearchPort && upnp.ValidSearchPort(msg.SearchPort) {
		fmt.Fprintf(b, "SEARCHPORT.UPNP.ORG: %d\r\n", msg.SearchPort)
	}
	b.WriteString("\r\n")
}
