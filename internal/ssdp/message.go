// Package ssdp implements the Simple Service Discovery Protocol wire codec
// and the advertisement/search engine built on top of it. Messages are
// HTTP/1.1-style datagrams exchanged over UDP multicast on
// 239.255.255.250:1900, decoded here with net/textproto the same way a
// captured SSDP packet is decoded off the wire.
package ssdp

import (
	"bufio"
	"bytes"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/upnpgo/upnp/internal/upnp"
	"github.com/upnpgo/upnp/internal/upnperr"
)

// MaxDatagramSize is the largest SSDP datagram this module will decode.
// Larger datagrams are rejected as malformed.
const MaxDatagramSize = 2048

// MulticastAddr is the UPnP SSDP multicast group and port.
const MulticastAddr = "239.255.255.250:1900"

// NTS is the NOTIFY sub-type.
type NTS string

const (
	NTSAlive  NTS = "ssdp:alive"
	NTSByebye NTS = "ssdp:byebye"
	NTSUpdate NTS = "ssdp:update"
)

// MessageType discriminates the five SSDP message variants.
type MessageType int

const (
	TypeAdvertiseAlive MessageType = iota
	TypeAdvertiseByebye
	TypeAdvertiseUpdate
	TypeSearch
	TypeSearchResponse
)

// Message is the decoded form of any SSDP datagram. Not every field is
// populated for every MessageType; Decode enforces the per-type required
// headers.
type Message struct {
	Type MessageType

	Host string // HOST header, required on every variant except SearchResponse

	// Advertise-* fields.
	CacheControlMaxAge int // seconds, present on Alive/SearchResponse
	Location           string
	NT                 string
	USN                string
	Server             string // SERVER header (Advertise-Alive, SearchResponse)
	BootID             int
	ConfigID           int
	NextBootID         int
	HaveBootID         bool // true if BOOTID.UPNP.ORG/CONFIGID.UPNP.ORG were present (UPnP/1.1)

	// Search fields.
	MX        int
	ST        string
	UserAgent string

	// SearchResponse fields.
	Date      string
	Ext       bool
	SearchPort int
	HaveSearchPort bool
}

// Decode parses a raw SSDP datagram. It rejects datagrams over
// MaxDatagramSize, unrecognised NTS values, and any variant missing a
// mandatory header per the table.
func Decode(data []byte) (Message, error) {
	if len(data) > MaxDatagramSize {
		return Message{}, upnperr.New(upnperr.KindMalformedMessage, "SSDP datagram exceeds 2048 bytes")
	}

	reader := bufio.NewReader(bytes.NewReader(data))
	tp := textproto.NewReader(reader)

	startLine, err := tp.ReadLine()
	if err != nil {
		return Message{}, upnperr.Wrap(upnperr.KindMalformedMessage, "failed to read SSDP start line", err)
	}
	startLine = strings.TrimSpace(startLine)

	header, err := tp.ReadMIMEHeader()
	if err != nil && len(header) == 0 {
		return Message{}, upnperr.Wrap(upnperr.KindMalformedMessage, "failed to read SSDP headers", err)
	}

	switch {
	case strings.HasPrefix(startLine, "NOTIFY"):
		return decodeNotify(header)
	case strings.HasPrefix(startLine, "M-SEARCH"):
		return decodeSearch(header)
	case strings.HasPrefix(startLine, "HTTP/1.1 200") || strings.HasPrefix(startLine, "HTTP/1.1 200 OK"):
		return decodeSearchResponse(header)
	default:
		return Message{}, upnperr.New(upnperr.KindMalformedMessage, "unrecognised SSDP start line: "+startLine)
	}
}

func decodeNotify(h textproto.MIMEHeader) (Message, error) {
	host := h.Get("Host")
	if host == "" {
		return Message{}, upnperr.New(upnperr.KindMalformedMessage, "NOTIFY missing HOST")
	}
	nts := NTS(h.Get("Nts"))
	switch nts {
	case NTSAlive:
		return decodeAlive(h, host)
	case NTSByebye:
		return decodeByebye(h, host)
	case NTSUpdate:
		return decodeUpdate(h, host)
	default:
		return Message{}, upnperr.New(upnperr.KindMalformedMessage, "unknown NTS: "+string(nts))
	}
}

func requireHeaders(h textproto.MIMEHeader, keys ...string) error {
	for _, k := range keys {
		if h.Get(k) == "" {
			return upnperr.New(upnperr.KindMalformedMessage, "missing required header: "+k)
		}
	}
	return nil
}

func decodeAlive(h textproto.MIMEHeader, host string) (Message, error) {
	if err := requireHeaders(h, "Cache-Control", "Location", "Nt", "Usn", "Server"); err != nil {
		return Message{}, err
	}
	maxAge, err := parseMaxAge(h.Get("Cache-Control"))
	if err != nil {
		return Message{}, err
	}
	msg := Message{
		Type:               TypeAdvertiseAlive,
		Host:               host,
		CacheControlMaxAge: maxAge,
		Location:           h.Get("Location"),
		NT:                 h.Get("Nt"),
		USN:                h.Get("Usn"),
		Server:             h.Get("Server"),
	}
	if err := decodeVersionIDs(h, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func decodeByebye(h textproto.MIMEHeader, host string) (Message, error) {
	if err := requireHeaders(h, "Nt", "Usn"); err != nil {
		return Message{}, err
	}
	msg := Message{
		Type: TypeAdvertiseByebye,
		Host: host,
		NT:   h.Get("Nt"),
		USN:  h.Get("Usn"),
	}
	// BOOTID/CONFIGID are optional on byebye (device is leaving, downstream
	// consumers key eviction off USN alone), but decode them if present.
	_ = decodeVersionIDs(h, &msg)
	return msg, nil
}

func decodeUpdate(h textproto.MIMEHeader, host string) (Message, error) {
	if err := requireHeaders(h, "Location", "Nt", "Usn", "Bootid.Upnp.Org", "Configid.Upnp.Org", "Nextbootid.Upnp.Org"); err != nil {
		return Message{}, err
	}
	msg := Message{
		Type:     TypeAdvertiseUpdate,
		Host:     host,
		Location: h.Get("Location"),
		NT:       h.Get("Nt"),
		USN:      h.Get("Usn"),
	}
	bootID, err := strconv.Atoi(h.Get("Bootid.Upnp.Org"))
	if err != nil || bootID < 0 {
		return Message{}, upnperr.New(upnperr.KindMalformedMessage, "ssdp:update missing or invalid BOOTID/CONFIGID/NEXTBOOTID")
	}
	configID, err := strconv.Atoi(h.Get("Configid.Upnp.Org"))
	if err != nil || configID < 0 {
		return Message{}, upnperr.New(upnperr.KindMalformedMessage, "ssdp:update missing or invalid BOOTID/CONFIGID/NEXTBOOTID")
	}
	nextBootID, err := strconv.Atoi(h.Get("Nextbootid.Upnp.Org"))
	if err != nil || nextBootID < 0 {
		return Message{}, upnperr.New(upnperr.KindMalformedMessage, "ssdp:update missing or invalid BOOTID/CONFIGID/NEXTBOOTID")
	}
	msg.BootID = bootID
	msg.ConfigID = configID
	msg.NextBootID = nextBootID
	msg.HaveBootID = true
	return msg, nil
}

func decodeSearch(h textproto.MIMEHeader) (Message, error) {
	if err := requireHeaders(h, "Host", "Man", "Mx", "St"); err != nil {
		return Message{}, err
	}
	if !strings.Contains(strings.ToLower(h.Get("Man")), "ssdp:discover") {
		return Message{}, upnperr.New(upnperr.KindMalformedMessage, `MAN must be "ssdp:discover"`)
	}
	mx, err := strconv.Atoi(h.Get("Mx"))
	if err != nil || mx < 1 {
		return Message{}, upnperr.New(upnperr.KindMalformedMessage, "invalid MX")
	}
	return Message{
		Type:      TypeSearch,
		Host:      h.Get("Host"),
		MX:        mx,
		ST:        h.Get("St"),
		UserAgent: h.Get("User-Agent"),
	}, nil
}

func decodeSearchResponse(h textproto.MIMEHeader) (Message, error) {
	if err := requireHeaders(h, "Cache-Control", "Date", "Location", "Server", "St", "Usn"); err != nil {
		return Message{}, err
	}
	if !hasHeader(h, "Ext") {
		return Message{}, upnperr.New(upnperr.KindMalformedMessage, "search response missing required header: EXT")
	}
	maxAge, err := parseMaxAge(h.Get("Cache-Control"))
	if err != nil {
		return Message{}, err
	}
	msg := Message{
		Type:               TypeSearchResponse,
		CacheControlMaxAge: maxAge,
		Date:               h.Get("Date"),
		Location:           h.Get("Location"),
		Server:             h.Get("Server"),
		ST:                 h.Get("St"),
		USN:                h.Get("Usn"),
		Ext:                hasHeader(h, "Ext"),
	}
	if err := decodeVersionIDs(h, &msg); err != nil {
		return Message{}, err
	}
	if sp := h.Get("Searchport.Upnp.Org"); sp != "" {
		port, err := strconv.Atoi(sp)
		if err == nil && upnp.ValidSearchPort(port) {
			msg.SearchPort = port
			msg.HaveSearchPort = true
		}
	}
	return msg, nil
}

func hasHeader(h textproto.MIMEHeader, key string) bool {
	_, ok := h[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}

// decodeVersionIDs reads BOOTID.UPNP.ORG/CONFIGID.UPNP.ORG when the SERVER
// header (or, for byebye, NT/USN context) indicates UPnP/1.1, enforcing
// MissingVersionIds rule: if a UPnP/1.1 token is advertised,
// both IDs must be present and >= 0.
func decodeVersionIDs(h textproto.MIMEHeader, msg *Message) error {
	bootStr := h.Get("Bootid.Upnp.Org")
	configStr := h.Get("Configid.Upnp.Org")
	isV11 := strings.Contains(msg.Server, "UPnP/1.1")
	if bootStr == "" && configStr == "" {
		if isV11 {
			return upnperr.New(upnperr.KindMalformedMessage, "UPnP/1.1 message missing BOOTID.UPNP.ORG/CONFIGID.UPNP.ORG")
		}
		return nil
	}
	bootID, err1 := strconv.Atoi(bootStr)
	configID, err2 := strconv.Atoi(configStr)
	if err1 != nil || err2 != nil || bootID < 0 || configID < 0 {
		return upnperr.New(upnperr.KindMalformedMessage, "invalid BOOTID.UPNP.ORG/CONFIGID.UPNP.ORG")
	}
	msg.BootID = bootID
	msg.ConfigID = configID
	msg.HaveBootID = true
	return nil
}

func parseMaxAge(cacheControl string) (int, error) {
	// "max-age=1800"
	idx := strings.Index(cacheControl, "max-age=")
	if idx < 0 {
		return 0, upnperr.New(upnperr.KindMalformedMessage, "CACHE-CONTROL missing max-age: "+cacheControl)
	}
	rest := cacheControl[idx+len("max-age="):]
	end := strings.IndexAny(rest, ", \t")
	if end >= 0 {
		rest = rest[:end]
	}
	age, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 0, upnperr.New(upnperr.KindMalformedMessage, "invalid max-age: "+cacheControl)
	}
	return age, nil
}
