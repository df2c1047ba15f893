package ssdp

import (
	"net"

	"github.com/upnpgo/upnp/internal/upnperr"
)

// OpenMulticastReceiver joins the SSDP multicast group on the given
// interface for receiving NOTIFY/M-SEARCH traffic: one multicast receive
// socket joined to 239.255.255.250 on UDP 1900 per network interface. A
// nil iface lets the kernel pick.
func OpenMulticastReceiver(iface *net.Interface) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp4", MulticastAddr)
	if err != nil {
		return nil, upnperr.Wrap(upnperr.KindTransportError, "resolve multicast address", err)
	}
	conn, err := net.ListenMulticastUDP("udp4", iface, addr)
	if err != nil {
		return nil, upnperr.Wrap(upnperr.KindTransportError, "join SSDP multicast group", err)
	}
	return conn, nil
}

// OpenUnicastSocket opens the unicast UDP socket used to send M-SEARCH
// requests and send/receive their responses. port 0 lets the kernel
// assign an ephemeral port.
func OpenUnicastSocket(port int) (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, upnperr.Wrap(upnperr.KindTransportError, "open SSDP unicast socket", err)
	}
	return conn, nil
}

// SendToMulticastGroup sends a raw datagram to the SSDP multicast group
// from the given socket.
func SendToMulticastGroup(conn *net.UDPConn, data []byte) error {
	addr, err := net.ResolveUDPAddr("udp4", MulticastAddr)
	if err != nil {
		return upnperr.Wrap(upnperr.KindTransportError, "resolve multicast address", err)
	}
	if _, err := conn.WriteToUDP(data, addr); err != nil {
		return upnperr.Wrap(upnperr.KindTransportError, "send SSDP datagram", err)
	}
	return nil
}

// MulticastSender adapts a *net.UDPConn to the Advertiser/SearchClient
// UDPSender interface, always sending to the SSDP multicast group.
type MulticastSender struct {
	Conn *net.UDPConn
}

func (m MulticastSender) Send(data []byte) error {
	return SendToMulticastGroup(m.Conn, data)
}
