package ssdp

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/upnpgo/upnp/internal/upnp"
)

// USNSource supplies the ordered set of USNs to advertise for a hosted
// device tree: one upnp:rootdevice, one per UDN, one per device type, one
// per service type.
type USNSource interface {
	AdvertisedUSNs() []upnp.Discovery
}

// UDPSender is the minimal send capability Advertiser needs; MulticastSender
// (sockets.go) adapts a real *net.UDPConn to it. Tests substitute a
// capturing fake without opening a real UDP socket.
type UDPSender interface {
	Send(data []byte) error
}

// Advertiser drives the host-side SSDP advertisement schedule: alive
// bursts, periodic re-advertisement, and byebye on shutdown.
type Advertiser struct {
	connSender UDPSender
	Location   func() string // recomputed per-burst since the port may change across restarts
	Server     upnp.ProductTokens
	MaxAge     int // pre-clamp; Advertiser clamps via upnp.ClampMaxAge
	BootID     int
	ConfigID   int
	Logger     *slog.Logger

	// Repeats is the number of times each message is sent per burst;
	// UDA mandates 3.
	Repeats int
	// GapMin/GapMax bound the randomised inter-repeat delay (typically
	// 50-200ms).
	GapMin, GapMax time.Duration

	rng *rand.Rand
}

// NewAdvertiser builds an Advertiser that sends over conn.
func NewAdvertiser(conn UDPSender, logger *slog.Logger) *Advertiser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Advertiser{
		connSender: conn,
		Logger:     logger,
		Repeats:    3,
		GapMin:     50 * time.Millisecond,
		GapMax:     200 * time.Millisecond,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (a *Advertiser) jitter() time.Duration {
	span := a.GapMax - a.GapMin
	if span <= 0 {
		return a.GapMin
	}
	return a.GapMin + time.Duration(a.rng.Int63n(int64(span)))
}

// AdvertiseAlive emits ssdp:alive for every USN in src, each repeated
// Repeats times with a randomised gap, in UDA's mandated order: root, UDN,
// device types, service types.
func (a *Advertiser) AdvertiseAlive(ctx context.Context, src USNSource) error {
	return a.burst(ctx, src, a.buildAlive)
}

// AdvertiseByebye emits ssdp:byebye for every USN in src, same order and
// repeat count as AdvertiseAlive.
func (a *Advertiser) AdvertiseByebye(ctx context.Context, src USNSource) error {
	return a.burst(ctx, src, a.buildByebye)
}

// AdvertiseUpdate emits a single ssdp:update announcing nextBootID, used
// when a configuration change is pending a boot-id bump.
func (a *Advertiser) AdvertiseUpdate(ctx context.Context, d upnp.Discovery, location string, nextBootID int) error {
	msg := Message{
		Type:       TypeAdvertiseUpdate,
		Host:       MulticastAddr,
		Location:   location,
		NT:         d.NT(),
		USN:        d.USN(),
		BootID:     a.BootID,
		ConfigID:   a.ConfigID,
		NextBootID: nextBootID,
	}
	return a.connSender.Send(Encode(msg))
}

func (a *Advertiser) buildAlive(d upnp.Discovery) Message {
	return Message{
		Type:               TypeAdvertiseAlive,
		Host:               MulticastAddr,
		CacheControlMaxAge: upnp.ClampMaxAge(a.MaxAge),
		Location:           a.Location(),
		NT:                 d.NT(),
		USN:                d.USN(),
		Server:             a.Server.String(),
		BootID:             a.BootID,
		ConfigID:           a.ConfigID,
		HaveBootID:         a.Server.Minor() == 1,
	}
}

func (a *Advertiser) buildByebye(d upnp.Discovery) Message {
	return Message{
		Type:       TypeAdvertiseByebye,
		Host:       MulticastAddr,
		NT:         d.NT(),
		USN:        d.USN(),
		BootID:     a.BootID,
		ConfigID:   a.ConfigID,
		HaveBootID: a.Server.Minor() == 1,
	}
}

func (a *Advertiser) burst(ctx context.Context, src USNSource, build func(upnp.Discovery) Message) error {
	usns := src.AdvertisedUSNs()
	for _, d := range usns {
		msg := build(d)
		encoded := Encode(msg)
		for i := 0; i < a.Repeats; i++ {
			if err := a.connSender.Send(encoded); err != nil {
				a.Logger.Warn("ssdp advertisement send failed", "usn", d.USN(), "error", err)
				return err
			}
			if i < a.Repeats-1 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(a.jitter()):
				}
			}
		}
	}
	return nil
}

// NextReadvertiseInterval returns a uniform-random duration in
// [maxAge/4, maxAge/2]
func (a *Advertiser) NextReadvertiseInterval() time.Duration {
	maxAge := upnp.ClampMaxAge(a.MaxAge)
	lo := time.Duration(maxAge/4) * time.Second
	hi := time.Duration(maxAge/2) * time.Second
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(a.rng.Int63n(int64(hi-lo)))
}
