package netstack

import (
	"context"
	"errors"
	"io"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/breeze-rmm/netmetrics/internal/logging"
)

var log = logging.L("netstack")

// ephemeralStart is the lowest port treated as a client-side ephemeral
// port. Local UDP sources below it are recorded as bound services.
const ephemeralStart = 32768

// Observer rebuilds a Stack's state from captured traffic. Frames sent by
// one of the local addresses go to Output, everything else to Input, and
// TCP handshakes and teardowns are replayed as Listen/Connect/Disconnect.
type Observer struct {
	stack *Stack
	local map[netip.Addr]bool
}

func NewObserver(s *Stack, local []netip.Addr) *Observer {
	o := &Observer{stack: s, local: make(map[netip.Addr]bool, len(local))}
	for _, a := range local {
		o.local[a.Unmap()] = true
	}
	return o
}

// Stack returns the stack the observer feeds.
func (o *Observer) Stack() *Stack {
	return o.stack
}

// Handle accounts for one captured Ethernet frame and applies any
// connection state change it carries.
func (o *Observer) Handle(frame []byte) error {
	packet := decode(frame)
	src, dst, ok := endpoints(packet)
	outbound := ok && o.local[src]
	if err := o.stack.account(frame, ok, outbound); err != nil {
		return err
	}

	if outbound == o.local[dst] {
		// Both ends local or both remote: nothing to attribute.
		return nil
	}

	if tcp, _ := packet.Layer(layers.LayerTypeTCP).(*layers.TCP); tcp != nil {
		o.tcp(src, dst, tcp, outbound)
	} else if udp, _ := packet.Layer(layers.LayerTypeUDP).(*layers.UDP); udp != nil && outbound {
		o.udp(src, udp)
	}
	return nil
}

func (o *Observer) tcp(src, dst netip.Addr, tcp *layers.TCP, outbound bool) {
	from := netip.AddrPortFrom(src, uint16(tcp.SrcPort))
	to := netip.AddrPortFrom(dst, uint16(tcp.DstPort))
	local, remote := to, from
	if outbound {
		local, remote = from, to
	}

	switch {
	case tcp.SYN && tcp.ACK:
		if outbound {
			// The local side answered a SYN, so it is listening.
			if _, err := o.stack.Listen(TCP, local); err != nil && !errors.Is(err, ErrAddrInUse) {
				log.Debug("listen from capture failed", "local", local, "error", err)
			}
		}
		if _, err := o.stack.Connect(local, remote); err != nil && !errors.Is(err, ErrAddrInUse) {
			log.Debug("connect from capture failed", "local", local, "remote", remote, "error", err)
		}
	case tcp.FIN || tcp.RST:
		_ = o.stack.Disconnect(local, remote)
	}
}

func (o *Observer) udp(src netip.Addr, udp *layers.UDP) {
	port := uint16(udp.SrcPort)
	if port == 0 || port >= ephemeralStart {
		return
	}
	if _, err := o.stack.Listen(UDP, netip.AddrPortFrom(src, port)); err != nil && !errors.Is(err, ErrAddrInUse) {
		log.Debug("udp bind from capture failed", "port", port, "error", err)
	}
}

func endpoints(packet gopacket.Packet) (src, dst netip.Addr, ok bool) {
	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		src, _ = netip.AddrFromSlice(ip.SrcIP.To4())
		dst, _ = netip.AddrFromSlice(ip.DstIP.To4())
	case *layers.IPv6:
		src, _ = netip.AddrFromSlice(ip.SrcIP)
		dst, _ = netip.AddrFromSlice(ip.DstIP)
	default:
		return src, dst, false
	}
	return src.Unmap(), dst.Unmap(), src.IsValid() && dst.IsValid()
}

// Feed reads frames from src into o until src is exhausted or ctx is done.
// Non-IP frames are counted as drops and skipped.
func Feed(ctx context.Context, src gopacket.PacketDataSource, o *Observer) error {
	var frames int
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, _, err := src.ReadPacketData()
		switch {
		case errors.Is(err, io.EOF):
			log.Info("capture source exhausted", "frames", frames)
			return nil
		case err != nil:
			return err
		}
		frames++
		if err := o.Handle(data); err != nil && !errors.Is(err, ErrNotIP) {
			return err
		}
	}
}
