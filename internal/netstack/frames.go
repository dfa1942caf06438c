package netstack

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Input accounts for one inbound link-layer frame. Frames that do not carry
// an IPv4 or IPv6 packet are counted as drops and rejected with ErrNotIP.
func (s *Stack) Input(frame []byte) error {
	return s.account(frame, carriesIP(decode(frame)), false)
}

// Output accounts for one outbound link-layer frame.
func (s *Stack) Output(frame []byte) error {
	return s.account(frame, carriesIP(decode(frame)), true)
}

func (s *Stack) account(frame []byte, isIP, outbound bool) error {
	s.core.Lock()
	defer s.core.Unlock()
	switch {
	case !isIP:
		s.drops++
		return ErrNotIP
	case outbound:
		s.bytesOut += uint32(len(frame))
		s.packetsOut++
	default:
		s.bytesIn += uint32(len(frame))
		s.packetsIn++
	}
	return nil
}

// Drops returns how many frames were rejected.
func (s *Stack) Drops() uint32 {
	s.core.Lock()
	defer s.core.Unlock()
	return s.drops
}

// decode parses frame as Ethernet. It runs outside the core lock.
func decode(frame []byte) gopacket.Packet {
	return gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{
		Lazy:   true,
		NoCopy: true,
	})
}

func carriesIP(packet gopacket.Packet) bool {
	return packet.Layer(layers.LayerTypeIPv4) != nil || packet.Layer(layers.LayerTypeIPv6) != nil
}
