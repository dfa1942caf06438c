package netstack

import (
	"github.com/google/gopacket/pcapgo"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// ipOnly accepts IPv4 and IPv6 frames whole and discards the rest in the
// kernel.
var ipOnly = []bpf.Instruction{
	bpf.LoadAbsolute{Off: 12, Size: 2},
	bpf.JumpIf{Cond: bpf.JumpEqual, Val: unix.ETH_P_IP, SkipTrue: 2},
	bpf.JumpIf{Cond: bpf.JumpEqual, Val: unix.ETH_P_IPV6, SkipTrue: 1},
	bpf.RetConstant{Val: 0},
	bpf.RetConstant{Val: 0x40000},
}

type ifaceSource struct {
	*pcapgo.EthernetHandle
	name string
}

func (s ifaceSource) Close() error {
	if st, err := s.Stats(); err == nil {
		log.Info("capture closed", "interface", s.name, "packets", st.Packets, "kernelDrops", st.Drops)
	}
	s.EthernetHandle.Close()
	return nil
}

// OpenInterface captures IP frames on the named interface through an
// AF_PACKET socket. It needs CAP_NET_RAW.
func OpenInterface(name string) (Source, error) {
	filter, err := bpf.Assemble(ipOnly)
	if err != nil {
		return nil, err
	}
	h, err := pcapgo.NewEthernetHandle(name)
	if err != nil {
		return nil, err
	}
	if err := h.SetBPF(filter); err != nil {
		h.Close()
		return nil, err
	}
	return ifaceSource{EthernetHandle: h, name: name}, nil
}
