package netstack

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Source is a frame source the Observer can be fed from.
type Source interface {
	gopacket.PacketDataSource
	io.Closer
}

type fileSource struct {
	gopacket.PacketDataSource
	f *os.File
}

func (s *fileSource) Close() error { return s.f.Close() }

// OpenFile opens a pcap or pcapng capture of Ethernet frames.
func OpenFile(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(f)

	var (
		src      gopacket.PacketDataSource
		linkType layers.LinkType
	)
	if strings.HasSuffix(strings.ToLower(path), ".pcapng") {
		r, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("read pcapng %s: %w", path, err)
		}
		src, linkType = r, r.LinkType()
	} else {
		r, err := pcapgo.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("read pcap %s: %w", path, err)
		}
		src, linkType = r, r.LinkType()
	}
	if linkType != layers.LinkTypeEthernet {
		f.Close()
		return nil, fmt.Errorf("capture %s has link type %s, want Ethernet", path, linkType)
	}
	return &fileSource{PacketDataSource: src, f: f}, nil
}
