// Package snmp reads a remote device's connection tables and interface
// counters over SNMP (TCP-MIB, UDP-MIB, IF-MIB).
package snmp

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/gosnmp/gosnmp"

	"github.com/breeze-rmm/netmetrics/internal/logging"
	"github.com/breeze-rmm/netmetrics/internal/netmetrics"
)

var log = logging.L("snmp")

const (
	oidTCPConnState  = "1.3.6.1.2.1.6.13.1.1"
	oidUDPLocalPort  = "1.3.6.1.2.1.7.5.1.2"
	oidIfInOctets    = "1.3.6.1.2.1.2.2.1.10"
	oidIfInUcastPkts = "1.3.6.1.2.1.2.2.1.11"
	oidIfOutOctets   = "1.3.6.1.2.1.2.2.1.16"
	oidIfOutUcast    = "1.3.6.1.2.1.2.2.1.17"
)

// tcpConnState values from TCP-MIB.
const (
	tcpStateListen      = 2
	tcpStateEstablished = 5
)

// Reader implements netmetrics.BatchReader against one SNMP agent. Every
// ReadBatch opens a session, walks the tables and closes it again.
type Reader struct {
	config ClientConfig
	dial   func(ClientConfig) (Walker, error)
}

// NewReader returns a reader for the device described by config.
func NewReader(config ClientConfig) *Reader {
	return &Reader{config: config, dial: Dial}
}

// NewBackend wraps an SNMP reader in the batch adapter.
func NewBackend(config ClientConfig) *netmetrics.BatchBackend {
	return netmetrics.NewBatchBackend("snmp", NewReader(config))
}

func (r *Reader) ReadBatch() (*netmetrics.Batch, error) {
	w, err := r.dial(r.config)
	if err != nil {
		return nil, err
	}
	defer w.Close()

	batch := &netmetrics.Batch{}
	seenTCP := make(map[uint16]bool)

	err = w.BulkWalk(oidTCPConnState, func(pdu gosnmp.SnmpPDU) error {
		state, ok := toUint64(pdu)
		if !ok {
			return nil
		}
		idx, ok := indexOf(pdu.Name, oidTCPConnState)
		if !ok {
			return nil
		}
		local, remote, ok := parseTCPConnIndex(idx)
		if !ok {
			log.Debug("skipping malformed tcpConnTable index", "oid", pdu.Name)
			return nil
		}
		switch state {
		case tcpStateListen:
			if !seenTCP[local.Port()] {
				seenTCP[local.Port()] = true
				batch.TCPPorts = append(batch.TCPPorts, local.Port())
			}
		case tcpStateEstablished:
			batch.Established = append(batch.Established, netmetrics.Connection{
				LocalAddr:  local.Addr(),
				LocalPort:  local.Port(),
				RemoteAddr: remote.Addr(),
				RemotePort: remote.Port(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk tcpConnTable: %w", err)
	}

	seenUDP := make(map[uint16]bool)
	err = w.BulkWalk(oidUDPLocalPort, func(pdu gosnmp.SnmpPDU) error {
		v, ok := toUint64(pdu)
		if !ok || v == 0 || v > 65535 {
			return nil
		}
		port := uint16(v)
		if !seenUDP[port] {
			seenUDP[port] = true
			batch.UDPPorts = append(batch.UDPPorts, port)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk udpTable: %w", err)
	}

	counters := []struct {
		oid string
		dst *uint32
	}{
		{oidIfInOctets, &batch.Stats.BytesReceived},
		{oidIfInUcastPkts, &batch.Stats.PacketsReceived},
		{oidIfOutOctets, &batch.Stats.BytesSent},
		{oidIfOutUcast, &batch.Stats.PacketsSent},
	}
	for _, c := range counters {
		var sum uint32
		err := w.BulkWalk(c.oid, func(pdu gosnmp.SnmpPDU) error {
			if v, ok := toUint64(pdu); ok {
				sum += uint32(v)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", c.oid, err)
		}
		*c.dst = sum
	}

	log.Debug("device tables read",
		"target", r.config.Target,
		"tcpListen", len(batch.TCPPorts),
		"udpBound", len(batch.UDPPorts),
		"established", len(batch.Established),
	)
	return batch, nil
}

// indexOf returns the sub-identifiers following root in name.
func indexOf(name, root string) ([]uint32, bool) {
	name = strings.TrimPrefix(name, ".")
	rest, ok := strings.CutPrefix(name, root+".")
	if !ok {
		return nil, false
	}
	parts := strings.Split(rest, ".")
	idx := make([]uint32, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, false
		}
		idx[i] = uint32(v)
	}
	return idx, true
}

// parseTCPConnIndex decodes localAddr(4).localPort.remAddr(4).remPort.
func parseTCPConnIndex(idx []uint32) (local, remote netip.AddrPort, ok bool) {
	if len(idx) != 10 {
		return local, remote, false
	}
	la, ok1 := ipv4(idx[0:4])
	ra, ok2 := ipv4(idx[5:9])
	if !ok1 || !ok2 || idx[4] > 65535 || idx[9] > 65535 {
		return local, remote, false
	}
	return netip.AddrPortFrom(la, uint16(idx[4])), netip.AddrPortFrom(ra, uint16(idx[9])), true
}

func ipv4(octets []uint32) (netip.Addr, bool) {
	var b [4]byte
	for i, o := range octets {
		if o > 255 {
			return netip.Addr{}, false
		}
		b[i] = byte(o)
	}
	return netip.AddrFrom4(b), true
}

// toUint64 converts integer-like PDU values (Integer, Counter32, Gauge32,
// Counter64) and rejects everything else.
func toUint64(pdu gosnmp.SnmpPDU) (uint64, bool) {
	switch pdu.Type {
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Gauge32, gosnmp.Counter64, gosnmp.Uinteger32, gosnmp.TimeTicks:
	default:
		return 0, false
	}
	bi := gosnmp.ToBigInt(pdu.Value)
	if bi == nil || bi.Sign() < 0 || bi.BitLen() > 64 {
		return 0, false
	}
	return bi.Uint64(), true
}
