// Package netmetrics samples a network stack: traffic counters, listening
// ports and established connections, copied into caller-owned buffers.
package netmetrics

import (
	"github.com/breeze-rmm/netmetrics/internal/logging"
)

var log = logging.L("netmetrics")

// Collector runs the sampling operations against one backend. It keeps no
// state between calls and starts no goroutines; every call blocks until the
// backend view completes.
type Collector struct {
	backend Backend
}

// New creates a collector over b.
func New(b Backend) *Collector {
	return &Collector{backend: b}
}

// Backend returns the backend the collector reads from.
func (c *Collector) Backend() Backend {
	return c.backend
}

// GetNetworkStats copies the four traffic counters into out. All four are
// read within a single backend view.
func (c *Collector) GetNetworkStats(out *NetworkStats) error {
	if out == nil {
		return ErrBadParameter
	}

	var stats NetworkStats
	err := c.backend.View(func(v View) error {
		stats = v.Stats()
		return nil
	})
	if err != nil {
		return err
	}

	log.Debug("network stats read",
		"backend", c.backend.Name(),
		"bytesReceived", stats.BytesReceived,
		"packetsReceived", stats.PacketsReceived,
		"bytesSent", stats.BytesSent,
		"packetsSent", stats.PacketsSent,
	)
	*out = stats
	return nil
}

// GetEstablishedConnections copies up to len(out) established connections
// into out and stores the total number observed in *outCount.
//
// A nil out asks for the count only. A non-nil out with zero length, or a
// nil outCount, is rejected with ErrBadParameter and nothing is written.
// A total larger than len(out) is reported as-is and is not an error.
func (c *Collector) GetEstablishedConnections(out []Connection, outCount *uint32) error {
	return enumerate(c, Established, out, outCount, func(rec Connection) Connection {
		return rec
	})
}

// GetOpenTCPPorts copies up to len(out) listening TCP ports into out and
// stores the total in *outCount. Validation and truncation follow
// GetEstablishedConnections.
func (c *Collector) GetOpenTCPPorts(out []uint16, outCount *uint32) error {
	return enumerate(c, TCPListen, out, outCount, localPort)
}

// GetOpenUDPPorts is the UDP counterpart of GetOpenTCPPorts.
func (c *Collector) GetOpenUDPPorts(out []uint16, outCount *uint32) error {
	return enumerate(c, UDPListen, out, outCount, localPort)
}

func localPort(rec Connection) uint16 {
	return rec.LocalPort
}

func enumerate[T any](c *Collector, cat Category, out []T, outCount *uint32, project func(Connection) T) error {
	if outCount == nil || (out != nil && len(out) == 0) {
		return ErrBadParameter
	}

	total := 0
	err := c.backend.View(func(v View) error {
		for rec := range v.Records(cat) {
			if total < len(out) {
				out[total] = project(rec)
			}
			total++
		}
		return nil
	})
	if err != nil {
		return err
	}

	if out != nil && total > len(out) {
		log.Warn("output truncated due to insufficient buffer size",
			"backend", c.backend.Name(),
			"category", cat.String(),
			"capacity", len(out),
			"total", total,
		)
	}
	*outCount = uint32(total)
	return nil
}
