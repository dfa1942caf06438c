// Package report turns one collector pass into a device metrics report.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/netmetrics/internal/logging"
	"github.com/breeze-rmm/netmetrics/internal/netmetrics"
)

var log = logging.L("report")

const Version = "1.0"

// Limits sizes the buffers handed to the collector. A report lists at most
// this many entries per category; totals are always exact.
type Limits struct {
	MaxConnections int
	MaxPorts       int
	IncludeUDP     bool
}

type Header struct {
	ReportID int64  `json:"report_id" yaml:"report_id"`
	Version  string `json:"version" yaml:"version"`
}

type PortEntry struct {
	Port uint16 `json:"port" yaml:"port"`
}

type PortList struct {
	Ports []PortEntry `json:"ports" yaml:"ports"`
	Total uint32      `json:"total" yaml:"total"`
}

type NetworkStats struct {
	BytesIn    uint32 `json:"bytes_in" yaml:"bytes_in"`
	BytesOut   uint32 `json:"bytes_out" yaml:"bytes_out"`
	PacketsIn  uint32 `json:"packets_in" yaml:"packets_in"`
	PacketsOut uint32 `json:"packets_out" yaml:"packets_out"`
}

type ConnectionEntry struct {
	LocalPort  uint16 `json:"local_port" yaml:"local_port"`
	RemoteAddr string `json:"remote_addr" yaml:"remote_addr"`
}

type ConnectionList struct {
	Connections []ConnectionEntry `json:"connections" yaml:"connections"`
	Total       uint32            `json:"total" yaml:"total"`
}

type TCPConnections struct {
	Established ConnectionList `json:"established_connections" yaml:"established_connections"`
}

type Metrics struct {
	ListeningTCPPorts PortList       `json:"listening_tcp_ports" yaml:"listening_tcp_ports"`
	ListeningUDPPorts *PortList      `json:"listening_udp_ports,omitempty" yaml:"listening_udp_ports,omitempty"`
	NetworkStats      NetworkStats   `json:"network_stats" yaml:"network_stats"`
	TCPConnections    TCPConnections `json:"tcp_connections" yaml:"tcp_connections"`
}

type Report struct {
	Header  Header  `json:"header" yaml:"header"`
	Metrics Metrics `json:"metrics" yaml:"metrics"`
}

var lastID atomic.Int64

// nextID returns a report id derived from the wall clock that is strictly
// greater than every id handed out before in this process.
func nextID() int64 {
	now := time.Now().Unix()
	for {
		prev := lastID.Load()
		id := max(now, prev+1)
		if lastID.CompareAndSwap(prev, id) {
			return id
		}
	}
}

// Build runs every collector operation once and assembles the report.
// Each category is read in its own backend view, so the sections are not
// mutually consistent.
func Build(c *netmetrics.Collector, limits Limits) (*Report, error) {
	limits.MaxConnections = max(limits.MaxConnections, 1)
	limits.MaxPorts = max(limits.MaxPorts, 1)

	r := &Report{Header: Header{ReportID: nextID(), Version: Version}}

	var stats netmetrics.NetworkStats
	if err := c.GetNetworkStats(&stats); err != nil {
		return nil, fmt.Errorf("network stats: %w", err)
	}
	r.Metrics.NetworkStats = NetworkStats{
		BytesIn:    stats.BytesReceived,
		BytesOut:   stats.BytesSent,
		PacketsIn:  stats.PacketsReceived,
		PacketsOut: stats.PacketsSent,
	}

	tcp, err := portList(c.GetOpenTCPPorts, limits.MaxPorts)
	if err != nil {
		return nil, fmt.Errorf("tcp ports: %w", err)
	}
	r.Metrics.ListeningTCPPorts = tcp

	if limits.IncludeUDP {
		udp, err := portList(c.GetOpenUDPPorts, limits.MaxPorts)
		if err != nil {
			return nil, fmt.Errorf("udp ports: %w", err)
		}
		r.Metrics.ListeningUDPPorts = &udp
	}

	conns := make([]netmetrics.Connection, limits.MaxConnections)
	var total uint32
	if err := c.GetEstablishedConnections(conns, &total); err != nil {
		return nil, fmt.Errorf("established connections: %w", err)
	}
	list := ConnectionList{Connections: make([]ConnectionEntry, 0, min(int(total), len(conns))), Total: total}
	for _, conn := range conns[:min(int(total), len(conns))] {
		list.Connections = append(list.Connections, ConnectionEntry{
			LocalPort:  conn.LocalPort,
			RemoteAddr: conn.Endpoint(),
		})
	}
	r.Metrics.TCPConnections.Established = list

	log.Debug("report built",
		logging.KeyReportID, r.Header.ReportID,
		logging.KeyBackend, c.Backend().Name(),
		"tcpPorts", tcp.Total,
		"established", total,
	)
	return r, nil
}

func portList(get func([]uint16, *uint32) error, limit int) (PortList, error) {
	buf := make([]uint16, limit)
	var total uint32
	if err := get(buf, &total); err != nil {
		return PortList{}, err
	}
	n := min(int(total), len(buf))
	pl := PortList{Ports: make([]PortEntry, n), Total: total}
	for i, p := range buf[:n] {
		pl.Ports[i] = PortEntry{Port: p}
	}
	return pl, nil
}

// Format selects the encoding used by Encode.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	case "":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported output format %q", s)
	}
}

// Encode writes r to w.
func Encode(w io.Writer, r *Report, format Format) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// Marshal returns the compact JSON form used on the wire.
func Marshal(r *Report) ([]byte, error) {
	return json.Marshal(r)
}
