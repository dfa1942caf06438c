package config

import (
	"fmt"
	"log/slog"
	"net/netip"
	"net/url"
	"strings"
	"unicode"
)

var knownBackends = map[string]bool{
	"psutil":   true,
	"snmp":     true,
	"netstack": true,
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validSNMPVersions = map[string]bool{
	"1":  true,
	"2c": true,
	"3":  true,
}

// ValidationResult separates errors that must stop startup from values that
// were clamped or ignored.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether startup should be refused.
func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// Validate returns every problem found, fatal or not. Out-of-range numbers
// are clamped in place.
func (c *Config) Validate() []error {
	result := c.ValidateTiered()
	return append(result.Fatals, result.Warnings...)
}

// ValidateTiered checks the config, clamps unsafe numeric values, and logs
// every finding as a warning.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	backend := strings.ToLower(strings.TrimSpace(c.Backend))
	if !knownBackends[backend] {
		r.Fatals = append(r.Fatals, fmt.Errorf("backend %q is not supported (use psutil, snmp or netstack)", c.Backend))
	} else {
		c.Backend = backend
	}

	if c.Backend == "snmp" {
		if c.SNMP.Target == "" {
			r.Fatals = append(r.Fatals, fmt.Errorf("snmp.target is required for the snmp backend"))
		}
		if !validSNMPVersions[c.SNMP.Version] {
			r.Fatals = append(r.Fatals, fmt.Errorf("snmp.version %q is not valid (use 1, 2c or 3)", c.SNMP.Version))
		}
		if c.SNMP.Version == "3" && c.SNMP.Username == "" {
			r.Fatals = append(r.Fatals, fmt.Errorf("snmp.username is required for SNMP v3"))
		}
	}

	if c.Backend == "netstack" {
		if c.Netstack.Interface == "" && c.Netstack.PcapFile == "" {
			r.Fatals = append(r.Fatals, fmt.Errorf("netstack.interface or netstack.pcap_file is required for the netstack backend"))
		}
		for _, raw := range c.Netstack.LocalAddrs {
			if _, err := netip.ParseAddr(raw); err != nil {
				r.Fatals = append(r.Fatals, fmt.Errorf("netstack.local_addrs entry %q: %w", raw, err))
			}
		}
		clamp(&r, "netstack.capture_seconds", &c.Netstack.CaptureSeconds, 1, 3600)
	}

	if c.S3Bucket != "" && strings.ContainsAny(c.S3Bucket, "/ ") {
		r.Fatals = append(r.Fatals, fmt.Errorf("s3_bucket %q is not a valid bucket name", c.S3Bucket))
	}
	if (c.S3AccessKeyID == "") != (c.S3SecretKey == "") {
		r.Fatals = append(r.Fatals, fmt.Errorf("s3_access_key_id and s3_secret_access_key must be set together"))
	}

	for key, raw := range map[string]string{"http_url": c.HTTPURL, "websocket_url": c.WebSocketURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			r.Fatals = append(r.Fatals, fmt.Errorf("%s %q is not a valid URL: %w", key, raw, err))
			continue
		}
		want := []string{"http", "https"}
		if key == "websocket_url" {
			want = []string{"ws", "wss"}
		}
		if u.Scheme != want[0] && u.Scheme != want[1] {
			r.Fatals = append(r.Fatals, fmt.Errorf("%s scheme must be %s or %s, got %q", key, want[0], want[1], u.Scheme))
		}
	}

	for _, ch := range c.HTTPToken {
		if unicode.IsControl(ch) {
			r.Fatals = append(r.Fatals, fmt.Errorf("http_token contains control characters"))
			break
		}
	}

	clamp(&r, "interval_seconds", &c.IntervalSeconds, 5, 86400)
	clamp(&r, "max_connections", &c.MaxConnections, 1, 4096)
	clamp(&r, "max_ports", &c.MaxPorts, 1, 65535)
	clamp(&r, "publish_workers", &c.PublishWorkers, 1, 32)
	clamp(&r, "publish_queue_size", &c.PublishQueueSize, 1, 1024)
	clamp(&r, "snmp.timeout_seconds", &c.SNMP.TimeoutSeconds, 1, 60)

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}
	if c.OutputFormat != "json" && c.OutputFormat != "yaml" {
		r.Warnings = append(r.Warnings, fmt.Errorf("output_format %q is not valid (use json or yaml), using json", c.OutputFormat))
		c.OutputFormat = "json"
	}

	for _, err := range r.Fatals {
		slog.Warn("config validation", "error", err, "fatal", true)
	}
	for _, err := range r.Warnings {
		slog.Warn("config validation", "error", err)
	}

	return r
}

func clamp(r *ValidationResult, key string, v *int, lo, hi int) {
	switch {
	case *v < lo:
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d is below minimum %d, clamping", key, *v, lo))
		*v = lo
	case *v > hi:
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d exceeds maximum %d, clamping", key, *v, hi))
		*v = hi
	}
}
