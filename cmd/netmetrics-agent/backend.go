package main

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/breeze-rmm/netmetrics/internal/config"
	"github.com/breeze-rmm/netmetrics/internal/logging"
	"github.com/breeze-rmm/netmetrics/internal/netmetrics"
	"github.com/breeze-rmm/netmetrics/internal/netstack"
	"github.com/breeze-rmm/netmetrics/internal/provider/psutil"
	"github.com/breeze-rmm/netmetrics/internal/provider/snmp"
)

// newBackend builds the configured backend. The capture is non-nil only for
// the netstack backend, whose state comes from replayed frames.
func newBackend(cfg *config.Config) (netmetrics.Backend, *capture, error) {
	switch cfg.Backend {
	case "psutil":
		return psutil.NewBackend(), nil, nil
	case "snmp":
		c, err := snmpClientConfig(cfg.SNMP)
		if err != nil {
			return nil, nil, err
		}
		return snmp.NewBackend(c), nil, nil
	case "netstack":
		c, err := openCapture(cfg.Netstack)
		if err != nil {
			return nil, nil, err
		}
		return netstack.NewBackend(c.obs.Stack()), c, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// capture feeds frames from a file or a live interface into a netstack
// observer. A zero window means the source is read to EOF.
type capture struct {
	src    netstack.Source
	obs    *netstack.Observer
	window time.Duration
}

func openCapture(n config.NetstackConfig) (*capture, error) {
	local, err := resolveLocalAddrs(n)
	if err != nil {
		return nil, err
	}
	c := &capture{obs: netstack.NewObserver(netstack.New(), local)}
	if n.PcapFile != "" {
		c.src, err = netstack.OpenFile(n.PcapFile)
	} else {
		c.src, err = netstack.OpenInterface(n.Interface)
		c.window = time.Duration(n.CaptureSeconds) * time.Second
	}
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	return c, nil
}

func resolveLocalAddrs(n config.NetstackConfig) ([]netip.Addr, error) {
	if len(n.LocalAddrs) == 0 {
		return psutil.LocalAddrs(n.Interface)
	}
	addrs := make([]netip.Addr, 0, len(n.LocalAddrs))
	for _, raw := range n.LocalAddrs {
		a, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("netstack.local_addrs: %w", err)
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}

// collect fills the stack once for a snapshot and releases the source.
func (c *capture) collect(ctx context.Context) error {
	if c.window > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.window)
		defer cancel()
	}
	defer c.src.Close()
	return c.feed(ctx)
}

// start feeds the stack in the background until ctx is done.
func (c *capture) start(ctx context.Context) {
	go func() {
		defer c.src.Close()
		if err := c.feed(ctx); err != nil {
			log.Warn("capture stopped", logging.KeyBackend, "netstack", logging.KeyError, err)
		}
	}()
}

// feed returns when the source is exhausted or ctx is done. A live read can
// block on a quiet link, so ctx is not left to Feed alone.
func (c *capture) feed(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- netstack.Feed(ctx, c.src, c.obs) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return nil
	}
}

func snmpClientConfig(s config.SNMPConfig) (snmp.ClientConfig, error) {
	version, err := snmp.ParseVersion(s.Version)
	if err != nil {
		return snmp.ClientConfig{}, err
	}
	c := snmp.ClientConfig{
		Target:  s.Target,
		Port:    s.Port,
		Version: version,
		Timeout: time.Duration(s.TimeoutSeconds) * time.Second,
		Retries: s.Retries,
		Auth: snmp.Auth{
			Community:      s.Community,
			Username:       s.Username,
			AuthPassphrase: s.AuthPassphrase,
			PrivPassphrase: s.PrivPassphrase,
		},
	}
	if s.AuthPassphrase != "" {
		c.Auth.AuthProtocol = gosnmp.SHA
	}
	if s.PrivPassphrase != "" {
		c.Auth.PrivProtocol = gosnmp.AES
	}
	return c, nil
}
