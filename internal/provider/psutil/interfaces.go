package psutil

import (
	"fmt"
	"net/netip"
	"slices"

	"github.com/shirou/gopsutil/v3/net"
)

// LocalAddrs returns the unicast addresses assigned to the named interface,
// or to every interface when name is empty.
func LocalAddrs(name string) ([]netip.Addr, error) {
	return localAddrs(net.Interfaces, name)
}

func localAddrs(list func() (net.InterfaceStatList, error), name string) ([]netip.Addr, error) {
	ifaces, err := list()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	var out []netip.Addr
	found := name == ""
	for _, iface := range ifaces {
		if name != "" && iface.Name != name {
			continue
		}
		found = true
		for _, a := range iface.Addrs {
			// gopsutil reports addresses in CIDR form.
			prefix, err := netip.ParsePrefix(a.Addr)
			if err != nil {
				continue
			}
			addr := prefix.Addr().Unmap()
			if addr.IsMulticast() || slices.Contains(out, addr) {
				continue
			}
			out = append(out, addr)
		}
	}
	if !found {
		return nil, fmt.Errorf("interface %q not found", name)
	}
	return out, nil
}
