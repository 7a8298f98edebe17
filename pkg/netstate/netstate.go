// Package netstate reports the host's network classification to the gate.
package netstate

import (
	"net"
	"strings"

	"github.com/guido-cesarano/rungate/pkg/gate"
	"github.com/guido-cesarano/rungate/pkg/logger"
)

// Static always reports the same classification. Useful for tests and for pinning the
// connectivity of a host whose interfaces cannot be inspected.
type Static gate.Network

func (s Static) Network() gate.Network { return gate.Network(s) }

// Interface is the subset of net.Interface the probe classifies.
type Interface struct {
	Name  string
	Flags net.Flags
	Addrs []net.Addr
}

// cellularPrefixes are interface name prefixes used by modem drivers.
var cellularPrefixes = []string{"wwan", "rmnet", "ccmni", "pdp_ip"}

// Probe classifies connectivity from the host's network interfaces each time it is asked.
//
// An interface counts when it is up, not loopback, and carries a global unicast address.
// Wireless interfaces and wired LAN both classify as wifi; modem interfaces as cellular.
type Probe struct {
	// List enumerates interfaces; nil uses the host's.
	List func() ([]Interface, error)
}

// NewProbe returns a Probe over the host's interfaces.
func NewProbe() *Probe {
	return &Probe{}
}

// Network returns the best classification among usable interfaces. Enumeration errors are
// logged and reported as no connectivity.
func (p *Probe) Network() gate.Network {
	list := p.List
	if list == nil {
		list = hostInterfaces
	}

	ifaces, err := list()
	if err != nil {
		logger.Log.Warn().Err(err).Msg("Failed to list network interfaces")
		return gate.NetworkNone
	}

	best := gate.NetworkNone
	for _, iface := range ifaces {
		if !usable(iface) {
			continue
		}
		if n := classify(iface.Name); n > best {
			best = n
		}
	}
	return best
}

func classify(name string) gate.Network {
	for _, prefix := range cellularPrefixes {
		if strings.HasPrefix(name, prefix) {
			return gate.NetworkCellular
		}
	}
	// wireless or wired LAN
	return gate.NetworkWiFi
}

func usable(iface Interface) bool {
	if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
		return false
	}
	for _, addr := range iface.Addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ipnet.IP.IsGlobalUnicast() {
			return true
		}
	}
	return false
}

func hostInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		out = append(out, Interface{Name: iface.Name, Flags: iface.Flags, Addrs: addrs})
	}
	return out, nil
}
