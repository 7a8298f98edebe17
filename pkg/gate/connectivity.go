package gate

import (
	"fmt"
	"strings"
)

// Network is the host's current reachability classification.
type Network int

const (
	NetworkNone Network = iota
	NetworkCellular
	NetworkWiFi
)

func (n Network) String() string {
	switch n {
	case NetworkNone:
		return "none"
	case NetworkCellular:
		return "cellular"
	case NetworkWiFi:
		return "wifi"
	default:
		return fmt.Sprintf("network(%d)", int(n))
	}
}

// MarshalText lets Network render as its name in JSON status output.
func (n Network) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

func (n *Network) UnmarshalText(b []byte) error {
	switch string(b) {
	case "none":
		*n = NetworkNone
	case "cellular":
		*n = NetworkCellular
	case "wifi":
		*n = NetworkWiFi
	default:
		return fmt.Errorf("unknown network %q", b)
	}
	return nil
}

// ConnectivityState reports the current network classification.
// Engines without one never block on connectivity.
type ConnectivityState interface {
	Network() Network
}

// Connectivity is the network requirement a task places on the host.
type Connectivity int

const (
	// ConnectivityAny runs regardless of the network.
	ConnectivityAny Connectivity = iota
	// ConnectivityReachable requires some connection, cellular or wifi.
	ConnectivityReachable
	// ConnectivityNotReachable requires no connection at all (flight mode for example).
	ConnectivityNotReachable
	// ConnectivityCellular requires cellular or better.
	ConnectivityCellular
	// ConnectivityWiFi requires wifi (or LAN) exactly.
	ConnectivityWiFi
)

// Satisfied reports whether the classification meets the requirement.
func (c Connectivity) Satisfied(n Network) bool {
	switch c {
	case ConnectivityAny:
		return true
	case ConnectivityNotReachable:
		return n == NetworkNone
	case ConnectivityReachable:
		return n != NetworkNone
	case ConnectivityCellular:
		return n == NetworkCellular || n == NetworkWiFi
	case ConnectivityWiFi:
		return n == NetworkWiFi
	default:
		return false
	}
}

func (c Connectivity) Validate() error {
	if c < ConnectivityAny || c > ConnectivityWiFi {
		return fmt.Errorf("%w: %d", ErrInvalidConnectivity, int(c))
	}
	return nil
}

func (c Connectivity) String() string {
	switch c {
	case ConnectivityAny:
		return "any"
	case ConnectivityReachable:
		return "reachable"
	case ConnectivityNotReachable:
		return "not-reachable"
	case ConnectivityCellular:
		return "cellular"
	case ConnectivityWiFi:
		return "wifi"
	default:
		return fmt.Sprintf("connectivity(%d)", int(c))
	}
}

// ParseConnectivity is the inverse of String. The empty string is "any".
func ParseConnectivity(s string) (Connectivity, error) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "", "any":
		return ConnectivityAny, nil
	case "reachable":
		return ConnectivityReachable, nil
	case "not-reachable":
		return ConnectivityNotReachable, nil
	case "cellular":
		return ConnectivityCellular, nil
	case "wifi":
		return ConnectivityWiFi, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidConnectivity, s)
	}
}
