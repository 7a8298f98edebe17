package netstate

import (
	"errors"
	"net"
	"testing"

	"github.com/guido-cesarano/rungate/pkg/gate"
	"github.com/stretchr/testify/assert"
)

func ipnet(cidr string) net.Addr {
	ip, n, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(err)
	}
	n.IP = ip
	return n
}

func probeOf(ifaces ...Interface) *Probe {
	return &Probe{List: func() ([]Interface, error) { return ifaces, nil }}
}

var (
	loopback = Interface{Name: "lo", Flags: net.FlagUp | net.FlagLoopback, Addrs: []net.Addr{ipnet("127.0.0.1/8")}}
	eth      = Interface{Name: "eth0", Flags: net.FlagUp, Addrs: []net.Addr{ipnet("192.168.1.10/24")}}
	wlan     = Interface{Name: "wlp2s0", Flags: net.FlagUp, Addrs: []net.Addr{ipnet("10.0.0.5/24")}}
	modem    = Interface{Name: "wwan0", Flags: net.FlagUp, Addrs: []net.Addr{ipnet("100.64.3.2/30")}}
	linkOnly = Interface{Name: "eth1", Flags: net.FlagUp, Addrs: []net.Addr{ipnet("fe80::1/64")}}
	down     = Interface{Name: "eth2", Addrs: []net.Addr{ipnet("192.168.2.10/24")}}
)

func TestProbe(t *testing.T) {
	tests := []struct {
		name   string
		ifaces []Interface
		want   gate.Network
	}{
		{"nothing", nil, gate.NetworkNone},
		{"loopback only", []Interface{loopback}, gate.NetworkNone},
		{"link-local only", []Interface{loopback, linkOnly}, gate.NetworkNone},
		{"interface down", []Interface{down}, gate.NetworkNone},
		{"wired lan", []Interface{loopback, eth}, gate.NetworkWiFi},
		{"wireless", []Interface{wlan}, gate.NetworkWiFi},
		{"modem", []Interface{loopback, modem}, gate.NetworkCellular},
		{"modem and wireless", []Interface{modem, wlan}, gate.NetworkWiFi},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, probeOf(tt.ifaces...).Network())
		})
	}
}

func TestProbe_ListError(t *testing.T) {
	p := &Probe{List: func() ([]Interface, error) { return nil, errors.New("netlink") }}
	assert.Equal(t, gate.NetworkNone, p.Network())
}

func TestStatic(t *testing.T) {
	var s gate.ConnectivityState = Static(gate.NetworkCellular)
	assert.Equal(t, gate.NetworkCellular, s.Network())
}

func TestProbe_Host(t *testing.T) {
	// whatever the host has, the probe must classify without panicking
	n := NewProbe().Network()
	assert.Contains(t, []gate.Network{gate.NetworkNone, gate.NetworkCellular, gate.NetworkWiFi}, n)
}
