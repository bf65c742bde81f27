package link

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ipNet(s string) net.Addr {
	ip, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	n.IP = ip
	return n
}

func newTestInterface(addrs AddrsFunc) *Interface {
	i := NewInterface("wlan0", nil)
	i.addrs = addrs
	i.retry = 5 * time.Millisecond
	return i
}

func TestInterface_Lookup(t *testing.T) {
	tests := []struct {
		name   string
		addrs  []net.Addr
		err    error
		wantIP string
	}{
		{"ipv4", []net.Addr{ipNet("192.168.1.23/24")}, nil, "192.168.1.23"},
		{"skips ipv6 and link-local", []net.Addr{ipNet("fe80::1/64"), ipNet("169.254.3.4/16"), ipNet("10.0.0.7/8")}, nil, "10.0.0.7"},
		{"ipv6 only", []net.Addr{ipNet("2001:db8::1/64")}, nil, ""},
		{"interface error", nil, errors.New("no such interface"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := newTestInterface(func(string) ([]net.Addr, error) { return tt.addrs, tt.err })
			assert.Equal(t, tt.wantIP != "", i.Connected())
			assert.Equal(t, tt.wantIP, i.IP())
		})
	}
}

func TestInterface_ConnectWaitsForAddress(t *testing.T) {
	var calls atomic.Int32
	i := newTestInterface(func(string) ([]net.Addr, error) {
		if calls.Add(1) < 4 {
			return nil, nil
		}
		return []net.Addr{ipNet("192.168.4.2/24")}, nil
	})
	assert.Equal(t, Disconnected, i.State())

	require.NoError(t, i.Connect(context.Background()))
	assert.Equal(t, Connected, i.State())
	assert.Equal(t, "192.168.4.2", i.IP())
	assert.GreaterOrEqual(t, calls.Load(), int32(4))
}

func TestInterface_ConnectCancelled(t *testing.T) {
	i := newTestInterface(func(string) ([]net.Addr, error) { return nil, nil })
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := i.Connect(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Disconnected, i.State())
	assert.Empty(t, i.IP())
}

func TestInterface_LinkLost(t *testing.T) {
	up := true
	i := newTestInterface(func(string) ([]net.Addr, error) {
		if up {
			return []net.Addr{ipNet("10.1.1.1/24")}, nil
		}
		return nil, errors.New("interface wlan0 is down")
	})

	assert.True(t, i.Connected())
	up = false
	assert.False(t, i.Connected())
	assert.Equal(t, Disconnected, i.State())
	assert.Empty(t, i.IP())
}

func TestStatic(t *testing.T) {
	s := &Static{Addr: "127.0.0.1"}
	assert.True(t, s.Connected())
	assert.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, "127.0.0.1", s.IP())
	assert.Equal(t, Connected, s.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "unknown", State(42).String())
}
