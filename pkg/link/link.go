// Package link tracks the host's network association.
package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State is the association state of a link.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// DefaultRetryInterval is how often Connect re-checks the interface.
const DefaultRetryInterval = 500 * time.Millisecond

var ErrNoAddress = errors.New("no IPv4 address")

// Link is a network association the daemon depends on.
type Link interface {
	// Connected reports whether the link currently has an address.
	Connected() bool
	// Connect blocks until the link has an address or ctx is done.
	Connect(ctx context.Context) error
	// IP returns the current address, or "" when disconnected.
	IP() string
	// State returns the current association state.
	State() State
}

// Ensure Interface implements Link.
var _ Link = (*Interface)(nil)

// Ensure Static implements Link.
var _ Link = (*Static)(nil)

// AddrsFunc lists the addresses of the named interface.
type AddrsFunc func(name string) ([]net.Addr, error)

// Interface watches a host network interface. The daemon does not configure
// the interface itself; association is left to the host (wpa_supplicant,
// NetworkManager) and Interface only waits for an address to appear.
type Interface struct {
	name  string
	retry time.Duration
	addrs AddrsFunc
	log   logrus.FieldLogger

	mu    sync.RWMutex
	state State
	ip    string
}

// NewInterface watches the named interface. An empty name selects the first
// non-loopback interface that is up.
func NewInterface(name string, log logrus.FieldLogger) *Interface {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Interface{
		name:  name,
		retry: DefaultRetryInterval,
		addrs: interfaceAddrs,
		log:   log,
	}
}

// Connected re-reads the interface address.
func (i *Interface) Connected() bool {
	ip, err := i.lookup()

	i.mu.Lock()
	defer i.mu.Unlock()
	if err != nil {
		if i.state == Connected {
			i.log.Warnf("Network link lost: %v", err)
		}
		if i.state != Connecting {
			i.state = Disconnected
		}
		i.ip = ""
		return false
	}
	i.state = Connected
	i.ip = ip
	return true
}

// Connect polls the interface every retry interval until it has an address.
func (i *Interface) Connect(ctx context.Context) error {
	i.mu.Lock()
	i.state = Connecting
	i.mu.Unlock()

	ticker := time.NewTicker(i.retry)
	defer ticker.Stop()

	for {
		if i.Connected() {
			i.log.Infof("Network link up, IP %s", i.IP())
			return nil
		}
		select {
		case <-ctx.Done():
			i.mu.Lock()
			i.state = Disconnected
			i.mu.Unlock()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// IP returns the last seen IPv4 address.
func (i *Interface) IP() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.ip
}

// State returns the current association state.
func (i *Interface) State() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

func (i *Interface) lookup() (string, error) {
	addrs, err := i.addrs(i.name)
	if err != nil {
		return "", err
	}
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil && !ip4.IsLoopback() && !ip4.IsLinkLocalUnicast() {
			return ip4.String(), nil
		}
	}
	return "", ErrNoAddress
}

// interfaceAddrs returns the addresses of the named interface, or of every
// non-loopback interface that is up when name is empty.
func interfaceAddrs(name string) ([]net.Addr, error) {
	if name != "" {
		ifi, err := net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("interface %s: %w", name, err)
		}
		if ifi.Flags&net.FlagUp == 0 {
			return nil, fmt.Errorf("interface %s is down", name)
		}
		return ifi.Addrs()
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	var all []net.Addr
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		all = append(all, addrs...)
	}
	return all, nil
}

// Static is an always-up link with a fixed address.
type Static struct {
	Addr string
}

func (s *Static) Connected() bool { return true }

func (s *Static) Connect(context.Context) error { return nil }

func (s *Static) IP() string { return s.Addr }

func (s *Static) State() State { return Connected }
