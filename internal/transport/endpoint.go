package transport

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

const (
	tcpScheme = "tcp://"

	// DefaultTCPPort is the mesh radio's host-link TCP port.
	DefaultTCPPort = "4403"
)

var ErrEmptyEndpoint = errors.New("transport: empty endpoint")

// EndpointKind distinguishes the two local point-to-point media.
type EndpointKind int

const (
	EndpointSerial EndpointKind = iota
	EndpointTCP
)

func (k EndpointKind) String() string {
	if k == EndpointTCP {
		return "tcp"
	}
	return "serial"
}

// Endpoint identifies one local transport target: either a serial
// device path or a tcp://host:port address.
type Endpoint struct {
	Kind EndpointKind
	// Addr is the serial device path or the host:port pair.
	Addr string
}

// ParseEndpoint interprets a connection string. Anything without the
// tcp:// scheme is treated as a serial device path.
func ParseEndpoint(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, ErrEmptyEndpoint
	}
	if strings.HasPrefix(raw, tcpScheme) {
		addr := strings.TrimPrefix(raw, tcpScheme)
		if addr == "" {
			return Endpoint{}, fmt.Errorf("transport: missing host in %q", raw)
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			addr = net.JoinHostPort(addr, DefaultTCPPort)
		}
		return Endpoint{Kind: EndpointTCP, Addr: addr}, nil
	}
	return Endpoint{Kind: EndpointSerial, Addr: raw}, nil
}

func (e Endpoint) String() string {
	if e.Kind == EndpointTCP {
		return tcpScheme + e.Addr
	}
	return e.Addr
}
