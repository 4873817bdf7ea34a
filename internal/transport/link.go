package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/jkrauska/nodepool/internal/logging"
	"github.com/jkrauska/nodepool/internal/meshwire"
)

var (
	ErrLinkClosed = errors.New("transport: link closed")
)

// Interceptor observes one inbound envelope before default handling.
// Interceptors run in registration order and must not block.
type Interceptor func(*meshwire.FromRadio)

// Options configures a Link at construction time. The interceptor
// chain is fixed here; there is no way to patch a live link.
type Options struct {
	Interceptors []Interceptor
	// Handler receives every envelope after the interceptor chain.
	Handler func(*meshwire.FromRadio)
	// DialTimeout bounds TCP connection establishment.
	DialTimeout time.Duration
	Limits      meshwire.Limits
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.Limits.MaxPayloadBytes == 0 {
		o.Limits = meshwire.DefaultLimits()
	}
	return o
}

// Link is one open duplex channel to a local radio. Reads happen on an
// internal goroutine; writes are serialized by a mutex.
type Link struct {
	conn    io.ReadWriteCloser
	opts    Options
	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial opens the endpoint's underlying medium and starts the read loop.
func Dial(ctx context.Context, ep Endpoint, opts Options) (*Link, error) {
	opts = opts.withDefaults()
	conn, err := dialConn(ctx, ep, opts.DialTimeout)
	if err != nil {
		return nil, err
	}
	return Attach(conn, opts), nil
}

// Attach wraps an already-open duplex connection. Tests use it with
// net.Pipe; Dial uses it for real media.
func Attach(conn io.ReadWriteCloser, opts Options) *Link {
	l := &Link{
		conn:   conn,
		opts:   opts.withDefaults(),
		closed: make(chan struct{}),
	}
	go l.readLoop()
	return l
}

func dialConn(ctx context.Context, ep Endpoint, timeout time.Duration) (io.ReadWriteCloser, error) {
	switch ep.Kind {
	case EndpointTCP:
		d := net.Dialer{Timeout: timeout}
		return d.DialContext(ctx, "tcp", ep.Addr)
	default:
		return serial.Open(ep.Addr, &serial.Mode{BaudRate: 115200})
	}
}

// Send frames one envelope onto the link.
func (l *Link) Send(env *meshwire.ToRadio) error {
	select {
	case <-l.closed:
		return ErrLinkClosed
	default:
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return meshwire.WriteEnvelope(l.conn, env, l.opts.Limits)
}

// Closed is signalled when the link stops, whatever the cause.
func (l *Link) Closed() <-chan struct{} {
	return l.closed
}

// Close releases the medium. Safe to call more than once.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		_ = l.conn.Close()
	})
	return nil
}

func (l *Link) readLoop() {
	log := logging.For("transport")
	defer l.Close()
	for {
		env, err := meshwire.ReadFromRadio(l.conn, l.opts.Limits)
		if err != nil {
			// A single undecodable frame never aborts the session.
			if errors.Is(err, meshwire.ErrFrameDecode) {
				log.Warn().Err(err).Msg("dropping undecodable frame")
				continue
			}
			select {
			case <-l.closed:
			default:
				log.Debug().Err(err).Msg("read loop stopped")
			}
			return
		}
		for _, fn := range l.opts.Interceptors {
			fn(env)
		}
		if l.opts.Handler != nil {
			l.opts.Handler(env)
		}
	}
}
