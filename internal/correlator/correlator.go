// Package correlator matches asynchronous, reorderable responses back
// to the request that caused them. Each registered packet id owns one
// single-slot future per response channel; dispatch resolves the slot,
// waiters block on it with a timeout.
package correlator

import (
	"errors"
	"sync"
	"time"

	"github.com/jkrauska/nodepool/internal/logging"
	"github.com/jkrauska/nodepool/internal/meshwire"
)

var ErrClosed = errors.New("correlator: transport closed")

// Ack is one classified routing-port response.
type Ack struct {
	RequestID   uint32
	ResponderID string
	ReceivedAt  time.Time
	ErrorReason string
}

// AdminResponse is one classified admin-port response.
type AdminResponse struct {
	RequestID   uint32
	ResponderID string
	ReceivedAt  time.Time
	Admin       *meshwire.AdminMessage
}

type slot struct {
	ack   chan Ack
	admin chan AdminResponse
}

// Correlator tracks outstanding request ids for one session. Install
// Dispatch as a transport interceptor so classification runs before
// any other consumer; frames are only observed, never swallowed.
type Correlator struct {
	mu     sync.Mutex
	slots  map[uint32]*slot
	closed chan struct{}
	once   sync.Once
}

func New() *Correlator {
	return &Correlator{
		slots:  make(map[uint32]*slot),
		closed: make(chan struct{}),
	}
}

// Register tracks a packet id. Must run before the request is
// transmitted so a fast reply cannot be missed. Re-registering an id
// replaces any stale slot from an abandoned exchange.
func (c *Correlator) Register(packetID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots[packetID] = &slot{
		ack:   make(chan Ack, 1),
		admin: make(chan AdminResponse, 1),
	}
}

// Release drops a tracked id once its exchange is finished, so a late
// response cannot be matched against a reused id.
func (c *Correlator) Release(packetID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.slots, packetID)
}

// AwaitAck blocks up to timeout for the ack matching packetID. A nil
// result with nil error means the timeout elapsed; the only error is
// transport closure.
func (c *Correlator) AwaitAck(packetID uint32, timeout time.Duration) (*Ack, error) {
	s := c.lookup(packetID)
	if s == nil {
		return nil, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ack := <-s.ack:
		return &ack, nil
	case <-timer.C:
		return nil, nil
	case <-c.closed:
		return nil, ErrClosed
	}
}

// AwaitAdminResponse is AwaitAck's contract on the admin channel.
func (c *Correlator) AwaitAdminResponse(packetID uint32, timeout time.Duration) (*AdminResponse, error) {
	s := c.lookup(packetID)
	if s == nil {
		return nil, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-s.admin:
		return &resp, nil
	case <-timer.C:
		return nil, nil
	case <-c.closed:
		return nil, ErrClosed
	}
}

// Dispatch classifies one inbound envelope. It runs as a transport
// interceptor ahead of default handling and always lets the frame
// continue to other consumers.
func (c *Correlator) Dispatch(env *meshwire.FromRadio) {
	pkt := env.Packet
	if pkt == nil || pkt.RequestID == 0 {
		return
	}
	s := c.lookup(pkt.RequestID)
	if s == nil {
		return
	}

	log := logging.For("correlator")
	switch pkt.Port {
	case meshwire.PortRouting:
		if pkt.Routing == nil {
			log.Warn().Uint32("request_id", pkt.RequestID).Msg("routing packet without payload dropped")
			return
		}
		ack := Ack{
			RequestID:   pkt.RequestID,
			ResponderID: meshwire.NodeID(pkt.From),
			ReceivedAt:  time.Now(),
			ErrorReason: pkt.Routing.ErrorReason,
		}
		select {
		case s.ack <- ack:
		default:
			// Slot already resolved; a duplicate ack is dropped.
		}
	case meshwire.PortAdmin:
		if pkt.Admin == nil {
			log.Warn().Uint32("request_id", pkt.RequestID).Msg("admin packet without payload dropped")
			return
		}
		resp := AdminResponse{
			RequestID:   pkt.RequestID,
			ResponderID: meshwire.NodeID(pkt.From),
			ReceivedAt:  time.Now(),
			Admin:       pkt.Admin,
		}
		select {
		case s.admin <- resp:
		default:
		}
	}
}

// Close resolves every outstanding wait with ErrClosed. Called when
// the owning transport goes away.
func (c *Correlator) Close() {
	c.once.Do(func() {
		close(c.closed)
	})
}

func (c *Correlator) lookup(packetID uint32) *slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slots[packetID]
}
