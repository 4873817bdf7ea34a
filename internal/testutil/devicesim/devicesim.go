// Package devicesim drives the device side of a net.Pipe for tests:
// it answers the setup handshake with a scripted envelope push and
// routes outbound packets through a caller-supplied responder.
package devicesim

import (
	"io"
	"net"
	"sync"

	"github.com/jkrauska/nodepool/internal/meshwire"
)

// Options scripts one simulated device.
type Options struct {
	// Setup is pushed, in order, when the host asks for config. A
	// config-complete marker is appended automatically.
	Setup []*meshwire.FromRadio
	// SkipConfigComplete suppresses the automatic completion marker.
	SkipConfigComplete bool
	// OnPacket maps one outbound mesh packet to zero or more pushed
	// responses. Called once per packet, in arrival order.
	OnPacket func(*meshwire.MeshPacket) []*meshwire.FromRadio
}

// Device is the running simulator. It records every outbound packet
// for later assertions.
type Device struct {
	conn   net.Conn
	opts   Options
	limits meshwire.Limits

	mu      sync.Mutex
	packets []meshwire.MeshPacket
}

// Start wires a simulated device to one end of a pipe and returns the
// host end for session.Attach.
func Start(opts Options) (*Device, io.ReadWriteCloser) {
	host, devConn := net.Pipe()
	d := &Device{conn: devConn, opts: opts, limits: meshwire.DefaultLimits()}
	go d.run()
	return d, host
}

// AttachConn drives an already-accepted connection, for tests that
// put a real listener in front of the simulator.
func AttachConn(conn net.Conn, opts Options) *Device {
	d := &Device{conn: conn, opts: opts, limits: meshwire.DefaultLimits()}
	go d.run()
	return d
}

func (d *Device) Close() {
	_ = d.conn.Close()
}

// Packets returns every outbound mesh packet observed so far.
func (d *Device) Packets() []meshwire.MeshPacket {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]meshwire.MeshPacket, len(d.packets))
	copy(out, d.packets)
	return out
}

func (d *Device) run() {
	for {
		env, err := meshwire.ReadToRadio(d.conn, d.limits)
		if err != nil {
			return
		}
		switch {
		case env.WantConfigID != 0:
			for _, push := range d.opts.Setup {
				if !d.push(push) {
					return
				}
			}
			if !d.opts.SkipConfigComplete {
				if !d.push(&meshwire.FromRadio{ConfigCompleteID: env.WantConfigID}) {
					return
				}
			}
		case env.Packet != nil:
			d.mu.Lock()
			d.packets = append(d.packets, *env.Packet)
			d.mu.Unlock()
			if d.opts.OnPacket != nil {
				for _, push := range d.opts.OnPacket(env.Packet) {
					if !d.push(push) {
						return
					}
				}
			}
		}
	}
}

func (d *Device) push(env *meshwire.FromRadio) bool {
	return meshwire.WriteEnvelope(d.conn, env, d.limits) == nil
}

// BasicSetup is a minimal healthy handshake: a self-announcement plus
// the matching cache entry.
func BasicSetup(num uint32, shortName, longName string) []*meshwire.FromRadio {
	return []*meshwire.FromRadio{
		{MyInfo: &meshwire.MyNodeInfo{MyNodeNum: num, FirmwareEnv: "2.5.4"}},
		{NodeInfo: &meshwire.NodeInfo{
			Num:  num,
			User: meshwire.User{ID: meshwire.NodeID(num), ShortName: shortName, LongName: longName, HWModel: "TBEAM"},
		}},
	}
}
