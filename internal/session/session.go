// Package session owns one open host link to one local mesh radio:
// identity resolution, the overheard-node cache, and the handshake
// configuration view. One logical exchange uses a session at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jkrauska/nodepool/internal/correlator"
	"github.com/jkrauska/nodepool/internal/logging"
	"github.com/jkrauska/nodepool/internal/meshwire"
	"github.com/jkrauska/nodepool/internal/transport"
)

var (
	ErrNoIdentity       = errors.New("session: no self-announcement from device")
	ErrIdentityNotFound = errors.New("session: announced node id not in cache")
	ErrNoPasskey        = errors.New("session: local public key not set")
	ErrUnknownTarget    = errors.New("session: unknown target id")
	ErrSessionClosed    = errors.New("session: closed")
)

// Identity is the canonical self-reported identity of a node.
type Identity struct {
	ID              string
	ShortName       string
	LongName        string
	HWModel         string
	FirmwareVersion string
}

// Session is one live device link plus its correlator. Callers
// serialize logical exchanges; concurrent use of the correlator is a
// safety net, not a mode.
type Session struct {
	endpoint transport.Endpoint
	link     *transport.Link
	corr     *correlator.Correlator
	log      zerolog.Logger

	mu       sync.RWMutex
	myInfo   *meshwire.MyNodeInfo
	metadata *meshwire.DeviceMetadata
	nodes    map[string]*meshwire.NodeInfo
	security *meshwire.SecurityConfig
	channels []meshwire.Channel
	modern   map[string]map[string]any
	modules  map[string]map[string]any
	legacy   *meshwire.LegacyRadioConfig
	shape    configShape

	infoReady  chan struct{}
	infoOnce   sync.Once
	configDone chan struct{}
	configOnce sync.Once

	nextID    atomic.Uint32
	closeOnce sync.Once
}

// Open dials the endpoint and completes the setup handshake.
func Open(ctx context.Context, raw string, cfg Config) (*Session, error) {
	ep, err := transport.ParseEndpoint(raw)
	if err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()
	s := newSession(ep)
	link, err := transport.Dial(ctx, ep, transport.Options{
		Interceptors: []transport.Interceptor{s.corr.Dispatch},
		Handler:      s.consume,
		DialTimeout:  cfg.DialTimeout,
	})
	if err != nil {
		s.corr.Close()
		return nil, err
	}
	s.link = link
	s.watchLink()
	return s, s.completeSetup(cfg)
}

// Attach runs the same setup handshake over an already-open duplex
// connection. Test harnesses drive the device side of conn.
func Attach(conn io.ReadWriteCloser, cfg Config) (*Session, error) {
	cfg = cfg.WithDefaults()
	s := newSession(transport.Endpoint{Kind: transport.EndpointSerial, Addr: "attached"})
	s.link = transport.Attach(conn, transport.Options{
		Interceptors: []transport.Interceptor{s.corr.Dispatch},
		Handler:      s.consume,
	})
	s.watchLink()
	return s, s.completeSetup(cfg)
}

// watchLink mirrors link loss into the correlator, whoever initiated
// it, so outstanding waits observe a transport error instead of
// riding out their timeout in silence.
func (s *Session) watchLink() {
	go func() {
		<-s.link.Closed()
		s.corr.Close()
	}()
}

func newSession(ep transport.Endpoint) *Session {
	s := &Session{
		endpoint:   ep,
		corr:       correlator.New(),
		log:        logging.For("session"),
		nodes:      make(map[string]*meshwire.NodeInfo),
		modern:     make(map[string]map[string]any),
		modules:    make(map[string]map[string]any),
		infoReady:  make(chan struct{}),
		configDone: make(chan struct{}),
	}
	s.nextID.Store(rand.Uint32() | 1)
	return s
}

func (s *Session) completeSetup(cfg Config) error {
	deadline := time.Now().Add(cfg.SetupTimeout)
	if err := s.link.Send(&meshwire.ToRadio{WantConfigID: s.NextPacketID()}); err != nil {
		s.Close()
		return err
	}

	select {
	case <-s.infoReady:
	case <-time.After(time.Until(deadline)):
		s.Close()
		return fmt.Errorf("%w: endpoint %s", ErrNoIdentity, s.endpoint)
	case <-s.link.Closed():
		s.Close()
		return fmt.Errorf("%w: link dropped during setup", ErrNoIdentity)
	}

	// The config-complete marker is best effort; a node that stops
	// pushing after its announcement still yields a usable session.
	select {
	case <-s.configDone:
	case <-time.After(time.Until(deadline)):
	case <-s.link.Closed():
	}

	s.selectShape()
	return nil
}

func (s *Session) selectShape() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case len(s.modern) > 0 || len(s.modules) > 0:
		s.shape = &modernShape{sections: s.modern, modules: s.modules}
	case s.legacy != nil:
		s.shape = &legacyShape{radio: s.legacy}
	default:
		s.shape = &modernShape{}
	}
	s.log.Debug().Str("shape", s.shape.Name()).Msg("config schema selected")
}

// consume is the link's default handler; it maintains the caches the
// correlator does not care about.
func (s *Session) consume(env *meshwire.FromRadio) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case env.MyInfo != nil:
		s.myInfo = env.MyInfo
		s.infoOnce.Do(func() { close(s.infoReady) })
	case env.NodeInfo != nil:
		info := *env.NodeInfo
		if info.User.ID == "" {
			info.User.ID = meshwire.NodeID(info.Num)
		}
		s.nodes[info.User.ID] = &info
	case env.Config != nil:
		s.modern[env.Config.Name] = env.Config.Fields
	case env.ModuleConfig != nil:
		s.modules[env.ModuleConfig.Name] = env.ModuleConfig.Fields
	case env.Channel != nil:
		s.channels = append(s.channels, *env.Channel)
	case env.Security != nil:
		s.security = env.Security
		s.log.Debug().
			Str("public_key", meshwire.KeyPrefix(env.Security.PublicKey)).
			Bool("admin_key_set", len(env.Security.AdminKey) > 0).
			Msg("security config received")
	case env.LegacyRadio != nil:
		s.legacy = env.LegacyRadio
	case env.Metadata != nil:
		s.metadata = env.Metadata
	case env.ConfigCompleteID != 0:
		s.configOnce.Do(func() { close(s.configDone) })
	}
}

// Endpoint reports the endpoint this session is attached to.
func (s *Session) Endpoint() string {
	return s.endpoint.String()
}

// LocalIdentity derives the canonical id from the announced node
// number and resolves it against the cache. A missing cache entry is
// transient handshake timing, not necessarily a dead node.
func (s *Session) LocalIdentity() (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.myInfo == nil {
		return Identity{}, ErrNoIdentity
	}
	id := meshwire.NodeID(s.myInfo.MyNodeNum)
	entry, ok := s.nodes[id]
	if !ok {
		return Identity{}, fmt.Errorf("%w: %s", ErrIdentityNotFound, id)
	}

	ident := Identity{
		ID:        id,
		ShortName: entry.User.ShortName,
		LongName:  entry.User.LongName,
		HWModel:   entry.User.HWModel,
	}
	if s.metadata != nil {
		if s.metadata.HWModel != "" {
			ident.HWModel = s.metadata.HWModel
		}
		ident.FirmwareVersion = s.metadata.FirmwareVersion
	}
	if ident.FirmwareVersion == "" {
		ident.FirmwareVersion = s.myInfo.FirmwareEnv
	}
	return ident, nil
}

// LocalConfig assembles the configuration pushed during setup. The
// security, channel, position, and module sections merge the same way
// whichever schema shape the device speaks.
func (s *Session) LocalConfig() meshwire.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := meshwire.Snapshot{}
	if s.shape != nil {
		snap.Merge(s.shape.Sections())
	}
	if s.security != nil {
		snap["security"] = securityFields(s.security)
	}
	for _, ch := range s.channels {
		snap[fmt.Sprintf("channel_%d", ch.Index)] = channelFields(ch)
	}
	return snap
}

func securityFields(sec *meshwire.SecurityConfig) map[string]any {
	adminHex, adminSet := meshwire.KeyFields(sec.AdminKey)
	pubHex, pubSet := meshwire.KeyFields(sec.PublicKey)
	return map[string]any{
		"admin_key":           adminHex,
		"admin_key_set":       adminSet,
		"public_key":          pubHex,
		"public_key_set":      pubSet,
		"serial_enabled":      sec.SerialEnabled,
		"admin_channel_index": sec.AdminChannelIndex,
	}
}

func channelFields(ch meshwire.Channel) map[string]any {
	pskHex, pskSet := meshwire.KeyFields(ch.PSK)
	return map[string]any{
		"name":             ch.Name,
		"index":            ch.Index,
		"psk":              pskHex,
		"psk_set":          pskSet,
		"uplink_enabled":   ch.UplinkEnabled,
		"downlink_enabled": ch.DownlinkEnabled,
	}
}

// Passkey returns the local node's own public key, reused as the
// authentication token on remote admin requests.
func (s *Session) Passkey() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.security == nil || len(s.security.PublicKey) == 0 {
		return nil, ErrNoPasskey
	}
	key := make([]byte, len(s.security.PublicKey))
	copy(key, s.security.PublicKey)
	return key, nil
}

// Resolve looks a target id up in the cache, trying both the
// "!"-prefixed and bare-hex spellings.
func (s *Session) Resolve(target string) (*meshwire.NodeInfo, error) {
	target = strings.TrimSpace(target)
	candidates := []string{target}
	if strings.HasPrefix(target, "!") {
		candidates = append(candidates, strings.TrimPrefix(target, "!"))
	} else {
		candidates = append(candidates, "!"+target)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range candidates {
		if entry, ok := s.nodes[id]; ok {
			out := *entry
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, target)
}

// Nodes snapshots the overheard-node cache keyed by textual id.
func (s *Session) Nodes() map[string]meshwire.NodeInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]meshwire.NodeInfo, len(s.nodes))
	for id, entry := range s.nodes {
		out[id] = *entry
	}
	return out
}

// Metadata returns device metadata pushed during setup, if any.
func (s *Session) Metadata() *meshwire.DeviceMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.metadata == nil {
		return nil
	}
	out := *s.metadata
	return &out
}

// NextPacketID allocates a packet id unique within this session.
func (s *Session) NextPacketID() uint32 {
	id := s.nextID.Add(1)
	if id == 0 {
		id = s.nextID.Add(1)
	}
	return id
}

// Correlator exposes the session's correlator for exchange drivers.
func (s *Session) Correlator() *correlator.Correlator {
	return s.corr
}

// SendPacket transmits one mesh packet over the link.
func (s *Session) SendPacket(pkt *meshwire.MeshPacket) error {
	return s.link.Send(&meshwire.ToRadio{Packet: pkt})
}

// Close releases the transport and wakes every outstanding correlator
// wait. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.corr.Close()
		_ = s.link.Close()
	})
	return nil
}
