package session

import (
	"errors"
	"testing"
	"time"

	"github.com/jkrauska/nodepool/internal/meshwire"
	"github.com/jkrauska/nodepool/internal/testutil/devicesim"
	"github.com/jkrauska/nodepool/internal/testutil/testlog"
)

func intp(v int) *int { return &v }

func fastConfig() Config {
	return Config{SetupTimeout: 2 * time.Second}
}

func modernSetup() []*meshwire.FromRadio {
	setup := devicesim.BasicSetup(0xabc123, "NP01", "Nodepool One")
	setup = append(setup,
		&meshwire.FromRadio{Config: &meshwire.ConfigSection{
			Name:   "lora",
			Fields: map[string]any{"hop_limit": 7, "region": "US"},
		}},
		&meshwire.FromRadio{Config: &meshwire.ConfigSection{
			Name:   "device",
			Fields: map[string]any{"role": "CLIENT"},
		}},
		&meshwire.FromRadio{Security: &meshwire.SecurityConfig{
			PublicKey:     []byte{0xaa, 0xbb, 0xcc},
			AdminKey:      []byte{0x01, 0x02},
			SerialEnabled: true,
		}},
		&meshwire.FromRadio{Channel: &meshwire.Channel{
			Index: 0, Name: "LongFast", PSK: []byte{0x01},
		}},
		&meshwire.FromRadio{Metadata: &meshwire.DeviceMetadata{
			FirmwareVersion: "2.5.4.abcdef", HWModel: "TBEAM",
		}},
	)
	return setup
}

func TestOpenResolvesIdentity(t *testing.T) {
	testlog.Start(t)
	dev, host := devicesim.Start(devicesim.Options{Setup: modernSetup()})
	defer dev.Close()

	s, err := Attach(host, fastConfig())
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer s.Close()

	ident, err := s.LocalIdentity()
	if err != nil {
		t.Fatalf("local identity: %v", err)
	}
	if ident.ID != "!00abc123" {
		t.Fatalf("unexpected id: %q", ident.ID)
	}
	if ident.ShortName != "NP01" || ident.FirmwareVersion != "2.5.4.abcdef" || ident.HWModel != "TBEAM" {
		t.Fatalf("unexpected identity: %+v", ident)
	}
}

func TestOpenWithoutAnnouncementFailsNoIdentity(t *testing.T) {
	testlog.Start(t)
	dev, host := devicesim.Start(devicesim.Options{
		Setup: []*meshwire.FromRadio{
			{NodeInfo: &meshwire.NodeInfo{Num: 5, User: meshwire.User{ID: "!00000005"}}},
		},
		SkipConfigComplete: true,
	})
	defer dev.Close()

	_, err := Attach(host, Config{SetupTimeout: 150 * time.Millisecond})
	if !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}
}

func TestIdentityNotFoundWhenCacheMissesOwnID(t *testing.T) {
	testlog.Start(t)
	// Announcement arrives but the matching cache entry never does.
	dev, host := devicesim.Start(devicesim.Options{
		Setup: []*meshwire.FromRadio{
			{MyInfo: &meshwire.MyNodeInfo{MyNodeNum: 0x11}},
		},
	})
	defer dev.Close()

	s, err := Attach(host, fastConfig())
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer s.Close()

	if _, err := s.LocalIdentity(); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
}

func TestLocalConfigModernShape(t *testing.T) {
	testlog.Start(t)
	dev, host := devicesim.Start(devicesim.Options{Setup: modernSetup()})
	defer dev.Close()

	s, err := Attach(host, fastConfig())
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer s.Close()

	snap := s.LocalConfig()
	if snap["lora"] == nil || snap["lora"]["region"] != "US" {
		t.Fatalf("missing lora section: %+v", snap)
	}
	sec := snap["security"]
	if sec == nil {
		t.Fatalf("missing security section")
	}
	if sec["public_key"] != "aabbcc" || sec["public_key_set"] != true {
		t.Fatalf("public key not surfaced as hex: %+v", sec)
	}
	if sec["admin_key"] != "0102" || sec["admin_key_set"] != true {
		t.Fatalf("admin key not surfaced as hex: %+v", sec)
	}
	ch := snap["channel_0"]
	if ch == nil || ch["psk"] != "01" || ch["psk_set"] != true {
		t.Fatalf("channel psk not surfaced as hex: %+v", ch)
	}
}

func TestLocalConfigLegacyShapeFallback(t *testing.T) {
	testlog.Start(t)
	setup := devicesim.BasicSetup(0x22, "LEG", "Legacy Node")
	setup = append(setup,
		&meshwire.FromRadio{LegacyRadio: &meshwire.LegacyRadioConfig{
			HopLimit: intp(3), Region: "EU_868", DeviceRole: "ROUTER",
		}},
		&meshwire.FromRadio{Channel: &meshwire.Channel{Index: 0, Name: "Primary"}},
	)
	dev, host := devicesim.Start(devicesim.Options{Setup: setup})
	defer dev.Close()

	s, err := Attach(host, fastConfig())
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer s.Close()

	snap := s.LocalConfig()
	if snap["lora"] == nil || snap["lora"]["hop_limit"] != 3 || snap["lora"]["region"] != "EU_868" {
		t.Fatalf("legacy lora projection wrong: %+v", snap["lora"])
	}
	if snap["device"] == nil || snap["device"]["role"] != "ROUTER" {
		t.Fatalf("legacy device projection wrong: %+v", snap["device"])
	}
	// Channel merge is shape-independent.
	if snap["channel_0"] == nil || snap["channel_0"]["psk_set"] != false {
		t.Fatalf("channel merge missing: %+v", snap)
	}
}

func TestResolveBothSpellings(t *testing.T) {
	testlog.Start(t)
	setup := devicesim.BasicSetup(0x31, "ME", "Local")
	setup = append(setup, &meshwire.FromRadio{NodeInfo: &meshwire.NodeInfo{
		Num:  0xabc123,
		User: meshwire.User{ID: "!abc123", ShortName: "RMT"},
	}})
	dev, host := devicesim.Start(devicesim.Options{Setup: setup})
	defer dev.Close()

	s, err := Attach(host, fastConfig())
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer s.Close()

	bare, err := s.Resolve("abc123")
	if err != nil {
		t.Fatalf("resolve bare: %v", err)
	}
	prefixed, err := s.Resolve("!abc123")
	if err != nil {
		t.Fatalf("resolve prefixed: %v", err)
	}
	if bare.Num != prefixed.Num || bare.Num != 0xabc123 {
		t.Fatalf("spellings resolved differently: %+v vs %+v", bare, prefixed)
	}

	if _, err := s.Resolve("999999"); !errors.Is(err, ErrUnknownTarget) {
		t.Fatalf("expected ErrUnknownTarget, got %v", err)
	}
}

func TestPasskeyRequiresPublicKey(t *testing.T) {
	testlog.Start(t)
	dev, host := devicesim.Start(devicesim.Options{Setup: devicesim.BasicSetup(0x41, "NK", "No Key")})
	defer dev.Close()

	s, err := Attach(host, fastConfig())
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer s.Close()

	if _, err := s.Passkey(); !errors.Is(err, ErrNoPasskey) {
		t.Fatalf("expected ErrNoPasskey, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	testlog.Start(t)
	dev, host := devicesim.Start(devicesim.Options{Setup: devicesim.BasicSetup(0x51, "CL", "Closer")})
	defer dev.Close()

	s, err := Attach(host, fastConfig())
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close must be a no-op: %v", err)
	}
}

func TestPeerDropWakesCorrelatorWaiters(t *testing.T) {
	testlog.Start(t)
	dev, host := devicesim.Start(devicesim.Options{Setup: devicesim.BasicSetup(0x71, "DR", "Dropper")})
	defer dev.Close()

	s, err := Attach(host, fastConfig())
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer s.Close()

	id := s.NextPacketID()
	s.Correlator().Register(id)
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Correlator().AwaitAck(id, 5*time.Second)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	dev.Close()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected transport-closed error after peer drop")
		}
	case <-time.After(time.Second):
		t.Fatalf("waiter rode out its timeout instead of observing the drop")
	}
}

func TestCloseWakesCorrelatorWaiters(t *testing.T) {
	testlog.Start(t)
	dev, host := devicesim.Start(devicesim.Options{Setup: devicesim.BasicSetup(0x61, "WK", "Waker")})
	defer dev.Close()

	s, err := Attach(host, fastConfig())
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	id := s.NextPacketID()
	s.Correlator().Register(id)
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Correlator().AwaitAck(id, 5*time.Second)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	_ = s.Close()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected transport-closed error")
		}
	case <-time.After(time.Second):
		t.Fatalf("waiter hung after close")
	}
}
