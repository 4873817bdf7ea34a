package discovery

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/jkrauska/nodepool/internal/session"
	"github.com/jkrauska/nodepool/internal/testutil/devicesim"
	"github.com/jkrauska/nodepool/internal/testutil/testlog"
)

func TestSerialPatternsPerPlatform(t *testing.T) {
	cases := []struct {
		goos string
		want []string
	}{
		{"darwin", []string{"/dev/cu.usbmodem*", "/dev/cu.usbserial*"}},
		{"linux", []string{"/dev/ttyUSB*", "/dev/ttyACM*"}},
		{"windows", nil},
		{"plan9", []string{"/dev/cu.usbmodem*", "/dev/cu.usbserial*", "/dev/ttyUSB*", "/dev/ttyACM*"}},
	}
	for _, tc := range cases {
		got := serialPatterns(tc.goos)
		if len(got) != len(tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.goos, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("%s: got %v, want %v", tc.goos, got, tc.want)
			}
		}
	}
}

func TestWindowsCandidatesEnumerateComPorts(t *testing.T) {
	cands := serialCandidatesForOS("windows")
	if len(cands) != 20 {
		t.Fatalf("expected 20 COM candidates, got %d", len(cands))
	}
	if cands[0].Endpoint != "COM1" || cands[19].Endpoint != "COM20" {
		t.Fatalf("unexpected COM range: %s .. %s", cands[0].Endpoint, cands[19].Endpoint)
	}
	for _, c := range cands {
		if c.Source != "serial" {
			t.Fatalf("unexpected source: %+v", c)
		}
	}
}

func TestProbeFindsAnsweringRadio(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			devicesim.AttachConn(conn, devicesim.Options{
				Setup: devicesim.BasicSetup(0xabc123, "DSC", "Discovered"),
			})
		}
	}()

	// A second candidate that refuses connections.
	dead, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	deadAddr := dead.Addr().String()
	dead.Close()

	candidates := []Candidate{
		{Endpoint: fmt.Sprintf("tcp://%s", ln.Addr()), Source: "mdns"},
		{Endpoint: fmt.Sprintf("tcp://%s", deadAddr), Source: "mdns"},
	}
	found := Probe(context.Background(), candidates, session.Config{
		SetupTimeout: 2 * time.Second,
		DialTimeout:  time.Second,
	})

	if len(found) != 1 {
		t.Fatalf("expected exactly one answering radio, got %d", len(found))
	}
	if found[0].Identity.ID != "!00abc123" {
		t.Fatalf("unexpected identity: %+v", found[0].Identity)
	}
	if found[0].Source != "mdns" {
		t.Fatalf("candidate metadata lost: %+v", found[0])
	}
}

func TestProbeEmptyCandidates(t *testing.T) {
	testlog.Start(t)
	if found := Probe(context.Background(), nil, session.Config{}); len(found) != 0 {
		t.Fatalf("expected no findings, got %v", found)
	}
}
