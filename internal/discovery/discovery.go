// Package discovery finds candidate radios: serial device nodes by
// platform glob, network radios by mDNS browse, and optionally probes
// each candidate with a short-lived session to confirm it answers.
package discovery

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"golang.org/x/sync/errgroup"

	"github.com/jkrauska/nodepool/internal/logging"
	"github.com/jkrauska/nodepool/internal/session"
)

// mDNS service advertised by network-attached radios.
const mdnsService = "_meshtastic._tcp"

// probeParallelism bounds concurrent candidate sessions; serial ports
// do not mind, but a flooded TCP radio drops the handshake.
const probeParallelism = 4

// Candidate is one endpoint worth probing.
type Candidate struct {
	Endpoint string
	Source   string
}

// Found is a candidate that completed a session handshake.
type Found struct {
	Candidate
	Identity session.Identity
}

// serialPatterns returns the device-node globs for one platform. An
// unrecognized platform gets the union; a spurious candidate only
// costs one failed probe.
func serialPatterns(goos string) []string {
	switch goos {
	case "darwin":
		return []string{"/dev/cu.usbmodem*", "/dev/cu.usbserial*"}
	case "linux":
		return []string{"/dev/ttyUSB*", "/dev/ttyACM*"}
	case "windows":
		return nil
	default:
		return []string{"/dev/cu.usbmodem*", "/dev/cu.usbserial*", "/dev/ttyUSB*", "/dev/ttyACM*"}
	}
}

// windowsPorts lists the COM names worth probing. Windows has no
// filesystem glob for serial ports.
func windowsPorts() []string {
	ports := make([]string, 0, 20)
	for i := 1; i <= 20; i++ {
		ports = append(ports, fmt.Sprintf("COM%d", i))
	}
	return ports
}

// SerialCandidates enumerates plausible serial endpoints on this host.
func SerialCandidates() []Candidate {
	return serialCandidatesForOS(runtime.GOOS)
}

func serialCandidatesForOS(goos string) []Candidate {
	var paths []string
	if goos == "windows" {
		paths = windowsPorts()
	} else {
		for _, pattern := range serialPatterns(goos) {
			matches, err := filepath.Glob(pattern)
			if err != nil {
				continue
			}
			paths = append(paths, matches...)
		}
		sort.Strings(paths)
	}

	out := make([]Candidate, 0, len(paths))
	for _, p := range paths {
		out = append(out, Candidate{Endpoint: p, Source: "serial"})
	}
	return out
}

// MDNSCandidates browses for advertised radios until the timeout.
func MDNSCandidates(ctx context.Context, timeout time.Duration) ([]Candidate, error) {
	log := logging.For("discovery")
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: mdns resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	var out []Candidate
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			for _, ip := range entry.AddrIPv4 {
				ep := fmt.Sprintf("tcp://%s:%d", ip, entry.Port)
				log.Debug().Str("endpoint", ep).Str("instance", entry.Instance).Msg("mdns radio advertised")
				out = append(out, Candidate{Endpoint: ep, Source: "mdns"})
			}
		}
	}()

	if err := resolver.Browse(ctx, mdnsService, "local.", entries); err != nil {
		return nil, fmt.Errorf("discovery: mdns browse: %w", err)
	}
	<-ctx.Done()
	<-done
	return out, nil
}

// Probe opens a short session against every candidate concurrently and
// reports the ones that answered with an identity. Candidates that
// fail to open or identify are logged and dropped, never fatal.
func Probe(ctx context.Context, candidates []Candidate, cfg session.Config) []Found {
	log := logging.For("discovery")

	var mu sync.Mutex
	var found []Found

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(probeParallelism)
	for _, cand := range candidates {
		cand := cand
		g.Go(func() error {
			s, err := session.Open(ctx, cand.Endpoint, cfg)
			if err != nil {
				log.Debug().Err(err).Str("endpoint", cand.Endpoint).Msg("candidate did not answer")
				return nil
			}
			defer s.Close()

			ident, err := s.LocalIdentity()
			if err != nil {
				log.Debug().Err(err).Str("endpoint", cand.Endpoint).Msg("candidate opened but never identified")
				return nil
			}

			mu.Lock()
			found = append(found, Found{Candidate: cand, Identity: ident})
			mu.Unlock()
			log.Info().Str("endpoint", cand.Endpoint).Str("node", ident.ID).Msg("radio discovered")
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(found, func(i, j int) bool { return found[i].Endpoint < found[j].Endpoint })
	return found
}
