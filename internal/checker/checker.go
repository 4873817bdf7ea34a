// Package checker evaluates a configuration snapshot against fleet
// policy. Findings are advisory; nothing here mutates a device.
package checker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jkrauska/nodepool/internal/meshwire"
)

type Status string

const (
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusWarning Status = "warning"
)

// Finding is one check outcome.
type Finding struct {
	Check  string
	Status Status
	Detail string
}

// Policy is the expected fleet-wide configuration.
type Policy struct {
	ExpectedHopLimit      int
	ExpectedRegion        string
	RequireSerialDisabled bool
}

func DefaultPolicy() Policy {
	return Policy{
		ExpectedHopLimit:      3,
		ExpectedRegion:        "US",
		RequireSerialDisabled: true,
	}
}

// Run evaluates every check against the snapshot. Sections the
// snapshot does not carry produce warnings, not failures; an
// incomplete retrieval is not evidence of misconfiguration.
func Run(snap meshwire.Snapshot, pol Policy) []Finding {
	findings := []Finding{
		checkHopLimit(snap, pol),
		checkRegion(snap, pol),
		checkAdminKey(snap),
		checkSerial(snap, pol),
	}
	findings = append(findings, checkChannels(snap)...)
	return findings
}

func checkHopLimit(snap meshwire.Snapshot, pol Policy) Finding {
	f := Finding{Check: "hop_limit"}
	lora := snap["lora"]
	if lora == nil {
		return warn(f, "lora section not captured")
	}
	got, ok := asInt(lora["hop_limit"])
	if !ok {
		return warn(f, "hop_limit not reported")
	}
	if got != pol.ExpectedHopLimit {
		return fail(f, fmt.Sprintf("hop_limit is %d, expected %d", got, pol.ExpectedHopLimit))
	}
	return pass(f)
}

func checkRegion(snap meshwire.Snapshot, pol Policy) Finding {
	f := Finding{Check: "region"}
	lora := snap["lora"]
	if lora == nil {
		return warn(f, "lora section not captured")
	}
	got, _ := lora["region"].(string)
	switch {
	case got == "" || got == "UNSET":
		return fail(f, "region is unset")
	case got != pol.ExpectedRegion:
		return fail(f, fmt.Sprintf("region is %s, expected %s", got, pol.ExpectedRegion))
	}
	return pass(f)
}

func checkAdminKey(snap meshwire.Snapshot) Finding {
	f := Finding{Check: "admin_key"}
	sec := snap["security"]
	if sec == nil {
		return warn(f, "security section not captured")
	}
	if set, _ := sec["admin_key_set"].(bool); !set {
		return fail(f, "no admin key configured, node cannot be remotely administered")
	}
	key, _ := sec["admin_key"].(string)
	if weakKey(key) {
		return fail(f, fmt.Sprintf("admin key %s... is a known weak value", keyPrefix(key)))
	}
	return pass(f)
}

// weakKey flags placeholder key material. The canonical placeholders
// are the one-byte 0x00 and 0x01 values; this deliberately broadens
// the match to any all-zero key and any key that is zeros around a
// single 1 digit, so zero-padded encodings of either placeholder
// ("0001", "0100...00") fail identically.
func weakKey(hexKey string) bool {
	if hexKey == "" {
		return true
	}
	trimmed := strings.Trim(hexKey, "0")
	return trimmed == "" || trimmed == "1"
}

func checkSerial(snap meshwire.Snapshot, pol Policy) Finding {
	f := Finding{Check: "serial_disabled"}
	if !pol.RequireSerialDisabled {
		return pass(f)
	}
	sec := snap["security"]
	if sec == nil {
		return warn(f, "security section not captured")
	}
	if enabled, _ := sec["serial_enabled"].(bool); enabled {
		return warn(f, "serial console is enabled, physical access grants admin")
	}
	return pass(f)
}

func checkChannels(snap meshwire.Snapshot) []Finding {
	var names []string
	for name := range snap {
		if strings.HasPrefix(name, "channel_") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var out []Finding
	for _, name := range names {
		f := Finding{Check: name + "_psk"}
		ch := snap[name]
		set, _ := ch["psk_set"].(bool)
		psk, _ := ch["psk"].(string)
		switch {
		case !set:
			out = append(out, warn(f, "channel has no PSK, traffic is cleartext"))
		case psk == "01":
			out = append(out, warn(f, "channel uses the default PSK"))
		default:
			out = append(out, pass(f))
		}
	}
	return out
}

// asInt accepts the numeric shapes a decoded snapshot can carry.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func keyPrefix(hexKey string) string {
	if len(hexKey) > 8 {
		return hexKey[:8]
	}
	return hexKey
}

func pass(f Finding) Finding {
	f.Status = StatusPass
	return f
}

func fail(f Finding, detail string) Finding {
	f.Status = StatusFail
	f.Detail = detail
	return f
}

func warn(f Finding, detail string) Finding {
	f.Status = StatusWarning
	f.Detail = detail
	return f
}
