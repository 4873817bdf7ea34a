package meshwire

import (
	"encoding/hex"
	"sort"
)

// Snapshot maps section name to field-name/value pairs. An absent
// section means "unknown", never "empty".
type Snapshot map[string]map[string]any

// Sections returns the captured section names in sorted order.
func (s Snapshot) Sections() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Merge copies every section of other into s, overwriting collisions.
func (s Snapshot) Merge(other Snapshot) {
	for name, fields := range other {
		s[name] = fields
	}
}

// KeyFields renders key material the only way it may leave this
// package: lowercase hex plus an explicit slot-set boolean.
func KeyFields(key []byte) (hexKey string, set bool) {
	if len(key) == 0 {
		return "", false
	}
	return hex.EncodeToString(key), true
}

// KeyPrefix is the short loggable form of key material.
func KeyPrefix(key []byte) string {
	h, set := KeyFields(key)
	if !set {
		return ""
	}
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
