package session

import (
	"github.com/jkrauska/nodepool/internal/meshwire"
)

// configShape adapts one of the two firmware schema generations to a
// common snapshot view. The adapter is picked once at session open;
// there is no per-field probing afterwards.
type configShape interface {
	Name() string
	Sections() meshwire.Snapshot
}

// modernShape serves firmware that pushes nested-by-domain config and
// module-config sections.
type modernShape struct {
	sections map[string]map[string]any
	modules  map[string]map[string]any
}

func (m *modernShape) Name() string { return "modern" }

func (m *modernShape) Sections() meshwire.Snapshot {
	snap := meshwire.Snapshot{}
	for name, fields := range m.sections {
		snap[name] = copyFields(fields)
	}
	for name, fields := range m.modules {
		snap[name] = copyFields(fields)
	}
	return snap
}

// legacyShape serves firmware that only announces the flat radio
// config block. It projects the flat fields onto the modern section
// names so consumers never see the schema split.
type legacyShape struct {
	radio *meshwire.LegacyRadioConfig
}

func (l *legacyShape) Name() string { return "legacy" }

func (l *legacyShape) Sections() meshwire.Snapshot {
	snap := meshwire.Snapshot{}
	if l.radio == nil {
		return snap
	}
	lora := map[string]any{}
	if l.radio.HopLimit != nil {
		lora["hop_limit"] = *l.radio.HopLimit
	}
	if l.radio.Region != "" {
		lora["region"] = l.radio.Region
	}
	if len(lora) > 0 {
		snap["lora"] = lora
	}
	if l.radio.DeviceRole != "" {
		snap["device"] = map[string]any{"role": l.radio.DeviceRole}
	}
	return snap
}

func copyFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
