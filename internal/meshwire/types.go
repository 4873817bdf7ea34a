package meshwire

import "fmt"

// PortNum selects the application channel a mesh packet belongs to.
type PortNum uint32

const (
	PortUnknown PortNum = 0
	PortText    PortNum = 1
	PortRouting PortNum = 5
	PortAdmin   PortNum = 6
)

// NodeID formats a numeric node number as the canonical textual id:
// "!" followed by exactly 8 lowercase hex digits, zero-padded.
func NodeID(num uint32) string {
	return fmt.Sprintf("!%08x", num)
}

// User is the self-reported identity block of one node.
type User struct {
	ID        string `json:"id"`
	ShortName string `json:"short_name"`
	LongName  string `json:"long_name"`
	HWModel   string `json:"hw_model,omitempty"`
}

// Position is a reported GPS fix in 1e-7 degree integer units.
type Position struct {
	LatitudeI  int32 `json:"latitude_i"`
	LongitudeI int32 `json:"longitude_i"`
}

// Degrees converts the integer microdegree pair to float degrees.
func (p Position) Degrees() (lat, lon float64) {
	return float64(p.LatitudeI) / 1e7, float64(p.LongitudeI) / 1e7
}

// NodeInfo is one overheard-node cache entry pushed by the device.
type NodeInfo struct {
	Num       uint32    `json:"num"`
	User      User      `json:"user"`
	SNR       *float64  `json:"snr,omitempty"`
	LastHeard int64     `json:"last_heard,omitempty"`
	HopsAway  *int      `json:"hops_away,omitempty"`
	Position  *Position `json:"position,omitempty"`
}

// MyNodeInfo is the device's self-announcement during link setup.
type MyNodeInfo struct {
	MyNodeNum       uint32 `json:"my_node_num"`
	FirmwareEnv     string `json:"firmware_env,omitempty"`
	RebootCount     uint32 `json:"reboot_count,omitempty"`
	MinAppVersion   uint32 `json:"min_app_version,omitempty"`
	DeviceID        string `json:"device_id,omitempty"`
	PioEnv          string `json:"pio_env,omitempty"`
	HWModelOverride string `json:"hw_model,omitempty"`
}

// DeviceMetadata reports firmware and hardware facts over the admin channel.
type DeviceMetadata struct {
	FirmwareVersion string `json:"firmware_version"`
	HWModel         string `json:"hw_model"`
	HasWifi         bool   `json:"has_wifi,omitempty"`
	HasBluetooth    bool   `json:"has_bluetooth,omitempty"`
	Role            string `json:"role,omitempty"`
}

// Routing is the ack/nak payload on the routing port.
type Routing struct {
	ErrorReason string `json:"error_reason,omitempty"`
}

const RoutingErrorNone = "NONE"

// MeshPacket is one decoded application packet. Exactly one of the
// payload fields is set, selected by Port.
type MeshPacket struct {
	ID        uint32  `json:"id"`
	From      uint32  `json:"from"`
	To        uint32  `json:"to"`
	Port      PortNum `json:"port"`
	RequestID uint32  `json:"request_id,omitempty"`
	WantAck   bool    `json:"want_ack,omitempty"`
	HopLimit  uint8   `json:"hop_limit,omitempty"`
	RxTime    int64   `json:"rx_time,omitempty"`

	Routing *Routing      `json:"routing,omitempty"`
	Admin   *AdminMessage `json:"admin,omitempty"`
	Text    string        `json:"text,omitempty"`
}

// ConfigSection is one named configuration fragment pushed by the
// device or returned over the admin channel.
type ConfigSection struct {
	Name   string         `json:"name"`
	Fields map[string]any `json:"fields"`
}

// Channel is one channel slot with its key material. PSK is raw bytes
// on the wire; surface it as hex through Snapshot, never log it whole.
type Channel struct {
	Index           int    `json:"index"`
	Name            string `json:"name"`
	PSK             []byte `json:"psk,omitempty"`
	UplinkEnabled   bool   `json:"uplink_enabled,omitempty"`
	DownlinkEnabled bool   `json:"downlink_enabled,omitempty"`
}

// SecurityConfig carries the node's key slots. Keys stay raw bytes at
// this boundary; everything above converts through KeyFields.
type SecurityConfig struct {
	PublicKey         []byte `json:"public_key,omitempty"`
	PrivateKey        []byte `json:"private_key,omitempty"`
	AdminKey          []byte `json:"admin_key,omitempty"`
	SerialEnabled     bool   `json:"serial_enabled,omitempty"`
	AdminChannelIndex int    `json:"admin_channel_index,omitempty"`
	IsManaged         bool   `json:"is_managed,omitempty"`
}

// LegacyRadioConfig is the flat pre-1.2 schema shape. Modern firmware
// never sends it; old nodes send nothing else.
type LegacyRadioConfig struct {
	HopLimit   *int   `json:"hop_limit,omitempty"`
	Region     string `json:"region,omitempty"`
	DeviceRole string `json:"device_role,omitempty"`
}

// FromRadio is the device-to-host envelope. Exactly one field is set.
type FromRadio struct {
	MyInfo           *MyNodeInfo        `json:"my_info,omitempty"`
	NodeInfo         *NodeInfo          `json:"node_info,omitempty"`
	Config           *ConfigSection     `json:"config,omitempty"`
	ModuleConfig     *ConfigSection     `json:"module_config,omitempty"`
	Channel          *Channel           `json:"channel,omitempty"`
	Security         *SecurityConfig    `json:"security,omitempty"`
	LegacyRadio      *LegacyRadioConfig `json:"legacy_radio,omitempty"`
	Metadata         *DeviceMetadata    `json:"metadata,omitempty"`
	ConfigCompleteID uint32             `json:"config_complete_id,omitempty"`
	Packet           *MeshPacket        `json:"packet,omitempty"`
}

// ToRadio is the host-to-device envelope. Exactly one field is set.
type ToRadio struct {
	Packet       *MeshPacket `json:"packet,omitempty"`
	WantConfigID uint32      `json:"want_config_id,omitempty"`
	Disconnect   bool        `json:"disconnect,omitempty"`
}
