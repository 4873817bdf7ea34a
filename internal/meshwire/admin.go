package meshwire

// AdminMessage is the admin-port payload union. Requests carry the
// caller's session passkey; responses carry exactly one typed body.
type AdminMessage struct {
	SessionPasskey []byte `json:"session_passkey,omitempty"`

	BeginEditSettings        bool `json:"begin_edit_settings,omitempty"`
	GetConfigRequest         *int `json:"get_config_request,omitempty"`
	GetModuleConfigRequest   *int `json:"get_module_config_request,omitempty"`
	GetDeviceMetadataRequest bool `json:"get_device_metadata_request,omitempty"`

	GetConfigResponse         *ConfigSection  `json:"get_config_response,omitempty"`
	GetModuleConfigResponse   *ConfigSection  `json:"get_module_config_response,omitempty"`
	GetDeviceMetadataResponse *DeviceMetadata `json:"get_device_metadata_response,omitempty"`
}

// ConfigSectionIndex enumerates the locally-indexed config sections in
// their admin request order.
const (
	SectionDevice = iota
	SectionPosition
	SectionPower
	SectionNetwork
	SectionDisplay
	SectionLoRa
	SectionBluetooth
)

// Module config indexes on the admin channel.
const (
	ModuleMQTT      = 0
	ModuleSerial    = 1
	ModuleTelemetry = 5
)
