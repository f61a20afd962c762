// Package config provides the configuration schema and loader for the
// Ringdown intercom. Configuration is read once at startup from a YAML
// file, with the relay secret overridable from the environment; nothing
// reloads at runtime.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Side identifies which of the two phone endpoints this process is.
type Side string

const (
	SideInside  Side = "inside"
	SideOutside Side = "outside"
)

// IsValid reports whether s is a recognised side.
func (s Side) IsValid() bool {
	return s == SideInside || s == SideOutside
}

// Strategy selects how the peer media session is negotiated.
type Strategy string

const (
	// StrategyDirect races connect against accept on an opaque endpoint
	// address exchanged through the discovery relay.
	StrategyDirect Strategy = "direct"

	// StrategyWebRTC negotiates an SDP offer/answer with trickled ICE
	// candidates over the discovery relay.
	StrategyWebRTC Strategy = "webrtc"
)

// IsValid reports whether s is a recognised strategy.
func (s Strategy) IsValid() bool {
	return s == StrategyDirect || s == StrategyWebRTC
}

// Config is the root configuration structure, loaded from YAML via [Load].
type Config struct {
	Side    Side          `yaml:"side"`
	Server  ServerConfig  `yaml:"server"`
	Relay   RelayConfig   `yaml:"relay"`
	Audio   AudioConfig   `yaml:"audio"`
	GPIO    GPIOConfig    `yaml:"gpio"`
	Session SessionConfig `yaml:"session"`

	// Numbers is the ordered list of known dialable numbers. The first
	// entry is the operator/invalid sentinel that unmatched dials coerce to.
	Numbers []string `yaml:"numbers"`
}

// ServerConfig holds logging and metrics settings.
type ServerConfig struct {
	// LogLevel controls verbosity. Defaults to info.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the listen address for the Prometheus /metrics and
	// /healthz endpoints (e.g. ":9102"). Empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr"`
}

// RelayConfig describes the always-reachable signaling relay both phones
// connect to.
type RelayConfig struct {
	// ControlURL is the control-channel websocket URL for this side,
	// e.g. "wss://relay.example.com/phone/inside".
	ControlURL string `yaml:"control_url"`

	// DiscoveryURL is the shared peer-discovery websocket URL.
	DiscoveryURL string `yaml:"discovery_url"`

	// APIKey is the shared secret sent as the first control-channel frame.
	// Overridden by $RINGDOWN_API_KEY when set.
	APIKey string `yaml:"api_key"`

	// ReconnectDelay is the fixed pause before redialling a dropped relay
	// connection. Defaults to 1s.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// AudioConfig holds media settings shared by the codec and device layers.
type AudioConfig struct {
	// SampleRate in Hz for capture, playback and Opus. Defaults to 48000.
	SampleRate int `yaml:"sample_rate"`
}

// GPIOConfig assigns the phone's digital lines and debounce behaviour.
type GPIOConfig struct {
	HookPin      int `yaml:"hook_pin"`
	DialLatchPin int `yaml:"dial_latch_pin"`
	DialPulsePin int `yaml:"dial_pulse_pin"`
	BellPin      int `yaml:"bell_pin"`

	// DebounceDepth is how many identical consecutive 1 ms samples a line
	// must hold before the debounced value changes. Defaults to 16.
	DebounceDepth int `yaml:"debounce_depth"`
}

// SessionConfig controls peer media session negotiation.
type SessionConfig struct {
	// Strategy selects the negotiation mechanism. Defaults to webrtc.
	Strategy Strategy `yaml:"strategy"`

	// STUNServers are the ICE STUN URLs for the webrtc strategy.
	STUNServers []string `yaml:"stun_servers"`

	// AdvertiseHost is the host other phones should dial under the direct
	// strategy. Defaults to the first non-loopback local address.
	AdvertiseHost string `yaml:"advertise_host"`

	// ConnectTimeout bounds the direct-strategy connect/accept race.
	// Defaults to 10s.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Defaults applied by Validate when fields are zero.
const (
	DefaultSampleRate     = 48000
	DefaultDebounceDepth  = 16
	DefaultReconnectDelay = time.Second
	DefaultConnectTimeout = 10 * time.Second
)

// DefaultNumbers is the known-number list used when the config names none.
// The leading "0" is the operator sentinel.
var DefaultNumbers = []string{"0", "349", "4225", "34643664"}
