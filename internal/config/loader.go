package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvAPIKey is the environment variable that overrides relay.api_key.
// Keeping the secret out of the YAML file is the expected deployment shape.
const EnvAPIKey = "RINGDOWN_API_KEY"

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment
// overrides and defaults, and validates the result. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if key := os.Getenv(EnvAPIKey); key != "" {
		cfg.Relay.APIKey = key
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values and fills in
// defaults for optional fields. It returns a joined error listing all
// validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Side.IsValid() {
		errs = append(errs, fmt.Errorf("side %q is invalid; valid values: inside, outside", cfg.Side))
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	} else if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Relay.ControlURL == "" {
		errs = append(errs, errors.New("relay.control_url is required"))
	} else if !isWebsocketURL(cfg.Relay.ControlURL) {
		errs = append(errs, fmt.Errorf("relay.control_url %q must be a ws:// or wss:// URL", cfg.Relay.ControlURL))
	}
	if cfg.Relay.DiscoveryURL == "" {
		errs = append(errs, errors.New("relay.discovery_url is required"))
	} else if !isWebsocketURL(cfg.Relay.DiscoveryURL) {
		errs = append(errs, fmt.Errorf("relay.discovery_url %q must be a ws:// or wss:// URL", cfg.Relay.DiscoveryURL))
	}
	if cfg.Relay.APIKey == "" {
		errs = append(errs, fmt.Errorf("relay.api_key is required (or set $%s)", EnvAPIKey))
	}
	if cfg.Relay.ReconnectDelay <= 0 {
		cfg.Relay.ReconnectDelay = DefaultReconnectDelay
	}

	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	switch cfg.Audio.SampleRate {
	case 8000, 12000, 16000, 24000, 48000: // the rates Opus accepts
	default:
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is not an Opus rate (8000, 12000, 16000, 24000, 48000)", cfg.Audio.SampleRate))
	}

	if cfg.GPIO.DebounceDepth == 0 {
		cfg.GPIO.DebounceDepth = DefaultDebounceDepth
	} else if cfg.GPIO.DebounceDepth < 0 {
		errs = append(errs, fmt.Errorf("gpio.debounce_depth %d must be positive", cfg.GPIO.DebounceDepth))
	}

	if cfg.Session.Strategy == "" {
		cfg.Session.Strategy = StrategyWebRTC
	} else if !cfg.Session.Strategy.IsValid() {
		errs = append(errs, fmt.Errorf("session.strategy %q is invalid; valid values: direct, webrtc", cfg.Session.Strategy))
	}
	if cfg.Session.ConnectTimeout <= 0 {
		cfg.Session.ConnectTimeout = DefaultConnectTimeout
	}

	if len(cfg.Numbers) == 0 {
		cfg.Numbers = append([]string(nil), DefaultNumbers...)
	}
	for i, n := range cfg.Numbers {
		if n == "" {
			errs = append(errs, fmt.Errorf("numbers[%d] is empty", i))
			continue
		}
		if strings.Trim(n, "0123456789") != "" {
			errs = append(errs, fmt.Errorf("numbers[%d] %q contains non-digit characters", i, n))
		}
	}

	return errors.Join(errs...)
}

func isWebsocketURL(u string) bool {
	return strings.HasPrefix(u, "ws://") || strings.HasPrefix(u, "wss://")
}
