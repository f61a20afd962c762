package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/bellwetherlabs/ringdown/internal/config"
)

const validYAML = `
side: inside
relay:
  control_url: wss://relay.example.com/phone/inside
  discovery_url: wss://relay.example.com/phone/signaling
  api_key: hunter2
`

func TestLoadFromReader_ValidWithDefaults(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Side != config.SideInside {
		t.Errorf("Side = %q, want inside", cfg.Side)
	}
	if cfg.Audio.SampleRate != 48000 {
		t.Errorf("SampleRate = %d, want default 48000", cfg.Audio.SampleRate)
	}
	if cfg.GPIO.DebounceDepth != 16 {
		t.Errorf("DebounceDepth = %d, want default 16", cfg.GPIO.DebounceDepth)
	}
	if cfg.Relay.ReconnectDelay != time.Second {
		t.Errorf("ReconnectDelay = %v, want 1s", cfg.Relay.ReconnectDelay)
	}
	if cfg.Session.Strategy != config.StrategyWebRTC {
		t.Errorf("Strategy = %q, want webrtc", cfg.Session.Strategy)
	}
	if cfg.Session.ConnectTimeout != 10*time.Second {
		t.Errorf("ConnectTimeout = %v, want 10s", cfg.Session.ConnectTimeout)
	}
	if len(cfg.Numbers) == 0 || cfg.Numbers[0] != "0" {
		t.Errorf("Numbers = %v, want defaults starting with operator 0", cfg.Numbers)
	}
}

func TestLoadFromReader_EnvOverridesAPIKey(t *testing.T) {
	t.Setenv(config.EnvAPIKey, "from-env")
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Relay.APIKey != "from-env" {
		t.Errorf("APIKey = %q, want env override", cfg.Relay.APIKey)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	yaml := validYAML + "\nbogus_field: 1\n"
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantSub string
	}{
		{
			name:    "bad side",
			mutate:  func(c *config.Config) { c.Side = "upside" },
			wantSub: "side",
		},
		{
			name:    "bad log level",
			mutate:  func(c *config.Config) { c.Server.LogLevel = "loud" },
			wantSub: "log_level",
		},
		{
			name:    "missing control url",
			mutate:  func(c *config.Config) { c.Relay.ControlURL = "" },
			wantSub: "control_url",
		},
		{
			name:    "non-websocket discovery url",
			mutate:  func(c *config.Config) { c.Relay.DiscoveryURL = "https://x" },
			wantSub: "discovery_url",
		},
		{
			name:    "missing api key",
			mutate:  func(c *config.Config) { c.Relay.APIKey = "" },
			wantSub: "api_key",
		},
		{
			name:    "non-opus sample rate",
			mutate:  func(c *config.Config) { c.Audio.SampleRate = 44100 },
			wantSub: "sample_rate",
		},
		{
			name:    "bad strategy",
			mutate:  func(c *config.Config) { c.Session.Strategy = "carrier-pigeon" },
			wantSub: "strategy",
		},
		{
			name:    "non-digit number",
			mutate:  func(c *config.Config) { c.Numbers = []string{"34a"} },
			wantSub: "non-digit",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)
			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestValidate_JoinsMultipleErrors(t *testing.T) {
	cfg := baseConfig()
	cfg.Side = ""
	cfg.Relay.APIKey = ""
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	msg := err.Error()
	if !strings.Contains(msg, "side") || !strings.Contains(msg, "api_key") {
		t.Errorf("joined error %q missing one of the failures", msg)
	}
}

func baseConfig() *config.Config {
	return &config.Config{
		Side: config.SideOutside,
		Relay: config.RelayConfig{
			ControlURL:   "wss://relay.example.com/phone/outside",
			DiscoveryURL: "wss://relay.example.com/phone/signaling",
			APIKey:       "hunter2",
		},
	}
}
