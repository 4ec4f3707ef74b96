// Package config loads the server's JSON configuration file, the same
// codec ChoHeeSung-Devin/RtspToRtsp's config.go uses for its
// config.json (`streams` map, `server` block). This rewrites the
// teacher's .env key=value reader, which has no domain analogue here,
// for the JSON document shape the spec's component table assumes.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the top-level document read from config.json.
type Config struct {
	Listen  ListenConfig          `json:"listen"`
	Auth    AuthConfig            `json:"auth"`
	Streams map[string]StreamSpec `json:"streams"`
}

// ListenConfig configures the control-connection accept loop.
type ListenConfig struct {
	Address            string `json:"address"`
	Port               int    `json:"port"`
	SessionTimeoutSecs int    `json:"session_timeout_secs"`
	RTPMTU             int    `json:"rtp_mtu"`
	MaxQueueDepth       int   `json:"max_queue_depth"`
}

// AuthConfig selects the authentication policy (spec.md §4.C).
type AuthConfig struct {
	Policy string            `json:"policy"` // "none" | "basic" | "digest"
	Realm  string            `json:"realm"`
	Users  map[string]string `json:"users"`
}

// StreamSpec describes one stream, exposed at the path given by its key
// in Config.Streams; Name is its display name.
type StreamSpec struct {
	Name        string `json:"name"`
	FrameSource string `json:"frame_source"` // driver identifier, resolved by cmd/rtspd
	VideoPT     uint8  `json:"video_payload_type"`
	AudioPT     *uint8 `json:"audio_payload_type,omitempty"`
	AudioCodec  string `json:"audio_codec,omitempty"` // "PCMU" | "PCMA" | "AAC"
	AudioRate   uint32 `json:"audio_clock_rate,omitempty"`
	AudioChans  int    `json:"audio_channels,omitempty"`
}

// SessionTimeout returns the configured idle timeout, defaulting to
// 60s per spec.md §4.F.
func (l ListenConfig) SessionTimeout() time.Duration {
	if l.SessionTimeoutSecs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(l.SessionTimeoutSecs) * time.Second
}

// MaxQueueDepthOrDefault returns the configured per-session send queue
// depth, defaulting to 64 (spec.md §4.H).
func (l ListenConfig) MaxQueueDepthOrDefault() int {
	if l.MaxQueueDepth <= 0 {
		return 64
	}
	return l.MaxQueueDepth
}

// RTPMTUOrDefault returns the configured RTP MTU, defaulting to 1400
// (spec.md §4.D).
func (l ListenConfig) RTPMTUOrDefault() int {
	if l.RTPMTU <= 0 {
		return 1400
	}
	return l.RTPMTU
}

// Load reads and validates a JSON config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if cfg.Listen.Port == 0 {
		cfg.Listen.Port = 554 // spec.md §6 default
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the document describes a servable config.
func (c *Config) Validate() error {
	if c.Listen.Port <= 0 {
		return fmt.Errorf("config: listen.port is required")
	}
	if len(c.Streams) == 0 {
		return fmt.Errorf("config: at least one stream is required")
	}
	switch c.Auth.Policy {
	case "", "none", "basic", "digest":
	default:
		return fmt.Errorf("config: unknown auth.policy %q", c.Auth.Policy)
	}
	if c.Auth.Policy == "basic" || c.Auth.Policy == "digest" {
		if len(c.Auth.Users) == 0 {
			return fmt.Errorf("config: auth.users required when policy is %q", c.Auth.Policy)
		}
	}
	for name, stream := range c.Streams {
		if stream.Name == "" {
			stream.Name = name
		}
		if stream.FrameSource == "" {
			return fmt.Errorf("config: stream %q missing frame_source", name)
		}
	}
	return nil
}
