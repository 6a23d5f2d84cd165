// Package config loads the optional YAML configuration file for the RTMP
// server. Command-line flags remain the primary configuration surface (see
// cmd/rtmp-server/flags.go); this file lets an operator check a single
// rtmp-server.yaml into version control instead of a long flag invocation.
// Strict decoding (KnownFields) catches typos in the config file instead of
// silently ignoring them.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the complete server configuration as loaded from YAML.
// A flag passed explicitly on the command line always takes precedence over
// the corresponding loaded Config field (see cmd/rtmp-server).
type Config struct {
	Server Server       `yaml:"server"`
	Relay  RelayConfig  `yaml:"relay,omitempty"`
	Hooks  HooksConfig  `yaml:"hooks,omitempty"`
	WSFLV  WSFLVConfig  `yaml:"ws_flv,omitempty"`
}

// Server holds the core listener and protocol knobs.
type Server struct {
	ListenAddr    string `yaml:"listen_addr"`
	ChunkSize     uint32 `yaml:"chunk_size"`
	WindowAckSize uint32 `yaml:"window_ack_size"`
	RecordAll     bool   `yaml:"record_all"`
	RecordDir     string `yaml:"record_dir"`
	LogLevel      string `yaml:"log_level"`
}

// RelayConfig lists external RTMP destinations every published stream is
// pushed to in addition to local subscribers.
type RelayConfig struct {
	Destinations []string `yaml:"destinations,omitempty"`
}

// HooksConfig mirrors the -hook-* CLI flags for event notification.
type HooksConfig struct {
	Scripts     []string `yaml:"scripts,omitempty"`  // event_type=script_path
	Webhooks    []string `yaml:"webhooks,omitempty"` // event_type=webhook_url
	StdioFormat string   `yaml:"stdio_format,omitempty"`
	Timeout     string   `yaml:"timeout,omitempty"`
	Concurrency int      `yaml:"concurrency,omitempty"`
}

// WSFLVConfig controls the optional websocket+FLV debug relay used to watch
// a live stream from a browser without a dedicated RTMP player.
type WSFLVConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr,omitempty"`
}

// Load reads and strictly decodes a YAML configuration file, then applies
// defaults to any field left at its zero value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":1935"
	}
	if c.Server.ChunkSize == 0 {
		c.Server.ChunkSize = 4096
	}
	if c.Server.WindowAckSize == 0 {
		c.Server.WindowAckSize = 2_500_000
	}
	if c.Server.RecordDir == "" {
		c.Server.RecordDir = "recordings"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Hooks.Timeout == "" {
		c.Hooks.Timeout = "30s"
	}
	if c.Hooks.Concurrency == 0 {
		c.Hooks.Concurrency = 10
	}
	if c.WSFLV.ListenAddr == "" {
		c.WSFLV.ListenAddr = ":8090"
	}
}
