package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/pulselink/pulse/flash"
	"github.com/pulselink/pulse/link"
)

// HostConfig is the TOML configuration for a host-side tool that owns one
// serial stream and pushes images to the target over it.
type HostConfig struct {
	Serial SerialConfig `toml:"serial"`
	Link   LinkConfig   `toml:"link"`
	Flash  FlashConfig  `toml:"flash"`
}

type SerialConfig struct {
	Device string `toml:"device"`
	Baud   int    `toml:"baud"`
}

type LinkConfig struct {
	MTU                 int `toml:"mtu"`
	MaxFrameLength      int `toml:"max_frame_length"`
	KeepaliveIntervalMS int `toml:"keepalive_interval_ms"`
	KeepaliveFailures   int `toml:"keepalive_failures"`
}

type FlashConfig struct {
	AckTimeoutMS     int `toml:"ack_timeout_ms"`
	CommandTimeoutMS int `toml:"command_timeout_ms"`
	CommandAttempts  int `toml:"command_attempts"`
	EraseTimeoutMS   int `toml:"erase_timeout_ms"`
	MaxInFlight      int `toml:"max_in_flight"`
	MaxRetries       int `toml:"max_retries"`
}

func LoadHostConfig(path string) (HostConfig, error) {
	var cfg HostConfig
	if err := loadToml(path, &cfg); err != nil {
		return HostConfig{}, err
	}
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 115200
	}
	if cfg.Flash.MaxInFlight == 0 {
		cfg.Flash.MaxInFlight = 4
	}
	if cfg.Flash.MaxRetries == 0 {
		cfg.Flash.MaxRetries = 8
	}
	if err := ValidateHostConfig(cfg); err != nil {
		return HostConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateHostConfig(cfg HostConfig) error {
	if strings.TrimSpace(cfg.Serial.Device) == "" {
		return fmt.Errorf("host config missing serial device")
	}
	if cfg.Serial.Baud < 0 {
		return fmt.Errorf("serial baud must not be negative, got %d", cfg.Serial.Baud)
	}
	if cfg.Link.MTU < 0 {
		return fmt.Errorf("link mtu must not be negative, got %d", cfg.Link.MTU)
	}
	if cfg.Link.MaxFrameLength != 0 && cfg.Link.MaxFrameLength < cfg.Link.MTU {
		return fmt.Errorf("max frame length %d below mtu %d", cfg.Link.MaxFrameLength, cfg.Link.MTU)
	}
	if cfg.Flash.MaxInFlight < 0 || cfg.Flash.MaxRetries < 0 {
		return fmt.Errorf("flash window and retry counts must not be negative")
	}
	return nil
}

// LinkOptions maps the link section onto link.Options; zero fields keep the
// link package defaults.
func (c LinkConfig) LinkOptions() link.Options {
	return link.Options{
		MTU:               c.MTU,
		MaxFrameLength:    c.MaxFrameLength,
		KeepaliveInterval: time.Duration(c.KeepaliveIntervalMS) * time.Millisecond,
		KeepaliveFailures: c.KeepaliveFailures,
	}
}

// FlashOptions maps the flash section onto flash.Options; zero fields keep
// the flash package defaults. Window and retry counts are arguments to
// Session.Write, exposed separately via MaxInFlight/MaxRetries.
func (c FlashConfig) FlashOptions() flash.Options {
	return flash.Options{
		AckTimeout:      time.Duration(c.AckTimeoutMS) * time.Millisecond,
		CommandTimeout:  time.Duration(c.CommandTimeoutMS) * time.Millisecond,
		CommandAttempts: c.CommandAttempts,
		EraseTimeout:    time.Duration(c.EraseTimeoutMS) * time.Millisecond,
	}
}
