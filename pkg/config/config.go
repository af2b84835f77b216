// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the tuyalink configuration from defaults, a JSON
// file, a .env file and the environment, in that order of precedence.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/tuyalink/pkg/channels"
	"github.com/Thermoquad/tuyalink/pkg/tuyamcu"
)

// EnvPathVar overrides the .env file location
const EnvPathVar = "TUYALINK_ENV_PATH"

// DefaultEnvPath is the .env file read when EnvPathVar is unset
const DefaultEnvPath = ".env"

// ChannelConfig declares one channel
type ChannelConfig struct {
	Channel int    `json:"channel"`
	Type    string `json:"type"`
	Label   string `json:"label,omitempty"`
}

// LinkConfig binds a data point to a channel. A missing channel binds the
// data point without one, as vendor raw records need.
type LinkConfig struct {
	DataPointID int    `json:"dp_id"`
	Type        string `json:"type"`
	Channel     *int   `json:"channel,omitempty"`
}

// DimmerConfig is the MCU side dimmer range
type DimmerConfig struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// MQTTConfig configures the broker bridge. An empty Broker disables it.
type MQTTConfig struct {
	Broker   string `json:"broker"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Password string `json:"password"`
	Prefix   string `json:"prefix"`
}

// HistoryConfig configures the SQLite event log. An empty Path disables it.
type HistoryConfig struct {
	Path string `json:"path"`
}

// Config is the top-level configuration
type Config struct {
	Port          string `json:"port"`
	BaudRate      int    `json:"baud_rate"`
	URL           string `json:"url"`
	Username      string `json:"username"`
	SkipSSLVerify bool   `json:"no_ssl_verify"`
	LogLevel      string `json:"log_level"`

	TickIntervalMS   int          `json:"tick_interval_ms"`
	Dimmer           DimmerConfig `json:"dimmer"`
	DefaultWiFiState int          `json:"default_wifi_state"`

	Channels []ChannelConfig `json:"channels"`
	Links    []LinkConfig    `json:"links"`
	// Startup holds console lines run once before the engine starts
	Startup []string `json:"startup"`

	MQTT    MQTTConfig    `json:"mqtt"`
	History HistoryConfig `json:"history"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		BaudRate:         tuyamcu.DefaultBaudRate,
		LogLevel:         "info",
		TickIntervalMS:   1000,
		Dimmer:           DimmerConfig{Min: tuyamcu.DefaultDimmerRange.Min, Max: tuyamcu.DefaultDimmerRange.Max},
		DefaultWiFiState: tuyamcu.WiFiStateSmartConfig,
		MQTT: MQTTConfig{
			ClientID: "tuyalink",
		},
	}
}

// TickInterval returns the engine service period
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

// DimmerRange returns the dimmer range in engine form
func (c *Config) DimmerRange() tuyamcu.DimmerRange {
	return tuyamcu.DimmerRange{Min: c.Dimmer.Min, Max: c.Dimmer.Max}
}

// MQTTPrefix returns the topic prefix, defaulting to the client id
func (c *Config) MQTTPrefix() string {
	if c.MQTT.Prefix != "" {
		return c.MQTT.Prefix
	}
	return c.MQTT.ClientID
}

// Load builds the configuration. A missing file at path is logged and
// skipped; a file that does not parse is an error.
func Load(path string, logger logrus.FieldLogger) (*Config, error) {
	logger = logger.WithField("feature", "Config")
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			logger.Warnf("config file %s not found, using defaults and environment", path)
		case err != nil:
			return nil, fmt.Errorf("could not read config file %s: %w", path, err)
		default:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("error unmarshalling config file %s: %w", path, err)
			}
			logger.Infof("loaded configuration from %s", path)
		}
	}

	envPath := DefaultEnvPath
	if v := os.Getenv(EnvPathVar); v != "" {
		envPath = v
	}
	if err := godotenv.Load(envPath); err != nil {
		logger.Debugf("no .env file loaded from %s: %v", envPath, err)
	} else {
		logger.Infof("loaded .env file from %s", envPath)
	}

	cfg.applyEnv(logger)
	return cfg, nil
}

func (c *Config) applyEnv(logger logrus.FieldLogger) {
	str := func(name string, dst *string, secret bool) {
		if v := os.Getenv(name); v != "" {
			*dst = v
			if secret {
				logger.Debugf("ENV Override: %s=***", name)
			} else {
				logger.Debugf("ENV Override: %s=%s", name, v)
			}
		}
	}
	num := func(name string, dst *int) {
		v := os.Getenv(name)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			logger.Warnf("could not parse %s from env (%q): %v, keeping %d", name, v, err, *dst)
			return
		}
		*dst = n
		logger.Debugf("ENV Override: %s=%d", name, n)
	}

	str("TUYA_PORT", &c.Port, false)
	num("TUYA_BAUD", &c.BaudRate)
	str("TUYA_URL", &c.URL, false)
	str("MQTT_BROKER", &c.MQTT.Broker, false)
	str("MQTT_CLIENT_ID", &c.MQTT.ClientID, false)
	str("MQTT_USER", &c.MQTT.Username, false)
	str("MQTT_PASS", &c.MQTT.Password, true)
	str("LOG_LEVEL", &c.LogLevel, false)
	str("TUYA_HISTORY_DB", &c.History.Path, false)
}

// Validate checks value ranges and names
func (c *Config) Validate() error {
	var errs []error

	if c.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("baud_rate must be positive, got %d", c.BaudRate))
	}
	if c.TickIntervalMS <= 0 {
		errs = append(errs, fmt.Errorf("tick_interval_ms must be positive, got %d", c.TickIntervalMS))
	}
	if err := c.DimmerRange().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.DefaultWiFiState < 0 || c.DefaultWiFiState > tuyamcu.WiFiStateLowPower {
		errs = append(errs, fmt.Errorf("default_wifi_state %d out of range (0-%d)", c.DefaultWiFiState, tuyamcu.WiFiStateLowPower))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	for _, ch := range c.Channels {
		if !channels.Valid(ch.Channel) {
			errs = append(errs, fmt.Errorf("channel %d out of range (0-%d)", ch.Channel, channels.MaxChannels-1))
		}
		if _, err := channels.ParseType(ch.Type); err != nil {
			errs = append(errs, fmt.Errorf("channel %d: %w", ch.Channel, err))
		}
	}

	for _, l := range c.Links {
		if l.DataPointID < 0 || l.DataPointID > 255 {
			errs = append(errs, fmt.Errorf("dp_id %d out of range (0-255)", l.DataPointID))
		}
		if _, err := tuyamcu.ParseDataPointType(l.Type); err != nil {
			errs = append(errs, fmt.Errorf("dp_id %d: %w", l.DataPointID, err))
		}
		if l.Channel != nil && !channels.Valid(*l.Channel) {
			errs = append(errs, fmt.Errorf("dp_id %d: channel %d out of range", l.DataPointID, *l.Channel))
		}
	}

	return errors.Join(errs...)
}

// ApplyChannels sets the declared channel types and labels
func (c *Config) ApplyChannels(store *channels.Store) error {
	for _, ch := range c.Channels {
		t, err := channels.ParseType(ch.Type)
		if err != nil {
			return fmt.Errorf("channel %d: %w", ch.Channel, err)
		}
		if err := store.SetType(ch.Channel, t); err != nil {
			return err
		}
		if ch.Label != "" {
			if err := store.SetLabel(ch.Channel, ch.Label); err != nil {
				return err
			}
		}
	}
	return nil
}

// ApplyEngine binds the declared links and sets the dimmer range and
// default WiFi state
func (c *Config) ApplyEngine(e *tuyamcu.Engine) error {
	if err := e.SetDimmerRange(c.DimmerRange()); err != nil {
		return err
	}
	e.SetDefaultWiFiState(uint8(c.DefaultWiFiState))

	for _, l := range c.Links {
		t, err := tuyamcu.ParseDataPointType(l.Type)
		if err != nil {
			return fmt.Errorf("dp_id %d: %w", l.DataPointID, err)
		}
		ch := tuyamcu.Unbound
		if l.Channel != nil {
			ch = *l.Channel
		}
		e.Bind(uint8(l.DataPointID), t, ch)
	}
	return nil
}
