/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"time"

	"github.com/carverauto/terminal-discovery/pkg/logger"
	"github.com/carverauto/terminal-discovery/pkg/models"
	"github.com/carverauto/terminal-discovery/pkg/poller"
	"github.com/carverauto/terminal-discovery/pkg/switchmac"
	"github.com/carverauto/terminal-discovery/pkg/terminal"
)

var (
	// ErrInvalidArgument reports a nil config or an out-of-range setting.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidLogLevel reports a log level outside trace|debug|info|warn|error|none.
	ErrInvalidLogLevel = errors.New("invalid log level")
	errVLANNotFound    = errors.New("VLAN not in ignored list")
	errBadBinding      = errors.New("invalid static binding")
)

const (
	DefaultAdapterName            = "realtek"
	DefaultRxIface                = "eth0"
	DefaultTxIface                = "eth0"
	DefaultTxIntervalMs           = 100
	DefaultKeepaliveIntervalSec   = 120
	DefaultKeepaliveMissThreshold = 3
	DefaultIfaceInvalidHoldoffSec = 1800
	DefaultMaxTerminals           = 1000
	DefaultLogLevel               = "info"
	defaultNATSStream             = "terminal-events"
	defaultNATSSubject            = "terminals.changes"
	defaultPublishTimeout         = 2 * time.Second
)

// NATSConfig enables publishing change batches to JetStream.
type NATSConfig struct {
	URL            string          `json:"url" yaml:"url"`
	Domain         string          `json:"domain,omitempty" yaml:"domain,omitempty"`
	Stream         string          `json:"stream,omitempty" yaml:"stream,omitempty"`
	Subject        string          `json:"subject,omitempty" yaml:"subject,omitempty"`
	PublishTimeout models.Duration `json:"publish_timeout,omitempty" yaml:"publish_timeout,omitempty"`
}

// APIConfig enables the HTTP API.
type APIConfig struct {
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
	APIKey     string `json:"api_key,omitempty" yaml:"api_key,omitempty" sensitive:"true"`
}

// RuntimeConfig is the daemon's configuration document.
type RuntimeConfig struct {
	AdapterName            string   `json:"adapter_name" yaml:"adapter_name"`
	RxIface                string   `json:"rx_iface" yaml:"rx_iface"`
	TxIface                string   `json:"tx_iface" yaml:"tx_iface"`
	TxIntervalMs           uint32   `json:"tx_interval_ms" yaml:"tx_interval_ms"`
	KeepaliveIntervalSec   uint32   `json:"keepalive_interval_sec" yaml:"keepalive_interval_sec"`
	KeepaliveMissThreshold uint32   `json:"keepalive_miss_threshold" yaml:"keepalive_miss_threshold"`
	IfaceInvalidHoldoffSec uint32   `json:"iface_invalid_holdoff_sec" yaml:"iface_invalid_holdoff_sec"`
	MaxTerminals           uint32   `json:"max_terminals" yaml:"max_terminals"`
	StatsLogIntervalSec    uint32   `json:"stats_log_interval_sec" yaml:"stats_log_interval_sec"`
	LogLevel               string   `json:"log_level" yaml:"log_level"`
	IgnoredVLANs           []uint16 `json:"ignored_vlans,omitempty" yaml:"ignored_vlans,omitempty"`

	// StaticBindings maps MAC to IP for switches without an ARP view.
	StaticBindings map[string]string `json:"static_bindings,omitempty" yaml:"static_bindings,omitempty"`

	Logging  *logger.Config         `json:"logging,omitempty" yaml:"logging,omitempty"`
	SNMP     *switchmac.SNMPConfig  `json:"snmp,omitempty" yaml:"snmp,omitempty"`
	NATS     *NATSConfig            `json:"nats,omitempty" yaml:"nats,omitempty"`
	Security *models.SecurityConfig `json:"security,omitempty" yaml:"security,omitempty"`
	API      *APIConfig             `json:"api,omitempty" yaml:"api,omitempty"`
}

// LoadDefaults resets cfg to the built-in defaults.
func LoadDefaults(cfg *RuntimeConfig) error {
	if cfg == nil {
		return ErrInvalidArgument
	}

	*cfg = RuntimeConfig{
		AdapterName:            DefaultAdapterName,
		RxIface:                DefaultRxIface,
		TxIface:                DefaultTxIface,
		TxIntervalMs:           DefaultTxIntervalMs,
		KeepaliveIntervalSec:   DefaultKeepaliveIntervalSec,
		KeepaliveMissThreshold: DefaultKeepaliveMissThreshold,
		IfaceInvalidHoldoffSec: DefaultIfaceInvalidHoldoffSec,
		MaxTerminals:           DefaultMaxTerminals,
		LogLevel:               DefaultLogLevel,
	}

	return nil
}

// Default returns a RuntimeConfig holding the built-in defaults.
func Default() *RuntimeConfig {
	cfg := &RuntimeConfig{}
	_ = LoadDefaults(cfg)

	return cfg
}

// Validate implements Validator. Zero keepalive, miss threshold and
// holdoff select their defaults; a zero tx interval selects
// keepalive-only operation.
func (c *RuntimeConfig) Validate() error {
	if strings.TrimSpace(c.AdapterName) == "" {
		return fmt.Errorf("%w: adapter_name is required", ErrInvalidArgument)
	}

	if c.KeepaliveIntervalSec == 0 {
		c.KeepaliveIntervalSec = DefaultKeepaliveIntervalSec
	}

	if c.KeepaliveMissThreshold == 0 {
		c.KeepaliveMissThreshold = DefaultKeepaliveMissThreshold
	}

	if c.IfaceInvalidHoldoffSec == 0 {
		c.IfaceInvalidHoldoffSec = DefaultIfaceInvalidHoldoffSec
	}

	if c.MaxTerminals == 0 {
		return fmt.Errorf("%w: max_terminals must be at least 1", ErrInvalidArgument)
	}

	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}

	if err := terminal.ValidateVLANs(c.IgnoredVLANs); err != nil {
		return err
	}

	if _, err := c.Bindings(); err != nil {
		return err
	}

	if c.NATS != nil {
		c.NATS.applyDefaults()
	}

	return nil
}

func (n *NATSConfig) applyDefaults() {
	if n.Stream == "" {
		n.Stream = defaultNATSStream
	}

	if n.Subject == "" {
		n.Subject = defaultNATSSubject
	}

	if n.PublishTimeout <= 0 {
		n.PublishTimeout = models.Duration(defaultPublishTimeout)
	}
}

// Bindings parses StaticBindings.
func (c *RuntimeConfig) Bindings() (map[switchmac.MAC]netip.Addr, error) {
	if len(c.StaticBindings) == 0 {
		return nil, nil
	}

	out := make(map[switchmac.MAC]netip.Addr, len(c.StaticBindings))

	for rawMAC, rawIP := range c.StaticBindings {
		mac, err := switchmac.ParseMAC(rawMAC)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", errBadBinding, rawMAC, err)
		}

		ip, err := netip.ParseAddr(rawIP)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", errBadBinding, rawMAC, err)
		}

		out[mac] = ip
	}

	return out, nil
}

// ToManagerConfig projects cfg onto the registry's configuration. The tx
// interval is the scan cadence.
func ToManagerConfig(cfg *RuntimeConfig) (terminal.Config, error) {
	if cfg == nil {
		return terminal.Config{}, ErrInvalidArgument
	}

	return terminal.Config{
		ScanInterval:        time.Duration(cfg.TxIntervalMs) * time.Millisecond,
		KeepaliveInterval:   time.Duration(cfg.KeepaliveIntervalSec) * time.Second,
		MissThreshold:       cfg.KeepaliveMissThreshold,
		IfaceInvalidHoldoff: time.Duration(cfg.IfaceInvalidHoldoffSec) * time.Second,
		MaxTerminals:        int(cfg.MaxTerminals),
		IgnoredVLANs:        slices.Clone(cfg.IgnoredVLANs),
	}, nil
}

// Intervals returns the scheduler cadence for cfg.
func (c *RuntimeConfig) Intervals() poller.Intervals {
	return poller.Intervals{
		Scan:      time.Duration(c.TxIntervalMs) * time.Millisecond,
		Keepalive: time.Duration(c.KeepaliveIntervalSec) * time.Second,
		StatsLog:  time.Duration(c.StatsLogIntervalSec) * time.Second,
	}
}

// SetKeepaliveInterval sets the keepalive interval in seconds; 0 restores
// the default.
func (c *RuntimeConfig) SetKeepaliveInterval(sec uint32) {
	if sec == 0 {
		sec = DefaultKeepaliveIntervalSec
	}

	c.KeepaliveIntervalSec = sec
}

// SetMissThreshold sets the miss threshold; 0 restores the default.
func (c *RuntimeConfig) SetMissThreshold(n uint32) {
	if n == 0 {
		n = DefaultKeepaliveMissThreshold
	}

	c.KeepaliveMissThreshold = n
}

// SetIfaceInvalidHoldoff sets the holdoff in seconds; 0 restores the default.
func (c *RuntimeConfig) SetIfaceInvalidHoldoff(sec uint32) {
	if sec == 0 {
		sec = DefaultIfaceInvalidHoldoffSec
	}

	c.IfaceInvalidHoldoffSec = sec
}

// SetMaxTerminals sets the registry bound, which must be at least 1.
func (c *RuntimeConfig) SetMaxTerminals(n uint32) error {
	if n < 1 {
		return fmt.Errorf("%w: max_terminals must be at least 1", ErrInvalidArgument)
	}

	c.MaxTerminals = n

	return nil
}

// SetLogLevel sets the log level after checking it parses.
func (c *RuntimeConfig) SetLogLevel(level string) error {
	if _, err := logger.ParseLevel(level); err != nil || strings.TrimSpace(level) == "" {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, level)
	}

	c.LogLevel = strings.ToLower(strings.TrimSpace(level))

	return nil
}

// AddIgnoredVLAN appends vlan to the ignored list.
func (c *RuntimeConfig) AddIgnoredVLAN(vlan uint16) error {
	next := append(slices.Clone(c.IgnoredVLANs), vlan)
	if err := terminal.ValidateVLANs(next); err != nil {
		return err
	}

	c.IgnoredVLANs = next

	return nil
}

// RemoveIgnoredVLAN drops vlan from the ignored list.
func (c *RuntimeConfig) RemoveIgnoredVLAN(vlan uint16) error {
	i := slices.Index(c.IgnoredVLANs, vlan)
	if i < 0 {
		return fmt.Errorf("%w: %d", errVLANNotFound, vlan)
	}

	c.IgnoredVLANs = slices.Delete(slices.Clone(c.IgnoredVLANs), i, i+1)

	return nil
}

// ClearIgnoredVLANs empties the ignored list.
func (c *RuntimeConfig) ClearIgnoredVLANs() {
	c.IgnoredVLANs = nil
}
