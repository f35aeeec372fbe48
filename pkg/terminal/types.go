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

// Package terminal keeps the registry of stations learned from a switch MAC
// table, tracks their liveness across polls and reports incremental changes.
package terminal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/carverauto/terminal-discovery/pkg/switchmac"
)

var (
	// ErrInvalidArgument reports a missing or out-of-range argument.
	ErrInvalidArgument = errors.New("invalid argument")
	errTooManyVLANs    = errors.New("too many ignored VLANs")
	errVLANRange       = errors.New("VLAN out of range")
	errDuplicateVLAN   = errors.New("duplicate VLAN")
)

const (
	DefaultKeepaliveInterval   = 120 * time.Second
	DefaultMissThreshold       = 3
	DefaultIfaceInvalidHoldoff = 1800 * time.Second
	DefaultMaxTerminals        = 1000
	// DefaultScanInterval paces discovery when only a keepalive cadence
	// is configured.
	DefaultScanInterval = time.Second
	MaxIgnoredVLANs     = 32
	MinVLAN             = 1
	MaxVLAN             = 4094
)

// Tag classifies a change event. The numeric values are part of the
// consumer contract.
type Tag uint8

const (
	TagDel Tag = 0
	TagAdd Tag = 1
	TagMod Tag = 2
)

func (t Tag) String() string {
	switch t {
	case TagDel:
		return "DEL"
	case TagAdd:
		return "ADD"
	case TagMod:
		return "MOD"
	default:
		return fmt.Sprintf("Tag(%d)", uint8(t))
	}
}

// TerminalInfo is the externally visible view of a terminal.
type TerminalInfo struct {
	MAC     switchmac.MAC `json:"mac"`
	IP      netip.Addr    `json:"ip"`
	Port    uint32        `json:"port"`
	VLAN    uint16        `json:"vlan"`
	IfIndex uint32        `json:"ifindex"`
}

// ChangeEvent is one ADD, MOD or DEL with the terminal as it was when the
// transition happened.
type ChangeEvent struct {
	Tag Tag `json:"tag"`
	TerminalInfo
}

// MarshalJSON flattens the event and adds the tag name.
func (e ChangeEvent) MarshalJSON() ([]byte, error) {
	type flat struct {
		TerminalInfo
		Tag     Tag    `json:"tag"`
		TagName string `json:"tag_name"`
	}

	return json.Marshal(flat{TerminalInfo: e.TerminalInfo, Tag: e.Tag, TagName: e.Tag.String()})
}

// ReportFunc receives the events of one tick in order: ADD and MOD first,
// then DEL, each group by ascending MAC. It runs on the scheduler goroutine
// and the next tick waits for it to return; the slice is not reused after
// the call returns.
type ReportFunc func(events []ChangeEvent)

// Chain returns a ReportFunc calling each non-nil fn in order.
func Chain(fns ...ReportFunc) ReportFunc {
	var live []ReportFunc

	for _, fn := range fns {
		if fn != nil {
			live = append(live, fn)
		}
	}

	if len(live) == 0 {
		return nil
	}

	return func(events []ChangeEvent) {
		for _, fn := range live {
			fn(events)
		}
	}
}

// Record is a full dump of a registry entry.
type Record struct {
	TerminalInfo
	State          State      `json:"state"`
	Misses         uint32     `json:"misses"`
	LastSeen       time.Time  `json:"last_seen"`
	IfaceInvalidAt *time.Time `json:"iface_invalid_at,omitempty"`
}

// Config is the registry's slice of the runtime configuration.
type Config struct {
	ScanInterval        time.Duration `json:"scan_interval"`
	KeepaliveInterval   time.Duration `json:"keepalive_interval"`
	MissThreshold       uint32        `json:"keepalive_miss_threshold"`
	IfaceInvalidHoldoff time.Duration `json:"iface_invalid_holdoff"`
	MaxTerminals        int           `json:"max_terminals"`
	IgnoredVLANs        []uint16      `json:"ignored_vlans,omitempty"`
}

// Validate fills zero fields with defaults and rejects impossible values.
func (c *Config) Validate() error {
	if c.ScanInterval < 0 || c.KeepaliveInterval < 0 || c.IfaceInvalidHoldoff < 0 || c.MaxTerminals < 0 {
		return fmt.Errorf("%w: negative setting", ErrInvalidArgument)
	}

	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = DefaultKeepaliveInterval
	}

	if c.MissThreshold == 0 {
		c.MissThreshold = DefaultMissThreshold
	}

	if c.IfaceInvalidHoldoff == 0 {
		c.IfaceInvalidHoldoff = DefaultIfaceInvalidHoldoff
	}

	if c.MaxTerminals == 0 {
		c.MaxTerminals = DefaultMaxTerminals
	}

	return ValidateVLANs(c.IgnoredVLANs)
}

// ValidateVLANs checks an ignored-VLAN list.
func ValidateVLANs(vlans []uint16) error {
	if len(vlans) > MaxIgnoredVLANs {
		return fmt.Errorf("%w: %d > %d", errTooManyVLANs, len(vlans), MaxIgnoredVLANs)
	}

	seen := make(map[uint16]struct{}, len(vlans))

	for _, v := range vlans {
		if v < MinVLAN || v > MaxVLAN {
			return fmt.Errorf("%w: %d", errVLANRange, v)
		}

		if _, dup := seen[v]; dup {
			return fmt.Errorf("%w: %d", errDuplicateVLAN, v)
		}

		seen[v] = struct{}{}
	}

	return nil
}

// Stats are cumulative registry counters.
type Stats struct {
	TerminalsDiscovered   uint64 `json:"terminals_discovered"`
	TerminalsRemoved      uint64 `json:"terminals_removed"`
	CapacityDrops         uint64 `json:"capacity_drops"`
	CurrentTerminals      int    `json:"current_terminals"`
	EventsDispatched      uint64 `json:"events_dispatched"`
	EventDispatchFailures uint64 `json:"event_dispatch_failures"`
	ScanFailures          uint64 `json:"scan_failures"`
	Truncations           uint64 `json:"truncations"`
	Scans                 uint64 `json:"scans"`
}
