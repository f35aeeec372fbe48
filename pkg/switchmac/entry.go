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

// Package switchmac reads a switch's forwarding (MAC address) table through a
// pluggable Source and exposes it behind a bounded, timeout-guarded Bridge.
package switchmac

import (
	"bytes"
	"errors"
	"fmt"
	"net"
)

const macLength = 6

var errBadMAC = errors.New("not a 48-bit MAC address")

// MAC is a 48-bit hardware address usable as a map key.
type MAC [macLength]byte

// ParseMAC accepts any notation net.ParseMAC does, as long as it is EUI-48.
func ParseMAC(s string) (MAC, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return MAC{}, err
	}

	return macFromBytes(hw)
}

func macFromBytes(b []byte) (MAC, error) {
	var m MAC

	if len(b) != macLength {
		return m, fmt.Errorf("%w: %d bytes", errBadMAC, len(b))
	}

	copy(m[:], b)

	return m, nil
}

func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// Compare orders MACs as unsigned big-endian integers.
func (m MAC) Compare(o MAC) int {
	return bytes.Compare(m[:], o[:])
}

func (m MAC) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *MAC) UnmarshalText(text []byte) error {
	parsed, err := ParseMAC(string(text))
	if err != nil {
		return err
	}

	*m = parsed

	return nil
}

// Attr is the per-entry attribute bitmask reported by the table source.
type Attr uint32

const (
	AttrDynamic Attr = 1 << iota
	AttrStatic
	// AttrDelete marks an entry the switch is aging out.
	AttrDelete
	// AttrSelf marks the switch's own interface addresses.
	AttrSelf
)

func (a Attr) String() string {
	switch {
	case a&AttrDelete != 0:
		return "delete"
	case a&AttrSelf != 0:
		return "self"
	case a&AttrStatic != 0:
		return "static"
	case a&AttrDynamic != 0:
		return "dynamic"
	default:
		return "other"
	}
}

// Entry is one row of the forwarding table. Entries are produced fresh on
// every snapshot and carry no identity beyond MAC and VLAN.
type Entry struct {
	MAC     MAC
	VLAN    uint16
	IfIndex uint32
	Attr    Attr
}

// Terminal reports whether the row describes an attached station rather
// than a row being aged out or one of the switch's own addresses.
func (e Entry) Terminal() bool {
	return e.Attr&(AttrDelete|AttrSelf) == 0
}
