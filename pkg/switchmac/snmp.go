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

package switchmac

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/carverauto/terminal-discovery/pkg/logger"
	"github.com/carverauto/terminal-discovery/pkg/models"
)

// BRIDGE-MIB / Q-BRIDGE-MIB / IP-MIB columns.
const (
	oidDot1qTpFdbPort          = ".1.3.6.1.2.1.17.7.1.2.2.1.2"
	oidDot1qTpFdbStatus        = ".1.3.6.1.2.1.17.7.1.2.2.1.3"
	oidDot1dTpFdbPort          = ".1.3.6.1.2.1.17.4.3.1.2"
	oidDot1dTpFdbStatus        = ".1.3.6.1.2.1.17.4.3.1.3"
	oidDot1dBasePortIfIndex    = ".1.3.6.1.2.1.17.1.4.1.2"
	oidIPNetToMediaPhysAddress = ".1.3.6.1.2.1.4.22.1.2"
	defaultSNMPPort            = 161
	defaultSNMPTimeout         = 2 * time.Second
	defaultSNMPRetries         = 1
	defaultSNMPMaxEntries      = 16384
	defaultSNMPMaxRepetitions  = 25
	snmpVersion1               = "1"
	snmpVersion2c              = "2c"
	snmpVersion3               = "3"
	fdbStatusOther             = 1
	fdbStatusInvalid           = 2
	fdbStatusLearned           = 3
	fdbStatusSelf              = 4
	fdbStatusMgmt              = 5
	qBridgeIndexLen            = 7
	dBridgeIndexLen            = 6
	ipNetToMediaIndexLen       = 5
)

var (
	errSNMPTargetRequired     = errors.New("snmp target is required")
	errUnsupportedSNMPVersion = errors.New("unsupported SNMP version")
)

// SNMPConfig addresses the switch management agent.
type SNMPConfig struct {
	Target          string          `json:"target" yaml:"target"`
	Port            uint16          `json:"port,omitempty" yaml:"port,omitempty"`
	Version         string          `json:"version,omitempty" yaml:"version,omitempty"`
	Community       string          `json:"community,omitempty" yaml:"community,omitempty" sensitive:"true"`
	Username        string          `json:"username,omitempty" yaml:"username,omitempty"`
	AuthProtocol    string          `json:"auth_protocol,omitempty" yaml:"auth_protocol,omitempty"`
	AuthPassword    string          `json:"auth_password,omitempty" yaml:"auth_password,omitempty" sensitive:"true"`
	PrivacyProtocol string          `json:"privacy_protocol,omitempty" yaml:"privacy_protocol,omitempty"`
	PrivacyPassword string          `json:"privacy_password,omitempty" yaml:"privacy_password,omitempty" sensitive:"true"`
	Timeout         models.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Retries         int             `json:"retries,omitempty" yaml:"retries,omitempty"`
	// MaxEntries is the table size reported as capacity.
	MaxEntries uint32 `json:"max_entries,omitempty" yaml:"max_entries,omitempty"`
	// ARPTarget is queried for IP bindings; it defaults to Target.
	ARPTarget string `json:"arp_target,omitempty" yaml:"arp_target,omitempty"`
}

// Validate fills defaults and rejects unusable settings.
func (c *SNMPConfig) Validate() error {
	if c.Target == "" {
		return errSNMPTargetRequired
	}

	if c.Port == 0 {
		c.Port = defaultSNMPPort
	}

	if c.Version == "" {
		c.Version = snmpVersion2c
	}

	if c.Community == "" && c.Version != snmpVersion3 {
		c.Community = "public"
	}

	switch c.Version {
	case snmpVersion1, snmpVersion2c, snmpVersion3:
	default:
		return fmt.Errorf("%w: %s", errUnsupportedSNMPVersion, c.Version)
	}

	if c.Timeout <= 0 {
		c.Timeout = models.Duration(defaultSNMPTimeout)
	}

	if c.Retries <= 0 {
		c.Retries = defaultSNMPRetries
	}

	if c.MaxEntries == 0 {
		c.MaxEntries = defaultSNMPMaxEntries
	}

	if c.ARPTarget == "" {
		c.ARPTarget = c.Target
	}

	return nil
}

// walker is the subset of *gosnmp.GoSNMP used here.
type walker interface {
	BulkWalk(rootOid string, walkFn gosnmp.WalkFunc) error
	Walk(rootOid string, walkFn gosnmp.WalkFunc) error
}

type dialFunc func(ctx context.Context, target string) (walker, func() error, error)

func (c *SNMPConfig) dial(ctx context.Context, target string) (walker, func() error, error) {
	client := &gosnmp.GoSNMP{
		Target:             target,
		Port:               c.Port,
		Timeout:            time.Duration(c.Timeout),
		Retries:            c.Retries,
		MaxOids:            gosnmp.MaxOids,
		MaxRepetitions:     defaultSNMPMaxRepetitions,
		ExponentialTimeout: true,
		Context:            ctx,
	}

	switch c.Version {
	case snmpVersion1:
		client.Version = gosnmp.Version1
		client.Community = c.Community
	case snmpVersion3:
		client.Version = gosnmp.Version3
		client.SecurityModel = gosnmp.UserSecurityModel
		client.MsgFlags, client.SecurityParameters = c.usm()
	default:
		client.Version = gosnmp.Version2c
		client.Community = c.Community
	}

	if err := client.Connect(); err != nil {
		return nil, nil, fmt.Errorf("connect %s: %w", target, err)
	}

	return client, client.Conn.Close, nil
}

func (c *SNMPConfig) usm() (gosnmp.SnmpV3MsgFlags, *gosnmp.UsmSecurityParameters) {
	usm := &gosnmp.UsmSecurityParameters{UserName: c.Username}
	flags := gosnmp.NoAuthNoPriv

	switch strings.ToUpper(c.AuthProtocol) {
	case "MD5":
		usm.AuthenticationProtocol = gosnmp.MD5
	case "SHA":
		usm.AuthenticationProtocol = gosnmp.SHA
	case "SHA256":
		usm.AuthenticationProtocol = gosnmp.SHA256
	case "SHA512":
		usm.AuthenticationProtocol = gosnmp.SHA512
	default:
		return flags, usm
	}

	usm.AuthenticationPassphrase = c.AuthPassword
	flags = gosnmp.AuthNoPriv

	switch strings.ToUpper(c.PrivacyProtocol) {
	case "DES":
		usm.PrivacyProtocol = gosnmp.DES
	case "AES":
		usm.PrivacyProtocol = gosnmp.AES
	case "AES256":
		usm.PrivacyProtocol = gosnmp.AES256
	default:
		return flags, usm
	}

	usm.PrivacyPassphrase = c.PrivacyPassword

	return gosnmp.AuthPriv, usm
}

// SNMPSource reads the forwarding table over SNMP. The 802.1Q table is
// preferred; agents that only implement BRIDGE-MIB are read through
// dot1dTpFdbTable with VLAN 0. The Q-BRIDGE FDB id is taken as the VLAN id,
// which holds for switches doing independent VLAN learning.
type SNMPSource struct {
	config SNMPConfig
	dial   dialFunc
	logger logger.Logger
}

// NewSNMPSource validates cfg and returns a source for it.
func NewSNMPSource(cfg SNMPConfig, log logger.Logger) (*SNMPSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &SNMPSource{config: cfg, logger: log}
	s.dial = s.config.dial

	return s, nil
}

func (s *SNMPSource) Capacity(context.Context) (uint32, error) {
	return s.config.MaxEntries, nil
}

func (s *SNMPSource) Table(ctx context.Context) ([]Entry, error) {
	w, closeFn, err := s.dial(ctx, s.config.Target)
	if err != nil {
		return nil, err
	}

	defer func() {
		if cerr := closeFn(); cerr != nil {
			s.logger.Debug().Err(cerr).Msg("Failed to close SNMP connection")
		}
	}()

	portIfIndex, err := s.walkPortIfIndex(w)
	if err != nil {
		return nil, err
	}

	entries, err := s.walkFdb(w, oidDot1qTpFdbPort, oidDot1qTpFdbStatus, qBridgeIndexLen)
	if err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		entries, err = s.walkFdb(w, oidDot1dTpFdbPort, oidDot1dTpFdbStatus, dBridgeIndexLen)
		if err != nil {
			return nil, err
		}
	}

	for i := range entries {
		// ports without a dot1dBasePortIfIndex row keep the port number
		if ifIndex, ok := portIfIndex[entries[i].IfIndex]; ok {
			entries[i].IfIndex = ifIndex
		}
	}

	s.logger.Debug().
		Str("target", s.config.Target).
		Int("entries", len(entries)).
		Msg("Walked forwarding table")

	return entries, nil
}

func (s *SNMPSource) walk(w walker, oid string, fn gosnmp.WalkFunc) error {
	if s.config.Version == snmpVersion1 {
		return w.Walk(oid, fn)
	}

	return w.BulkWalk(oid, fn)
}

func (s *SNMPSource) walkPortIfIndex(w walker) (map[uint32]uint32, error) {
	ports := make(map[uint32]uint32)

	err := s.walk(w, oidDot1dBasePortIfIndex, func(pdu gosnmp.SnmpPDU) error {
		idx, ok := oidIndex(pdu.Name, oidDot1dBasePortIfIndex, 1)
		if !ok {
			return nil
		}

		ports[idx[0]] = uint32(pduUint(pdu))

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk dot1dBasePortIfIndex: %w", err)
	}

	return ports, nil
}

// walkFdb reads a port column and its matching status column. IfIndex holds
// the bridge port until the caller maps it.
func (s *SNMPSource) walkFdb(w walker, portOID, statusOID string, indexLen int) ([]Entry, error) {
	rows := make(map[string]*Entry)

	var order []string

	err := s.walk(w, portOID, func(pdu gosnmp.SnmpPDU) error {
		idx, ok := oidIndex(pdu.Name, portOID, indexLen)
		if !ok {
			return nil
		}

		e, ok := fdbEntry(idx)
		if !ok {
			return nil
		}

		e.IfIndex = uint32(pduUint(pdu))
		e.Attr = AttrDynamic

		key := strings.TrimPrefix(pdu.Name, portOID)
		rows[key] = &e
		order = append(order, key)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", portOID, err)
	}

	if len(rows) == 0 {
		return nil, nil
	}

	err = s.walk(w, statusOID, func(pdu gosnmp.SnmpPDU) error {
		if e, ok := rows[strings.TrimPrefix(pdu.Name, statusOID)]; ok {
			e.Attr = fdbStatusAttr(pduUint(pdu))
		}

		return nil
	})
	if err != nil {
		// status is advisory, rows without it stay dynamic
		s.logger.Debug().Err(err).Str("oid", statusOID).Msg("Failed to walk FDB status")
	}

	entries := make([]Entry, 0, len(order))
	for _, key := range order {
		entries = append(entries, *rows[key])
	}

	return entries, nil
}

func fdbEntry(idx []uint32) (Entry, bool) {
	var e Entry

	macIdx := idx
	if len(idx) == qBridgeIndexLen {
		if idx[0] > 4095 {
			return e, false
		}

		e.VLAN = uint16(idx[0])
		macIdx = idx[1:]
	}

	for i, b := range macIdx {
		if b > 255 {
			return e, false
		}

		e.MAC[i] = byte(b)
	}

	return e, true
}

func fdbStatusAttr(status uint64) Attr {
	switch status {
	case fdbStatusInvalid:
		return AttrDelete
	case fdbStatusSelf:
		return AttrSelf
	case fdbStatusMgmt:
		return AttrStatic
	case fdbStatusLearned:
		return AttrDynamic
	case fdbStatusOther:
		return 0
	default:
		return AttrDynamic
	}
}

// oidIndex returns the n numeric sub-identifiers following root in name.
func oidIndex(name, root string, n int) ([]uint32, bool) {
	if !strings.HasPrefix(name, root+".") {
		return nil, false
	}

	parts := strings.Split(strings.TrimPrefix(name, root+"."), ".")
	if len(parts) != n {
		return nil, false
	}

	out := make([]uint32, n)

	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, false
		}

		out[i] = uint32(v)
	}

	return out, true
}

func pduUint(pdu gosnmp.SnmpPDU) uint64 {
	v := gosnmp.ToBigInt(pdu.Value)
	if v == nil || v.Sign() < 0 || !v.IsUint64() {
		return 0
	}

	return v.Uint64()
}
