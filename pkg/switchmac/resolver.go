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
	"fmt"
	"net/netip"

	"github.com/gosnmp/gosnmp"
)

// StaticResolver binds MACs from a fixed table, typically loaded from
// configuration. Port defaults to the entry's interface index.
type StaticResolver struct {
	bindings map[MAC]netip.Addr
}

// NewStaticResolver returns a resolver over bindings, which is copied.
func NewStaticResolver(bindings map[MAC]netip.Addr) *StaticResolver {
	r := &StaticResolver{bindings: make(map[MAC]netip.Addr, len(bindings))}
	for mac, ip := range bindings {
		r.bindings[mac] = ip
	}

	return r
}

func (r *StaticResolver) Resolve(_ context.Context, entries []Entry) (map[MAC]Binding, error) {
	out := make(map[MAC]Binding, len(entries))

	for _, e := range entries {
		out[e.MAC] = Binding{IP: r.bindings[e.MAC], Port: e.IfIndex}
	}

	return out, nil
}

// SNMPResolver learns IPs from the agent's ipNetToMediaTable and reports the
// bridge port (dot1dBasePortIfIndex inverted) of each entry's interface.
type SNMPResolver struct {
	source *SNMPSource
}

// NewSNMPResolver shares the connection settings of source.
func NewSNMPResolver(source *SNMPSource) *SNMPResolver {
	return &SNMPResolver{source: source}
}

func (r *SNMPResolver) Resolve(ctx context.Context, entries []Entry) (map[MAC]Binding, error) {
	s := r.source

	w, closeFn, err := s.dial(ctx, s.config.ARPTarget)
	if err != nil {
		return nil, err
	}

	defer func() {
		if cerr := closeFn(); cerr != nil {
			s.logger.Debug().Err(cerr).Msg("Failed to close SNMP connection")
		}
	}()

	arp, err := r.walkARP(w)
	if err != nil {
		return nil, err
	}

	ifPort := make(map[uint32]uint32)

	if s.config.ARPTarget == s.config.Target {
		portIfIndex, err := s.walkPortIfIndex(w)
		if err != nil {
			return nil, err
		}

		for port, ifIndex := range portIfIndex {
			ifPort[ifIndex] = port
		}
	}

	out := make(map[MAC]Binding, len(entries))

	for _, e := range entries {
		port, ok := ifPort[e.IfIndex]
		if !ok {
			port = e.IfIndex
		}

		out[e.MAC] = Binding{IP: arp[e.MAC], Port: port}
	}

	return out, nil
}

func (r *SNMPResolver) walkARP(w walker) (map[MAC]netip.Addr, error) {
	arp := make(map[MAC]netip.Addr)

	err := r.source.walk(w, oidIPNetToMediaPhysAddress, func(pdu gosnmp.SnmpPDU) error {
		idx, ok := oidIndex(pdu.Name, oidIPNetToMediaPhysAddress, ipNetToMediaIndexLen)
		if !ok {
			return nil
		}

		raw, ok := pdu.Value.([]byte)
		if !ok {
			return nil
		}

		mac, err := macFromBytes(raw)
		if err != nil {
			return nil
		}

		var a4 [4]byte

		for i, v := range idx[1:] {
			if v > 255 {
				return nil
			}

			a4[i] = byte(v)
		}

		// keep the first binding seen for a MAC
		if _, seen := arp[mac]; !seen {
			arp[mac] = netip.AddrFrom4(a4)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk ipNetToMediaPhysAddress: %w", err)
	}

	return arp, nil
}

// NopResolver binds nothing; records keep an unknown IP and use the
// interface index as port.
type NopResolver struct{}

func (NopResolver) Resolve(context.Context, []Entry) (map[MAC]Binding, error) {
	return nil, nil
}

var (
	_ Resolver = (*StaticResolver)(nil)
	_ Resolver = (*SNMPResolver)(nil)
	_ Resolver = NopResolver{}
	_ Source   = (*SNMPSource)(nil)
	_ Source   = (*StaticSource)(nil)
)
