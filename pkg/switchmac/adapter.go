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
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"sync"

	"github.com/carverauto/terminal-discovery/pkg/logger"
)

// Adapter pairs a table source with the resolver that fits it.
type Adapter struct {
	Source   Source
	Resolver Resolver
}

// AdapterOptions carries the settings any factory may need.
type AdapterOptions struct {
	SNMP     *SNMPConfig
	Bindings map[MAC]netip.Addr
	Logger   logger.Logger
}

// Factory builds an Adapter.
type Factory func(opts AdapterOptions) (Adapter, error)

//nolint:gochecknoglobals // adapter registry, populated at init
var (
	adaptersMu sync.RWMutex
	adapters   = map[string]Factory{
		"stub":    openStub,
		"snmp":    openSNMP,
		"realtek": openSNMP,
	}
)

// Register adds a named adapter.
func Register(name string, f Factory) error {
	adaptersMu.Lock()
	defer adaptersMu.Unlock()

	key := strings.ToLower(name)
	if _, ok := adapters[key]; ok {
		return fmt.Errorf("%w: %s", ErrAdapterExists, name)
	}

	adapters[key] = f

	return nil
}

// Open builds the adapter registered under name.
func Open(name string, opts AdapterOptions) (Adapter, error) {
	adaptersMu.RLock()
	f, ok := adapters[strings.ToLower(name)]
	adaptersMu.RUnlock()

	if !ok {
		return Adapter{}, fmt.Errorf("%w: %q", ErrUnknownAdapter, name)
	}

	if opts.Logger == nil {
		opts.Logger = logger.NewTestLogger()
	}

	return f(opts)
}

// Adapters lists registered names in order.
func Adapters() []string {
	adaptersMu.RLock()
	defer adaptersMu.RUnlock()

	names := make([]string, 0, len(adapters))
	for name := range adapters {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func openStub(opts AdapterOptions) (Adapter, error) {
	return Adapter{
		Source:   NewStubSource(),
		Resolver: NewStaticResolver(opts.Bindings),
	}, nil
}

func openSNMP(opts AdapterOptions) (Adapter, error) {
	if opts.SNMP == nil {
		return Adapter{}, fmt.Errorf("snmp adapter: %w", errSNMPTargetRequired)
	}

	src, err := NewSNMPSource(*opts.SNMP, opts.Logger)
	if err != nil {
		return Adapter{}, err
	}

	return Adapter{Source: src, Resolver: NewSNMPResolver(src)}, nil
}
