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

package terminal

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/carverauto/terminal-discovery/pkg/logger"
	"github.com/carverauto/terminal-discovery/pkg/switchmac"
)

const (
	tracerName            = "github.com/carverauto/terminal-discovery/pkg/terminal"
	defaultResolveTimeout = 5 * time.Second
	// AllInterfaces addresses the receive/transmit interface that owns
	// every record, as opposed to one switch port.
	AllInterfaces uint32 = 0
)

// TableReader is the switch MAC bridge contract the registry polls.
type TableReader interface {
	GetCapacity(ctx context.Context) (uint32, error)
	Snapshot(ctx context.Context, buf []switchmac.Entry) (int, error)
}

type record struct {
	info           TerminalInfo
	state          State
	misses         uint32
	lastSeen       time.Time
	ifaceInvalidAt *time.Time
}

func (r *record) dump() Record {
	out := Record{
		TerminalInfo: r.info,
		State:        r.state,
		Misses:       r.misses,
		LastSeen:     r.lastSeen,
	}

	if r.ifaceInvalidAt != nil {
		t := *r.ifaceInvalidAt
		out.IfaceInvalidAt = &t
	}

	return out
}

type ifaceState struct {
	valid      bool
	validSince time.Time
}

// holds reports whether misses on this interface are still suspended.
func (s *ifaceState) holds(now time.Time, holdoff time.Duration) bool {
	return !s.valid || now.Sub(s.validSince) < holdoff
}

// Manager is the terminal registry. Ticks are serialized with each other
// and with configuration changes; queries run concurrently with ticks and
// always observe the state between two ticks.
type Manager struct {
	table          TableReader
	resolver       switchmac.Resolver
	logger         logger.Logger
	tracer         trace.Tracer
	now            func() time.Time
	resolveTimeout time.Duration

	// tickMu is held for a whole tick, table I/O and dispatch included, so
	// batches reach the callback in tick order.
	tickMu sync.Mutex
	buf    []switchmac.Entry

	mu      sync.RWMutex
	cfg     Config
	records map[switchmac.MAC]*record
	ifaces  map[uint32]*ifaceState
	ignored map[uint16]struct{}
	report  ReportFunc
	stats   Stats
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithResolver sets the IP/port collaborator. Without one, records carry
// no IP and use the interface index as port.
func WithResolver(r switchmac.Resolver) Option {
	return func(m *Manager) { m.resolver = r }
}

// WithResolveTimeout bounds each resolver call.
func WithResolveTimeout(d time.Duration) Option {
	return func(m *Manager) { m.resolveTimeout = d }
}

// New validates cfg and returns an empty registry reading from table.
func New(cfg Config, table TableReader, log logger.Logger, opts ...Option) (*Manager, error) {
	if table == nil || log == nil {
		return nil, ErrInvalidArgument
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		table:          table,
		resolver:       switchmac.NopResolver{},
		logger:         log,
		tracer:         otel.Tracer(tracerName),
		now:            time.Now,
		resolveTimeout: defaultResolveTimeout,
		cfg:            cfg,
		records:        make(map[switchmac.MAC]*record),
		ifaces:         make(map[uint32]*ifaceState),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.cfg.IgnoredVLANs = slices.Clone(cfg.IgnoredVLANs)
	m.ignored = vlanSet(cfg.IgnoredVLANs)

	return m, nil
}

func vlanSet(vlans []uint16) map[uint16]struct{} {
	set := make(map[uint16]struct{}, len(vlans))
	for _, v := range vlans {
		set[v] = struct{}{}
	}

	return set
}

// Scan runs a full tick: admission, updates and absence accounting.
func (m *Manager) Scan(ctx context.Context) error {
	return m.tick(ctx, tickKindScan)
}

// Keepalive runs only the presence and absence half of a tick. Known
// records present in the table are refreshed, absent ones accrue misses;
// new MACs are not admitted and no MOD is produced.
func (m *Manager) Keepalive(ctx context.Context) error {
	return m.tick(ctx, tickKindKeepalive)
}

// Discover admits new MACs and refreshes known ones without counting
// misses. It paces discovery when only a keepalive cadence is configured,
// so absence is still accounted once per keepalive period.
func (m *Manager) Discover(ctx context.Context) error {
	return m.tick(ctx, tickKindDiscover)
}

// pass selects the halves of the state machine a tick kind runs.
type pass struct {
	admit bool
	age   bool
}

func passFor(kind string) pass {
	switch kind {
	case tickKindKeepalive:
		return pass{age: true}
	case tickKindDiscover:
		return pass{admit: true}
	default:
		return pass{admit: true, age: true}
	}
}

func (m *Manager) tick(ctx context.Context, kind string) error {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	ctx, span := m.tracer.Start(ctx, "terminal."+kind)
	defer span.End()

	start := m.now()
	p := passFor(kind)

	entries, err := m.snapshot(ctx)
	if err != nil {
		// shutdown is not a table failure
		if ctx.Err() != nil {
			return err
		}

		m.mu.Lock()
		m.stats.ScanFailures++
		m.mu.Unlock()

		span.RecordError(err)
		span.SetStatus(codes.Error, "switch MAC table unavailable")
		recordTick(ctx, tickOutcome{kind: kind, failed: true, elapsed: m.now().Sub(start)})

		return err
	}

	var bindings map[switchmac.MAC]switchmac.Binding
	if p.admit {
		bindings = m.resolve(ctx, entries)
	}

	m.mu.Lock()
	d := m.apply(entries, bindings, p, m.now())
	report := m.report
	m.mu.Unlock()

	span.SetAttributes(
		attribute.Int("entries", len(entries)),
		attribute.Int("events", len(d.events)),
		attribute.Int("capacity_drops", d.capacityDrops),
	)

	recordTick(ctx, tickOutcome{
		kind:          kind,
		added:         d.added,
		removed:       d.removed,
		capacityDrops: d.capacityDrops,
		elapsed:       m.now().Sub(start),
	})

	if len(d.events) > 0 {
		m.logger.Info().
			Str("kind", kind).
			Int("added", d.added).
			Int("modified", d.modified).
			Int("removed", d.removed).
			Msg("Terminal changes")
	}

	m.dispatch(ctx, report, d.events)

	return nil
}

// snapshot reads the table into the reusable buffer and keeps only rows
// describing stations on VLANs that are not ignored, one row per MAC.
func (m *Manager) snapshot(ctx context.Context) ([]switchmac.Entry, error) {
	capacity, err := m.table.GetCapacity(ctx)
	if err != nil {
		return nil, err
	}

	if m.buf == nil || len(m.buf) < int(capacity) {
		m.buf = make([]switchmac.Entry, capacity)
	}

	n, err := m.table.Snapshot(ctx, m.buf)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	ignored := m.ignored
	m.mu.RUnlock()

	byMAC := make(map[switchmac.MAC]int, n)
	out := make([]switchmac.Entry, 0, n)

	for _, e := range m.buf[:n] {
		if !e.Terminal() {
			continue
		}

		if _, skip := ignored[e.VLAN]; skip {
			continue
		}

		// a MAC learned on several VLANs is tracked on the lowest one
		if i, dup := byMAC[e.MAC]; dup {
			if e.VLAN < out[i].VLAN {
				out[i] = e
			}

			continue
		}

		byMAC[e.MAC] = len(out)
		out = append(out, e)
	}

	return out, nil
}

func (m *Manager) resolve(ctx context.Context, entries []switchmac.Entry) map[switchmac.MAC]switchmac.Binding {
	if len(entries) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.resolveTimeout)
	defer cancel()

	bindings, err := m.resolver.Resolve(ctx, entries)
	if err != nil {
		// stored bindings are kept; only admission falls back to defaults
		m.logger.Warn().Err(err).Msg("Failed to resolve terminal addresses")
		return nil
	}

	return bindings
}

type delta struct {
	events        []ChangeEvent
	added         int
	modified      int
	removed       int
	capacityDrops int
}

// apply runs the correlation and keepalive state machine. Caller holds mu.
func (m *Manager) apply(entries []switchmac.Entry, bindings map[switchmac.MAC]switchmac.Binding,
	p pass, now time.Time) delta {
	var (
		d       delta
		upserts []ChangeEvent
		dels    []ChangeEvent
	)

	seen := make(map[switchmac.MAC]struct{}, len(entries))

	for _, e := range entries {
		seen[e.MAC] = struct{}{}
		b, bound := bindings[e.MAC]

		rec, known := m.records[e.MAC]
		if !known {
			if !p.admit {
				continue
			}

			if len(m.records) >= m.cfg.MaxTerminals {
				d.capacityDrops++

				m.logger.Debug().Str("mac", e.MAC.String()).Int("max_terminals", m.cfg.MaxTerminals).
					Msg("Registry full, terminal not admitted")

				continue
			}

			rec = &record{
				info:     TerminalInfo{MAC: e.MAC, Port: e.IfIndex, VLAN: e.VLAN, IfIndex: e.IfIndex},
				state:    StateActive,
				lastSeen: now,
			}

			if bound {
				rec.info.IP = b.IP
				rec.info.Port = b.Port
			}

			m.records[e.MAC] = rec
			d.added++

			upserts = append(upserts, ChangeEvent{Tag: TagAdd, TerminalInfo: rec.info})

			continue
		}

		if p.admit && rec.update(e, b, bound) {
			d.modified++

			upserts = append(upserts, ChangeEvent{Tag: TagMod, TerminalInfo: rec.info})
		}

		rec.misses = 0
		rec.lastSeen = now
		rec.state = next(rec.state, signalSeen)

		if rec.ifaceInvalidAt != nil && !m.held(rec.info.IfIndex, now) {
			rec.ifaceInvalidAt = nil
		}
	}

	for mac, rec := range m.records {
		if !p.age {
			break
		}

		if _, ok := seen[mac]; ok {
			continue
		}

		if m.suspended(rec, now) {
			continue
		}

		rec.misses++

		sig := signalMissed
		if rec.misses >= m.cfg.MissThreshold {
			sig = signalExpired
		}

		rec.state = next(rec.state, sig)

		if rec.state == StateStale {
			delete(m.records, mac)
			d.removed++

			dels = append(dels, ChangeEvent{Tag: TagDel, TerminalInfo: rec.info})
		}
	}

	byMAC := func(a, b ChangeEvent) int { return a.MAC.Compare(b.MAC) }
	slices.SortFunc(upserts, byMAC)
	slices.SortFunc(dels, byMAC)

	d.events = append(upserts, dels...)

	m.stats.Scans++
	m.stats.TerminalsDiscovered += uint64(d.added)
	m.stats.TerminalsRemoved += uint64(d.removed)
	m.stats.CapacityDrops += uint64(d.capacityDrops)
	m.stats.CurrentTerminals = len(m.records)

	return d
}

// update folds a table row and its binding into the record and reports
// whether anything visible changed. A missing binding, or one without an
// IP, keeps the stored values.
func (r *record) update(e switchmac.Entry, b switchmac.Binding, bound bool) bool {
	upd := r.info
	upd.VLAN = e.VLAN
	upd.IfIndex = e.IfIndex

	if bound {
		upd.Port = b.Port

		if b.IP.IsValid() {
			upd.IP = b.IP
		}
	}

	if upd == r.info {
		return false
	}

	r.info = upd

	return true
}

// held reports whether misses on ifIndex, or on every interface, are
// suspended at now. Caller holds mu.
func (m *Manager) held(ifIndex uint32, now time.Time) bool {
	for _, key := range [...]uint32{AllInterfaces, ifIndex} {
		if st, ok := m.ifaces[key]; ok && st.holds(now, m.cfg.IfaceInvalidHoldoff) {
			return true
		}
	}

	return false
}

// suspended reports whether the record's interface is invalid or inside
// its holdoff window, stamping or clearing the record's invalid time.
func (m *Manager) suspended(rec *record, now time.Time) bool {
	if !m.held(rec.info.IfIndex, now) {
		rec.ifaceInvalidAt = nil
		return false
	}

	if rec.ifaceInvalidAt == nil {
		t := now
		rec.ifaceInvalidAt = &t
	}

	return true
}

func (m *Manager) dispatch(ctx context.Context, report ReportFunc, events []ChangeEvent) {
	if len(events) == 0 {
		return
	}

	delivered, failed := 0, 0

	if report == nil {
		failed = len(events)
	} else if err := safeReport(report, events); err != nil {
		failed = len(events)

		m.logger.Error().Err(err).Int("events", len(events)).Msg("Report callback failed")
	} else {
		delivered = len(events)
	}

	m.mu.Lock()
	m.stats.EventsDispatched += uint64(delivered)
	m.stats.EventDispatchFailures += uint64(failed)
	m.mu.Unlock()

	recordDispatch(ctx, delivered, failed)
}

func safeReport(report ReportFunc, events []ChangeEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("report callback panic: %v", r)
		}
	}()

	report(events)

	return nil
}

// SetIncrementReport installs fn as the only change subscriber, replacing
// any previous one. A nil fn disables reporting.
func (m *Manager) SetIncrementReport(fn ReportFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.report = fn
}

// GetAllTerminalInfo returns every live terminal ordered by MAC.
func (m *Manager) GetAllTerminalInfo() ([]TerminalInfo, error) {
	if m == nil {
		return nil, ErrInvalidArgument
	}

	m.mu.RLock()
	out := make([]TerminalInfo, 0, len(m.records))

	for _, rec := range m.records {
		out = append(out, rec.info)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b TerminalInfo) int { return a.MAC.Compare(b.MAC) })

	return out, nil
}

// Records dumps the registry with liveness detail, ordered by MAC.
func (m *Manager) Records() []Record {
	m.mu.RLock()
	out := make([]Record, 0, len(m.records))

	for _, rec := range m.records {
		out = append(out, rec.dump())
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b Record) int { return a.MAC.Compare(b.MAC) })

	return out
}

// Lookup returns one terminal's record.
func (m *Manager) Lookup(mac switchmac.MAC) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[mac]
	if !ok {
		return Record{}, false
	}

	return rec.dump(), true
}

// Stats returns a copy of the counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	s := m.stats
	m.mu.RUnlock()

	if t, ok := m.table.(interface{ Truncations() uint64 }); ok {
		s.Truncations = t.Truncations()
	}

	return s
}

// Config returns a copy of the active configuration.
func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c := m.cfg
	c.IgnoredVLANs = slices.Clone(m.cfg.IgnoredVLANs)

	return c
}

// SetInterfaceState records an interface validity change. While an
// interface is invalid, and for the holdoff after it turns valid again,
// records on it do not accrue misses. AllInterfaces applies to every record.
func (m *Manager) SetInterfaceState(ifIndex uint32, valid bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	st, known := m.ifaces[ifIndex]

	switch {
	case !valid:
		if !known {
			st = &ifaceState{}
			m.ifaces[ifIndex] = st
		}

		st.valid = false

		for _, rec := range m.records {
			if (ifIndex == AllInterfaces || rec.info.IfIndex == ifIndex) && rec.ifaceInvalidAt == nil {
				t := now
				rec.ifaceInvalidAt = &t
			}
		}

		m.logger.Warn().Uint32("ifindex", ifIndex).Msg("Interface reported invalid, suspending miss counting")
	case known && !st.valid:
		st.valid = true
		st.validSince = now

		m.logger.Info().Uint32("ifindex", ifIndex).Dur("holdoff", m.cfg.IfaceInvalidHoldoff).
			Msg("Interface valid again, holdoff started")
	}
}

// SetKeepaliveInterval changes the keepalive cadence; 0 restores the default.
func (m *Manager) SetKeepaliveInterval(d time.Duration) error {
	if d < 0 {
		return ErrInvalidArgument
	}

	if d == 0 {
		d = DefaultKeepaliveInterval
	}

	m.mu.Lock()
	m.cfg.KeepaliveInterval = d
	m.mu.Unlock()

	return nil
}

// SetScanInterval changes the scan cadence; 0 selects keepalive-only mode.
func (m *Manager) SetScanInterval(d time.Duration) error {
	if d < 0 {
		return ErrInvalidArgument
	}

	m.mu.Lock()
	m.cfg.ScanInterval = d
	m.mu.Unlock()

	return nil
}

// SetMissThreshold changes the miss threshold; 0 restores the default.
// Records already past the new threshold are removed on their next miss.
func (m *Manager) SetMissThreshold(n uint32) {
	if n == 0 {
		n = DefaultMissThreshold
	}

	m.mu.Lock()
	m.cfg.MissThreshold = n
	m.mu.Unlock()
}

// SetIfaceInvalidHoldoff changes the holdoff; 0 restores the default.
func (m *Manager) SetIfaceInvalidHoldoff(d time.Duration) error {
	if d < 0 {
		return ErrInvalidArgument
	}

	if d == 0 {
		d = DefaultIfaceInvalidHoldoff
	}

	m.mu.Lock()
	m.cfg.IfaceInvalidHoldoff = d
	m.mu.Unlock()

	return nil
}

// SetMaxTerminals changes the capacity bound. Lowering it below the current
// size evicts nothing; admission resumes once the registry drains.
func (m *Manager) SetMaxTerminals(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: max terminals must be at least 1", ErrInvalidArgument)
	}

	m.mu.Lock()
	m.cfg.MaxTerminals = n
	m.mu.Unlock()

	return nil
}

// SetIgnoredVLANs replaces the ignored-VLAN list. Records already on those
// VLANs age out through the miss threshold.
func (m *Manager) SetIgnoredVLANs(vlans []uint16) error {
	if err := ValidateVLANs(vlans); err != nil {
		return err
	}

	m.mu.Lock()
	m.cfg.IgnoredVLANs = slices.Clone(vlans)
	m.ignored = vlanSet(vlans)
	m.mu.Unlock()

	return nil
}
