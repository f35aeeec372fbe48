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

// Package poller drives the terminal registry on its scan and keepalive
// cadences.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/carverauto/terminal-discovery/pkg/logger"
	"github.com/carverauto/terminal-discovery/pkg/switchmac"
	"github.com/carverauto/terminal-discovery/pkg/terminal"
)

const (
	modeScan      = "scan"
	modeDiscover  = "discover"
	modeKeepalive = "keepalive"
)

// Intervals configures the scheduler. A zero Scan runs keepalive ticks at
// Keepalive and discovery ticks at terminal.DefaultScanInterval; a zero
// StatsLog disables the periodic statistics line.
type Intervals struct {
	Scan      time.Duration
	Keepalive time.Duration
	StatsLog  time.Duration
}

func (iv Intervals) validate() error {
	if iv.Scan < 0 || iv.Keepalive < 0 || iv.StatsLog < 0 {
		return fmt.Errorf("%w: negative interval", ErrInvalidDuration)
	}

	if iv.Scan == 0 && iv.Keepalive == 0 {
		return fmt.Errorf("%w: scan or keepalive interval required", ErrInvalidDuration)
	}

	return nil
}

// plan is the set of cadences derived from Intervals. A zero keepalive
// means the primary tick also does absence accounting.
type plan struct {
	mode      string
	period    time.Duration
	keepalive time.Duration
}

func (iv Intervals) plan() plan {
	if iv.Scan > 0 {
		return plan{mode: modeScan, period: iv.Scan}
	}

	return plan{mode: modeDiscover, period: terminal.DefaultScanInterval, keepalive: iv.Keepalive}
}

// Scheduler ticks a Registry until stopped. Ticks run one at a time on the
// scheduler goroutine; a tick that overruns its period delays the next.
type Scheduler struct {
	registry Registry
	clock    Clock
	logger   logger.Logger

	mu        sync.Mutex
	intervals Intervals
	reloadCh  chan Intervals

	done      chan struct{}
	closeOnce sync.Once
	startWg   sync.WaitGroup
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

// NewScheduler returns a Scheduler for reg.
func NewScheduler(reg Registry, iv Intervals, log logger.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if reg == nil {
		return nil, errNilRegistry
	}

	if err := iv.validate(); err != nil {
		return nil, err
	}

	s := &Scheduler{
		registry:  reg,
		clock:     realClock{},
		logger:    log,
		intervals: iv,
		reloadCh:  make(chan Intervals, 1),
		done:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Intervals returns the active intervals.
func (s *Scheduler) Intervals() Intervals {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.intervals
}

// UpdateIntervals retimes a running scheduler. Only the latest pending
// update is applied.
func (s *Scheduler) UpdateIntervals(iv Intervals) error {
	if err := iv.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.intervals = iv
	s.mu.Unlock()

	select {
	case <-s.done:
		// shutting down; ignore
	default:
		select {
		case <-s.reloadCh:
		default:
		}

		select {
		case s.reloadCh <- iv:
		default:
		}
	}

	return nil
}

// Start runs an immediate tick and then ticks until ctx is cancelled or
// Stop is called. It implements lifecycle.Service.
func (s *Scheduler) Start(ctx context.Context) error {
	s.startWg.Add(1)
	defer s.startWg.Done()

	iv := s.Intervals()
	p := iv.plan()

	ticker := s.clock.Ticker(p.period)
	keepalive := s.optionalTicker(p.keepalive)
	stats := s.optionalTicker(iv.StatsLog)

	defer func() { stopTickers(ticker, keepalive, stats) }()

	s.logger.Info().Str("mode", p.mode).Dur("interval", p.period).Dur("keepalive_interval", p.keepalive).
		Dur("stats_interval", iv.StatsLog).
		Msg("Starting terminal scheduler")

	s.tick(ctx, p.mode)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-ticker.Chan():
			s.tick(ctx, p.mode)
		case <-tickerChan(keepalive):
			s.tick(ctx, modeKeepalive)
		case <-tickerChan(stats):
			s.logStats()
		case iv = <-s.reloadCh:
			stopTickers(ticker, keepalive, stats)

			p = iv.plan()
			ticker = s.clock.Ticker(p.period)
			keepalive = s.optionalTicker(p.keepalive)
			stats = s.optionalTicker(iv.StatsLog)

			s.logger.Info().Str("mode", p.mode).Dur("interval", p.period).Dur("keepalive_interval", p.keepalive).
				Dur("stats_interval", iv.StatsLog).
				Msg("Scheduler intervals hot-reloaded")
		}
	}
}

// Stop ends Start and waits for the tick in progress. It implements
// lifecycle.Service.
func (s *Scheduler) Stop(_ context.Context) error {
	s.closeOnce.Do(func() {
		close(s.done)
	})

	s.startWg.Wait()

	return nil
}

func (s *Scheduler) tick(ctx context.Context, mode string) {
	var err error

	switch mode {
	case modeScan:
		err = s.registry.Scan(ctx)
	case modeDiscover:
		err = s.registry.Discover(ctx)
	default:
		err = s.registry.Keepalive(ctx)
	}

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
	case errors.Is(err, switchmac.ErrSourceUnavailable):
		s.logger.Warn().Err(err).Str("mode", mode).Msg("Switch MAC table unavailable, tick skipped")
	default:
		s.logger.Error().Err(err).Str("mode", mode).Msg("Tick failed")
	}
}

func (s *Scheduler) logStats() {
	st := s.registry.Stats()

	s.logger.Info().
		Int("current_terminals", st.CurrentTerminals).
		Uint64("discovered", st.TerminalsDiscovered).
		Uint64("removed", st.TerminalsRemoved).
		Uint64("capacity_drops", st.CapacityDrops).
		Uint64("events_dispatched", st.EventsDispatched).
		Uint64("event_dispatch_failures", st.EventDispatchFailures).
		Uint64("scan_failures", st.ScanFailures).
		Uint64("truncations", st.Truncations).
		Uint64("scans", st.Scans).
		Msg("Terminal statistics")
}
