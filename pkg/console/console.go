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

// Package console implements the line-oriented operator console.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/carverauto/terminal-discovery/pkg/config"
	"github.com/carverauto/terminal-discovery/pkg/logger"
	"github.com/carverauto/terminal-discovery/pkg/poller"
	"github.com/carverauto/terminal-discovery/pkg/terminal"
)

const prompt = "td> "

var (
	errUsage          = errors.New("usage")
	errUnknownSetting = errors.New("unknown setting")
)

// Registry is the part of the terminal registry the console drives.
type Registry interface {
	Stats() terminal.Stats
	Records() []terminal.Record
	SetKeepaliveInterval(d time.Duration) error
	SetMissThreshold(n uint32)
	SetIfaceInvalidHoldoff(d time.Duration) error
	SetMaxTerminals(n int) error
	SetIgnoredVLANs(vlans []uint16) error
	SetInterfaceState(ifIndex uint32, valid bool)
}

// Scheduler receives cadence changes.
type Scheduler interface {
	UpdateIntervals(iv poller.Intervals) error
}

// Console reads commands from in and writes replies to out. It owns cfg
// while running: every change is applied to the registry and mirrored
// into cfg so "show config" reflects the live settings.
type Console struct {
	registry  Registry
	scheduler Scheduler
	cfg       *config.RuntimeConfig
	logger    logger.Logger
	in        io.Reader
	out       io.Writer

	done      chan struct{}
	closeOnce sync.Once
}

// Option customizes a Console.
type Option func(*Console)

// WithScheduler forwards interval changes to s.
func WithScheduler(s Scheduler) Option {
	return func(c *Console) { c.scheduler = s }
}

// New returns a Console. log is the live logger whose level "set
// log-level" changes.
func New(reg Registry, cfg *config.RuntimeConfig, log logger.Logger, in io.Reader, out io.Writer, opts ...Option) *Console {
	c := &Console{
		registry: reg,
		cfg:      cfg,
		logger:   log,
		in:       in,
		out:      out,
		done:     make(chan struct{}),
	}

	for _, o := range opts {
		o(c)
	}

	return c
}

// Start serves commands until "exit", ctx cancellation or Stop. It
// implements lifecycle.Service, so "exit" shuts the daemon down. At end of
// input the console goes idle and Start waits for shutdown.
func (c *Console) Start(ctx context.Context) error {
	lines := make(chan string)

	// the scanner blocks in Read; it is abandoned on shutdown
	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-c.done:
				return
			}
		}
	}()

	c.printf("%s", prompt)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}

			if c.Execute(line) {
				c.logger.Info().Msg("Exit requested from console")
				return nil
			}

			c.printf("%s", prompt)
		}
	}
}

// Stop ends Start.
func (c *Console) Stop(_ context.Context) error {
	c.closeOnce.Do(func() { close(c.done) })

	return nil
}

// Execute runs one command line and reports whether the console should
// close.
func (c *Console) Execute(line string) bool {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return false
	}

	var err error

	switch fields[0] {
	case "exit", "quit":
		return true
	case "help":
		c.help()
	case "stats":
		c.stats()
	case "dump":
		if len(fields) != 2 || fields[1] != "terminal" {
			err = fmt.Errorf("%w: dump terminal", errUsage)
			break
		}

		c.dump()
	case "show":
		if len(fields) != 2 || fields[1] != "config" {
			err = fmt.Errorf("%w: show config", errUsage)
			break
		}

		err = c.showConfig()
	case "set":
		err = c.set(fields[1:])
	case "iface":
		err = c.iface(fields[1:])
	case "vlan":
		err = c.vlan(fields[1:])
	default:
		c.printf("unknown command %q\n", fields[0])
		c.help()
	}

	if err != nil {
		c.printf("error: %v\n", err)
	}

	return false
}

func (c *Console) help() {
	c.printf(`commands:
  stats                              show registry counters
  dump terminal                      list tracked terminals
  show config                        show the running configuration
  set keepalive <seconds>            keepalive interval (0 = default)
  set miss <count>                   keepalive miss threshold (0 = default)
  set holdoff <seconds>              interface-invalid holdoff (0 = default)
  set max <count>                    maximum terminals (>= 1)
  set log-level <level>              trace|debug|info|warn|error|none
  iface <ifindex> up|down            report interface validity (0 = all)
  vlan add|del <id> | vlan clear     edit the ignored VLAN list
  help                               this text
  exit | quit                        leave the console
`)
}

func (c *Console) stats() {
	st := c.registry.Stats()

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "current terminals\t%d\n", st.CurrentTerminals)
	fmt.Fprintf(tw, "terminals discovered\t%d\n", st.TerminalsDiscovered)
	fmt.Fprintf(tw, "terminals removed\t%d\n", st.TerminalsRemoved)
	fmt.Fprintf(tw, "capacity drops\t%d\n", st.CapacityDrops)
	fmt.Fprintf(tw, "events dispatched\t%d\n", st.EventsDispatched)
	fmt.Fprintf(tw, "event dispatch failures\t%d\n", st.EventDispatchFailures)
	fmt.Fprintf(tw, "scan failures\t%d\n", st.ScanFailures)
	fmt.Fprintf(tw, "truncations\t%d\n", st.Truncations)
	fmt.Fprintf(tw, "scans\t%d\n", st.Scans)
	_ = tw.Flush()
}

func (c *Console) dump() {
	records := c.registry.Records()

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MAC\tIP\tPORT\tVLAN\tIFINDEX\tSTATE\tMISSES\tLAST SEEN\tIFACE INVALID")

	for _, r := range records {
		ip := "-"
		if r.IP.IsValid() {
			ip = r.IP.String()
		}

		invalid := "-"
		if r.IfaceInvalidAt != nil {
			invalid = r.IfaceInvalidAt.Format(time.RFC3339)
		}

		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\t%d\t%s\t%s\n",
			r.MAC, ip, r.Port, r.VLAN, r.IfIndex, r.State, r.Misses, r.LastSeen.Format(time.RFC3339), invalid)
	}

	_ = tw.Flush()
	c.printf("%d terminal(s)\n", len(records))
}

func (c *Console) showConfig() error {
	out, err := config.SanitizedJSON(c.cfg)
	if err != nil {
		return err
	}

	c.printf("%s\n", out)

	return nil
}

func (c *Console) set(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: set <keepalive|miss|holdoff|max|log-level> <value>", errUsage)
	}

	before := *c.cfg

	if err := c.apply(args[0], args[1]); err != nil {
		return err
	}

	c.logger.Info().Strs("changed", config.ChangedFields(&before, c.cfg)).Msg("Runtime configuration updated")
	c.printf("ok\n")

	return nil
}

func (c *Console) apply(setting, value string) error {
	if setting == "log-level" {
		level, err := logger.ParseLevel(value)
		if err != nil {
			return err
		}

		if err := c.cfg.SetLogLevel(value); err != nil {
			return err
		}

		c.logger.SetLevel(level)

		return nil
	}

	n, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return fmt.Errorf("%w: %s must be a non-negative integer", errUsage, setting)
	}

	switch setting {
	case "keepalive":
		c.cfg.SetKeepaliveInterval(uint32(n))

		if err := c.registry.SetKeepaliveInterval(time.Duration(c.cfg.KeepaliveIntervalSec) * time.Second); err != nil {
			return err
		}

		return c.retime()
	case "miss":
		c.cfg.SetMissThreshold(uint32(n))
		c.registry.SetMissThreshold(c.cfg.KeepaliveMissThreshold)
	case "holdoff":
		c.cfg.SetIfaceInvalidHoldoff(uint32(n))

		return c.registry.SetIfaceInvalidHoldoff(time.Duration(c.cfg.IfaceInvalidHoldoffSec) * time.Second)
	case "max":
		if err := c.cfg.SetMaxTerminals(uint32(n)); err != nil {
			return err
		}

		return c.registry.SetMaxTerminals(int(n))
	default:
		return fmt.Errorf("%w: %q", errUnknownSetting, setting)
	}

	return nil
}

func (c *Console) retime() error {
	if c.scheduler == nil {
		return nil
	}

	return c.scheduler.UpdateIntervals(c.cfg.Intervals())
}

func (c *Console) iface(args []string) error {
	if len(args) != 2 || (args[1] != "up" && args[1] != "down") {
		return fmt.Errorf("%w: iface <ifindex> up|down", errUsage)
	}

	idx, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("%w: ifindex must be a non-negative integer", errUsage)
	}

	c.registry.SetInterfaceState(uint32(idx), args[1] == "up")
	c.printf("ok\n")

	return nil
}

func (c *Console) vlan(args []string) error {
	if len(args) == 1 && args[0] == "clear" {
		c.cfg.ClearIgnoredVLANs()
		return c.syncVLANs()
	}

	if len(args) != 2 {
		return fmt.Errorf("%w: vlan add|del <id> | vlan clear", errUsage)
	}

	id, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil {
		return fmt.Errorf("%w: VLAN id must be 1..4094", errUsage)
	}

	switch args[0] {
	case "add":
		err = c.cfg.AddIgnoredVLAN(uint16(id))
	case "del":
		err = c.cfg.RemoveIgnoredVLAN(uint16(id))
	default:
		return fmt.Errorf("%w: vlan add|del <id> | vlan clear", errUsage)
	}

	if err != nil {
		return err
	}

	return c.syncVLANs()
}

func (c *Console) syncVLANs() error {
	if err := c.registry.SetIgnoredVLANs(c.cfg.IgnoredVLANs); err != nil {
		return err
	}

	c.printf("ignored VLANs: %v\n", c.cfg.IgnoredVLANs)

	return nil
}

func (c *Console) printf(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(c.out, format, args...); err != nil {
		c.logger.Debug().Err(err).Msg("Console write failed")
	}
}
