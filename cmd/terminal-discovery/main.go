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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/carverauto/terminal-discovery/pkg/api"
	"github.com/carverauto/terminal-discovery/pkg/config"
	"github.com/carverauto/terminal-discovery/pkg/console"
	"github.com/carverauto/terminal-discovery/pkg/lifecycle"
	"github.com/carverauto/terminal-discovery/pkg/logger"
	"github.com/carverauto/terminal-discovery/pkg/natsutil"
	"github.com/carverauto/terminal-discovery/pkg/poller"
	"github.com/carverauto/terminal-discovery/pkg/switchmac"
	"github.com/carverauto/terminal-discovery/pkg/terminal"
	"github.com/carverauto/terminal-discovery/pkg/version"
)

const (
	serviceName       = "terminal-discovery"
	hubQueueSize      = 64
	telemetryShutdown = 5 * time.Second
)

type flags struct {
	configPath string
	envFile    string
	noConsole  bool
	version    bool

	// overrides holds one setter per explicitly passed config flag
	overrides []func(*config.RuntimeConfig)
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (*flags, error) {
	f := &flags{}

	fs.StringVar(&f.configPath, "config", "", "Path to config file (JSON or YAML)")
	fs.StringVar(&f.envFile, "env-file", "", "Optional .env file loaded before the config")
	fs.BoolVar(&f.noConsole, "no-console", false, "Disable the interactive console on stdin")
	fs.BoolVar(&f.version, "version", false, "Print version and exit")

	f.str(fs, "adapter", "Switch MAC table adapter (default "+config.DefaultAdapterName+")",
		func(c *config.RuntimeConfig, v string) { c.AdapterName = v })
	f.str(fs, "rx-iface", "Receive interface (default "+config.DefaultRxIface+")",
		func(c *config.RuntimeConfig, v string) { c.RxIface = v })
	f.str(fs, "tx-iface", "Transmit interface (default "+config.DefaultTxIface+")",
		func(c *config.RuntimeConfig, v string) { c.TxIface = v })
	f.str(fs, "log-level", "trace|debug|info|warn|error|none (default "+config.DefaultLogLevel+")",
		func(c *config.RuntimeConfig, v string) { c.LogLevel = v })
	f.str(fs, "listen", "HTTP API listen address (empty = disabled)",
		func(c *config.RuntimeConfig, v string) {
			if c.API == nil {
				c.API = &config.APIConfig{}
			}

			c.API.ListenAddr = v
		})

	f.u32(fs, "tx-interval", fmt.Sprintf("Scan interval in milliseconds, 0 = keepalive only (default %d)",
		config.DefaultTxIntervalMs), func(c *config.RuntimeConfig, v uint32) { c.TxIntervalMs = v })
	f.u32(fs, "keepalive-interval", fmt.Sprintf("Keepalive interval in seconds (default %d)",
		config.DefaultKeepaliveIntervalSec), func(c *config.RuntimeConfig, v uint32) { c.KeepaliveIntervalSec = v })
	f.u32(fs, "keepalive-miss", fmt.Sprintf("Missed keepalives before a terminal is removed (default %d)",
		config.DefaultKeepaliveMissThreshold), func(c *config.RuntimeConfig, v uint32) { c.KeepaliveMissThreshold = v })
	f.u32(fs, "iface-holdoff", fmt.Sprintf("Interface-invalid holdoff in seconds (default %d)",
		config.DefaultIfaceInvalidHoldoffSec), func(c *config.RuntimeConfig, v uint32) { c.IfaceInvalidHoldoffSec = v })
	f.u32(fs, "max-terminals", fmt.Sprintf("Maximum tracked terminals (default %d)",
		config.DefaultMaxTerminals), func(c *config.RuntimeConfig, v uint32) { c.MaxTerminals = v })
	f.u32(fs, "stats-interval", "Statistics log interval in seconds (default 0 = off)",
		func(c *config.RuntimeConfig, v uint32) { c.StatsLogIntervalSec = v })

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return f, nil
}

func (f *flags) str(fs *flag.FlagSet, name, usage string, set func(*config.RuntimeConfig, string)) {
	fs.Func(name, usage, func(v string) error {
		f.overrides = append(f.overrides, func(c *config.RuntimeConfig) { set(c, v) })
		return nil
	})
}

// u32 registers a flag that rejects values outside the 32-bit range
// instead of truncating them.
func (f *flags) u32(fs *flag.FlagSet, name, usage string, set func(*config.RuntimeConfig, uint32)) {
	fs.Func(name, usage, func(v string) error {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return err
		}

		f.overrides = append(f.overrides, func(c *config.RuntimeConfig) { set(c, uint32(n)) })

		return nil
	})
}

// applyFlags copies explicitly set flags over the loaded configuration.
func applyFlags(f *flags, cfg *config.RuntimeConfig) {
	for _, set := range f.overrides {
		set(cfg)
	}
}

func loadConfig(ctx context.Context, f *flags) (*config.RuntimeConfig, error) {
	if f.envFile != "" {
		if err := config.LoadEnvFile(f.envFile); err != nil {
			return nil, err
		}
	}

	cfg := config.Default()

	if err := config.NewConfig(nil).LoadAndValidate(ctx, f.configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	applyFlags(f, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func run() error {
	f, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		return err
	}

	if f.version {
		fmt.Println(version.GetFullVersion())
		return nil
	}

	ctx := context.Background()

	cfg, err := loadConfig(ctx, f)
	if err != nil {
		return err
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = logger.DefaultConfig()
	}

	logConfig.Level = cfg.LogLevel

	tdLogger, err := lifecycle.CreateComponentLogger(ctx, serviceName, logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defer func() {
		if err := lifecycle.ShutdownLogger(); err != nil {
			log.Printf("Failed to shutdown logger: %v", err)
		}
	}()

	shutdownTelemetry := initTelemetry(ctx, logConfig, tdLogger)
	defer shutdownTelemetry()

	mgr, err := newManager(cfg, tdLogger)
	if err != nil {
		return err
	}

	sched, err := poller.NewScheduler(mgr, cfg.Intervals(), tdLogger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	services := []lifecycle.Service{sched}
	sinks := []terminal.ReportFunc{logSink(tdLogger)}

	if cfg.NATS != nil && cfg.NATS.URL != "" {
		nc, sink, err := newNATSSink(ctx, cfg, tdLogger)
		if err != nil {
			return err
		}

		defer nc.Close()

		sinks = append(sinks, sink)
	}

	if cfg.API != nil && cfg.API.ListenAddr != "" {
		srv := api.NewServer(cfg.API.ListenAddr, mgr, tdLogger,
			api.WithAPIKey(cfg.API.APIKey),
			api.WithHub(api.NewHub(tdLogger, hubQueueSize)))

		sinks = append(sinks, srv.Hub().Broadcast)
		services = append(services, srv)
	}

	mgr.SetIncrementReport(terminal.Chain(sinks...))

	if !f.noConsole {
		services = append(services, console.New(mgr, cfg, tdLogger, os.Stdin, os.Stdout, console.WithScheduler(sched)))
	}

	tdLogger.Info().
		Str("version", version.GetFullVersion()).
		Str("adapter", cfg.AdapterName).
		Str("rx_iface", cfg.RxIface).
		Str("tx_iface", cfg.TxIface).
		Msg("Starting terminal discovery")

	return lifecycle.Run(ctx, tdLogger, lifecycle.Options{}, services...)
}

func newManager(cfg *config.RuntimeConfig, tdLog logger.Logger) (*terminal.Manager, error) {
	bindings, err := cfg.Bindings()
	if err != nil {
		return nil, err
	}

	adapter, err := switchmac.Open(cfg.AdapterName, switchmac.AdapterOptions{
		SNMP:     cfg.SNMP,
		Bindings: bindings,
		Logger:   tdLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open adapter %q: %w", cfg.AdapterName, err)
	}

	mcfg, err := config.ToManagerConfig(cfg)
	if err != nil {
		return nil, err
	}

	bridge := switchmac.NewBridge(adapter.Source, switchmac.DefaultTimeout, tdLog)

	mgr, err := terminal.New(mcfg, bridge, tdLog, terminal.WithResolver(adapter.Resolver))
	if err != nil {
		return nil, fmt.Errorf("failed to create terminal manager: %w", err)
	}

	return mgr, nil
}

func newNATSSink(ctx context.Context, cfg *config.RuntimeConfig, tdLog logger.Logger) (*nats.Conn, terminal.ReportFunc, error) {
	nc, err := natsutil.ConnectWithSecurity(ctx, cfg.NATS.URL, cfg.Security, tdLog)
	if err != nil {
		return nil, nil, err
	}

	pub, err := natsutil.CreateEventPublisherWithDomain(ctx, nc, cfg.NATS.Domain, cfg.NATS.Stream, cfg.NATS.Subject, tdLog)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}

	return nc, pub.Sink(time.Duration(cfg.NATS.PublishTimeout)), nil
}

func logSink(tdLog logger.Logger) terminal.ReportFunc {
	return func(events []terminal.ChangeEvent) {
		for _, e := range events {
			tdLog.Info().
				Str("tag", e.Tag.String()).
				Str("mac", e.MAC.String()).
				Stringer("ip", e.IP).
				Uint16("vlan", e.VLAN).
				Uint32("ifindex", e.IfIndex).
				Msg("Terminal change")
		}
	}
}

// initTelemetry installs the trace and metric providers and returns their
// shutdown.
func initTelemetry(ctx context.Context, logConfig *logger.Config, tdLog logger.Logger) func() {
	var shutdowns []func(context.Context) error

	tp, err := logger.InitializeTracing(ctx, logger.TracingConfig{
		ServiceName:    serviceName,
		ServiceVersion: version.GetVersion(),
		Logger:         tdLog,
		OTel:           &logConfig.OTel,
	})
	if err != nil {
		tdLog.Warn().Err(err).Msg("Tracing disabled")
	} else {
		shutdowns = append(shutdowns, tp.Shutdown)
	}

	mp, err := logger.InitializeMetrics(ctx, logger.MetricsConfig{
		ServiceName:    serviceName,
		ServiceVersion: version.GetVersion(),
		OTel:           &logConfig.OTel,
	})

	switch {
	case errors.Is(err, logger.ErrOTelMetricsDisabled):
		tdLog.Debug().Msg("OTel metrics export disabled")
	case err != nil:
		tdLog.Warn().Err(err).Msg("Metrics disabled")
	default:
		shutdowns = append(shutdowns, mp.Shutdown)
	}

	return func() {
		sctx, cancel := context.WithTimeout(context.Background(), telemetryShutdown)
		defer cancel()

		for _, fn := range shutdowns {
			if err := fn(sctx); err != nil {
				tdLog.Warn().Err(err).Msg("Telemetry shutdown failed")
			}
		}
	}
}
