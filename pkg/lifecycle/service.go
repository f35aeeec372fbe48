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

// Package lifecycle wires process-level concerns: component loggers and the
// start/stop sequencing of long-running services.
package lifecycle

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carverauto/terminal-discovery/pkg/logger"
)

const defaultShutdownTimeout = 10 * time.Second

// Service is a long-running component. Start blocks until ctx is cancelled
// or the service fails; Stop releases its resources.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ServiceFunc adapts a blocking function into a Service with a no-op Stop.
type ServiceFunc func(ctx context.Context) error

func (f ServiceFunc) Start(ctx context.Context) error { return f(ctx) }
func (ServiceFunc) Stop(context.Context) error        { return nil }

// Options configures Run.
type Options struct {
	ShutdownTimeout time.Duration
	Signals         []os.Signal
}

// Run starts every service and blocks until a termination signal arrives,
// ctx is cancelled, or any service returns. Services are then stopped in
// reverse order within the shutdown timeout.
func Run(ctx context.Context, log logger.Logger, opts Options, services ...Service) error {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}

	if len(opts.Signals) == 0 {
		opts.Signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}

	ctx, stop := signal.NotifyContext(ctx, opts.Signals...)
	defer stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	for _, svc := range services {
		g.Go(func() error {
			defer cancel()

			err := svc.Start(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}

			return err
		})
	}

	<-gctx.Done()

	log.Info().Msg("Shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer stopCancel()

	var errs []error

	for i := len(services) - 1; i >= 0; i-- {
		if err := services[i].Stop(stopCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping service")
			errs = append(errs, err)
		}
	}

	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
