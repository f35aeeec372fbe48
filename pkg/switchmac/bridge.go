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
	"sync/atomic"
	"time"

	"github.com/carverauto/terminal-discovery/pkg/logger"
)

// DefaultTimeout bounds a single source query.
const DefaultTimeout = 5 * time.Second

// Bridge wraps a Source with the two-call capacity/snapshot contract. Every
// source call runs under a timeout; a source that ignores its context is
// abandoned and the call reports ErrSourceUnavailable.
type Bridge struct {
	source      Source
	timeout     time.Duration
	logger      logger.Logger
	truncations atomic.Uint64
}

// NewBridge returns a Bridge over source. A non-positive timeout selects
// DefaultTimeout.
func NewBridge(source Source, timeout time.Duration, log logger.Logger) *Bridge {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Bridge{
		source:  source,
		timeout: timeout,
		logger:  log,
	}
}

// GetCapacity returns the maximum number of entries the table can report.
func (b *Bridge) GetCapacity(ctx context.Context) (uint32, error) {
	if b == nil || b.source == nil {
		return 0, ErrInvalidArgument
	}

	return guard(ctx, b.timeout, b.source.Capacity)
}

// Snapshot copies up to len(buf) live entries into buf and returns how many
// were written. A nil buf is an ErrInvalidArgument. When the table holds more
// rows than buf, the excess is dropped without error; size buf from
// GetCapacity to avoid that.
func (b *Bridge) Snapshot(ctx context.Context, buf []Entry) (int, error) {
	if b == nil || b.source == nil || buf == nil {
		return 0, ErrInvalidArgument
	}

	// the source writes into its own slice so an abandoned call can never
	// touch buf after we return
	rows, err := guard(ctx, b.timeout, b.source.Table)
	if err != nil {
		return 0, err
	}

	n := copy(buf, rows)
	if n < len(rows) {
		b.truncations.Add(1)
		b.logger.Debug().
			Int("rows", len(rows)).
			Int("buffer", len(buf)).
			Msg("Switch MAC snapshot truncated")
	}

	return n, nil
}

// Truncations counts snapshots that dropped rows for lack of buffer space.
func (b *Bridge) Truncations() uint64 {
	return b.truncations.Load()
}

// guard runs fn under timeout. Cancellation of the caller's context is
// returned as is; only the source's own failures and the timeout count as
// ErrSourceUnavailable.
func guard[T any](parent context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}

	ch := make(chan result, 1)

	go func() {
		v, err := fn(ctx)
		ch <- result{val: v, err: err}
	}()

	var zero T

	select {
	case r := <-ch:
		if r.err == nil {
			return r.val, nil
		}

		if err := parent.Err(); err != nil {
			return zero, err
		}

		if errors.Is(r.err, ErrInvalidArgument) || errors.Is(r.err, ErrSourceUnavailable) {
			return zero, r.err
		}

		return zero, fmt.Errorf("%w: %w", ErrSourceUnavailable, r.err)
	case <-ctx.Done():
		if err := parent.Err(); err != nil {
			return zero, err
		}

		return zero, fmt.Errorf("%w: %w", ErrSourceUnavailable, ctx.Err())
	}
}
