package terminal

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName              = "github.com/carverauto/terminal-discovery/pkg/terminal"
	metricDiscovered       = "terminal_discovered_total"
	metricRemoved          = "terminal_removed_total"
	metricCapacityDrops    = "terminal_capacity_drops_total"
	metricEventsDispatched = "terminal_events_dispatched_total"
	metricDispatchFailures = "terminal_event_dispatch_failures_total"
	metricTickFailures     = "terminal_tick_failures_total"
	metricCurrent          = "terminal_current"
	metricTickDuration     = "terminal_tick_duration_seconds"
	attrTickKind           = "kind"
	tickKindScan           = "scan"
	tickKindKeepalive      = "keepalive"
	tickKindDiscover       = "discover"
)

var (
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	meterOnce sync.Once
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	instruments struct {
		discovered       metric.Int64Counter
		removed          metric.Int64Counter
		capacityDrops    metric.Int64Counter
		dispatched       metric.Int64Counter
		dispatchFailures metric.Int64Counter
		tickFailures     metric.Int64Counter
		current          metric.Int64UpDownCounter
		tickDuration     metric.Float64Histogram
	}
)

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		otel.Handle(err)
	}

	return c
}

func initMeter() {
	meter := otel.Meter(meterName)

	instruments.discovered = counter(meter, metricDiscovered, "Terminals admitted to the registry")
	instruments.removed = counter(meter, metricRemoved, "Terminals removed after exceeding the miss threshold")
	instruments.capacityDrops = counter(meter, metricCapacityDrops, "New MACs refused because the registry was full")
	instruments.dispatched = counter(meter, metricEventsDispatched, "Change events delivered to the report callback")
	instruments.dispatchFailures = counter(meter, metricDispatchFailures, "Change events with no callback or a failing callback")
	instruments.tickFailures = counter(meter, metricTickFailures, "Ticks skipped because the MAC table was unavailable")

	current, err := meter.Int64UpDownCounter(metricCurrent,
		metric.WithDescription("Terminals currently in the registry"))
	if err != nil {
		otel.Handle(err)
	}

	instruments.current = current

	hist, err := meter.Float64Histogram(metricTickDuration,
		metric.WithDescription("Duration of registry ticks including table reads"),
		metric.WithUnit("s"))
	if err != nil {
		otel.Handle(err)
	}

	instruments.tickDuration = hist
}

func addCount(ctx context.Context, c metric.Int64Counter, n int) {
	if c == nil || n == 0 {
		return
	}

	c.Add(ctx, int64(n))
}

// tickOutcome feeds one tick's deltas into the instruments.
type tickOutcome struct {
	kind          string
	added         int
	removed       int
	capacityDrops int
	failed        bool
	elapsed       time.Duration
}

func recordTick(ctx context.Context, o tickOutcome) {
	meterOnce.Do(initMeter)

	addCount(ctx, instruments.discovered, o.added)
	addCount(ctx, instruments.removed, o.removed)
	addCount(ctx, instruments.capacityDrops, o.capacityDrops)

	if o.failed {
		addCount(ctx, instruments.tickFailures, 1)
	}

	if instruments.current != nil && o.added != o.removed {
		instruments.current.Add(ctx, int64(o.added-o.removed))
	}

	if instruments.tickDuration != nil {
		instruments.tickDuration.Record(ctx, o.elapsed.Seconds(),
			metric.WithAttributes(attribute.String(attrTickKind, o.kind), attribute.Bool("failed", o.failed)))
	}
}

func recordDispatch(ctx context.Context, delivered, failed int) {
	meterOnce.Do(initMeter)

	addCount(ctx, instruments.dispatched, delivered)
	addCount(ctx, instruments.dispatchFailures, failed)
}
