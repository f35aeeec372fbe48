package poller

//go:generate mockgen -destination=mock_poller.go -package=poller github.com/carverauto/terminal-discovery/pkg/poller Clock,Ticker

import (
	"context"
	"time"

	"github.com/carverauto/terminal-discovery/pkg/terminal"
)

// Clock abstracts time-related operations.
type Clock interface {
	Now() time.Time
	Ticker(d time.Duration) Ticker
}

// Ticker abstracts the ticker behavior.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// Registry is the terminal registry the scheduler drives.
type Registry interface {
	Scan(ctx context.Context) error
	Keepalive(ctx context.Context) error
	Discover(ctx context.Context) error
	Stats() terminal.Stats
}
