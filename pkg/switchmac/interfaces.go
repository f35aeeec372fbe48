//go:generate mockgen -destination=mock_source.go -package=switchmac github.com/carverauto/terminal-discovery/pkg/switchmac Source,Resolver

package switchmac

import (
	"context"
	"net/netip"
)

// Source is the driver-level view of the forwarding table.
type Source interface {
	// Capacity returns the maximum number of rows the table can hold.
	Capacity(ctx context.Context) (uint32, error)
	// Table returns the live rows.
	Table(ctx context.Context) ([]Entry, error)
}

// Binding is what a Resolver knows about a station.
type Binding struct {
	IP   netip.Addr
	Port uint32
}

// Resolver correlates table rows with IP and port information.
type Resolver interface {
	// Resolve returns a binding for every entry it can place. Entries it
	// cannot place are simply absent from the result.
	Resolve(ctx context.Context, entries []Entry) (map[MAC]Binding, error)
}
