package switchmac

import (
	"context"
	"os"
	"strconv"
	"sync"
)

const (
	stubCapacity    = 1024
	stubCountEnvVar = "TD_SWITCH_MAC_STUB_COUNT"
)

//nolint:gochecknoglobals // immutable sample table
var stubRows = []Entry{
	{MAC: MAC{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}, VLAN: 1, IfIndex: 7, Attr: AttrDynamic},
	{MAC: MAC{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb}, VLAN: 10, IfIndex: 12, Attr: AttrStatic},
	{MAC: MAC{0xcc, 0xdd, 0xee, 0xff, 0x00, 0x11}, VLAN: 4094, IfIndex: 18, Attr: AttrDelete},
}

// StaticSource serves a table held in memory. It backs the "stub" adapter
// and lets tests and demos script table contents tick by tick.
type StaticSource struct {
	mu       sync.RWMutex
	capacity uint32
	rows     []Entry
	err      error
}

// NewStaticSource returns a source reporting capacity and the given rows.
func NewStaticSource(capacity uint32, rows ...Entry) *StaticSource {
	s := &StaticSource{capacity: capacity}
	s.Set(rows...)

	return s
}

// NewStubSource returns the sample table used when no hardware is present.
// TD_SWITCH_MAC_STUB_COUNT limits how many sample rows are served.
func NewStubSource() *StaticSource {
	count := len(stubRows)

	if v := os.Getenv(stubCountEnvVar); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n < count {
			count = n
		}
	}

	return NewStaticSource(stubCapacity, stubRows[:count]...)
}

// Set replaces the table contents.
func (s *StaticSource) Set(rows ...Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows = append([]Entry(nil), rows...)
}

// Fail makes subsequent queries return err until called with nil.
func (s *StaticSource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.err = err
}

func (s *StaticSource) Capacity(context.Context) (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return 0, s.err
	}

	return s.capacity, nil
}

func (s *StaticSource) Table(context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return nil, s.err
	}

	return append([]Entry(nil), s.rows...), nil
}
