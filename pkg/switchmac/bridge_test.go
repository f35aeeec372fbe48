package switchmac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/terminal-discovery/pkg/logger"
)

func mustMAC(t *testing.T, s string) MAC {
	t.Helper()

	m, err := ParseMAC(s)
	require.NoError(t, err)

	return m
}

func TestBridgeGetCapacity(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	src := NewMockSource(ctrl)
	src.EXPECT().Capacity(gomock.Any()).Return(uint32(4096), nil)

	b := NewBridge(src, time.Second, logger.NewTestLogger())

	capacity, err := b.GetCapacity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(4096), capacity)
}

func TestBridgeSnapshot(t *testing.T) {
	a := Entry{MAC: mustMAC(t, "00:00:00:00:00:0a"), VLAN: 1, IfIndex: 3, Attr: AttrDynamic}
	b := Entry{MAC: mustMAC(t, "00:00:00:00:00:0b"), VLAN: 1, IfIndex: 4, Attr: AttrDynamic}
	c := Entry{MAC: mustMAC(t, "00:00:00:00:00:0c"), VLAN: 2, IfIndex: 5, Attr: AttrStatic}

	tests := []struct {
		name        string
		rows        []Entry
		bufLen      int
		wantN       int
		truncations uint64
	}{
		{name: "fits", rows: []Entry{a, b}, bufLen: 4, wantN: 2},
		{name: "exact", rows: []Entry{a, b, c}, bufLen: 3, wantN: 3},
		{name: "truncated", rows: []Entry{a, b, c}, bufLen: 2, wantN: 2, truncations: 1},
		{name: "empty buffer", rows: []Entry{a}, bufLen: 0, wantN: 0, truncations: 1},
		{name: "empty table", rows: nil, bufLen: 2, wantN: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			src := NewMockSource(ctrl)
			src.EXPECT().Table(gomock.Any()).Return(tt.rows, nil)

			br := NewBridge(src, time.Second, logger.NewTestLogger())
			buf := make([]Entry, tt.bufLen)

			n, err := br.Snapshot(context.Background(), buf)
			require.NoError(t, err)
			assert.Equal(t, tt.wantN, n)
			if tt.wantN > 0 {
				assert.Equal(t, tt.rows[:tt.wantN], buf[:n])
			}
			assert.Equal(t, tt.truncations, br.Truncations())
		})
	}
}

func TestBridgeInvalidArgument(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := NewMockSource(ctrl)

	b := NewBridge(src, time.Second, logger.NewTestLogger())

	_, err := b.Snapshot(context.Background(), nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, CodeInvalidArgument, Code(err))

	var unset *Bridge

	_, err = unset.GetCapacity(context.Background())
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBridgeSourceFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := NewMockSource(ctrl)

	driverErr := errors.New("ioctl failed")
	src.EXPECT().Table(gomock.Any()).Return(nil, driverErr)
	src.EXPECT().Capacity(gomock.Any()).Return(uint32(0), driverErr)

	b := NewBridge(src, time.Second, logger.NewTestLogger())

	_, err := b.Snapshot(context.Background(), make([]Entry, 1))
	require.ErrorIs(t, err, ErrSourceUnavailable)
	require.ErrorIs(t, err, driverErr)
	assert.Equal(t, CodeSourceUnavailable, Code(err))

	_, err = b.GetCapacity(context.Background())
	require.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestBridgeAbandonsHungSource(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := NewMockSource(ctrl)

	release := make(chan struct{})
	defer close(release)

	// ignores its context on purpose
	src.EXPECT().Table(gomock.Any()).DoAndReturn(func(context.Context) ([]Entry, error) {
		<-release
		return []Entry{{VLAN: 1}}, nil
	})

	b := NewBridge(src, 20*time.Millisecond, logger.NewTestLogger())
	buf := make([]Entry, 1)

	start := time.Now()
	_, err := b.Snapshot(context.Background(), buf)

	require.ErrorIs(t, err, ErrSourceUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, Entry{}, buf[0])
}

func TestBridgeCallerCancellation(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := NewMockSource(ctrl)

	ctx, cancel := context.WithCancel(context.Background())

	src.EXPECT().Table(gomock.Any()).DoAndReturn(func(ctx context.Context) ([]Entry, error) {
		cancel()
		<-ctx.Done()

		return nil, ctx.Err()
	})

	b := NewBridge(src, time.Minute, logger.NewTestLogger())

	_, err := b.Snapshot(ctx, make([]Entry, 1))
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrSourceUnavailable)

	src.EXPECT().Capacity(gomock.Any()).DoAndReturn(func(ctx context.Context) (uint32, error) {
		return 0, ctx.Err()
	}).AnyTimes()

	_, err = b.GetCapacity(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrSourceUnavailable)
}

func TestCode(t *testing.T) {
	assert.Equal(t, CodeOK, Code(nil))
	assert.Equal(t, CodeInvalidArgument, Code(ErrInvalidArgument))
	assert.Equal(t, CodeSourceUnavailable, Code(ErrSourceUnavailable))
	assert.Equal(t, CodeSourceUnavailable, Code(errors.New("anything else")))
}
