package terminal

import (
	"encoding/json"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/terminal-discovery/pkg/switchmac"
)

func TestTransitions(t *testing.T) {
	tests := []struct {
		from State
		sig  signal
		want State
	}{
		{StateActive, signalSeen, StateActive},
		{StateActive, signalMissed, StateSuspect},
		{StateActive, signalExpired, StateStale},
		{StateSuspect, signalSeen, StateActive},
		{StateSuspect, signalMissed, StateSuspect},
		{StateSuspect, signalExpired, StateStale},
		{StateStale, signalSeen, StateStale},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, next(tt.from, tt.sig), "%s on %d", tt.from, tt.sig)
	}
}

func TestStateJSON(t *testing.T) {
	b, err := json.Marshal(StateSuspect)
	require.NoError(t, err)
	assert.JSONEq(t, `"SUSPECT"`, string(b))
	assert.Equal(t, "UNKNOWN", State(9).String())
}

func TestChangeEventJSON(t *testing.T) {
	ev := ChangeEvent{
		Tag: TagMod,
		TerminalInfo: TerminalInfo{
			MAC:     switchmac.MAC{0xaa, 0xbb, 0xcc, 0, 0, 1},
			IP:      netip.MustParseAddr("10.1.2.3"),
			Port:    4,
			VLAN:    20,
			IfIndex: 4,
		},
	}

	b, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"mac": "aa:bb:cc:00:00:01",
		"ip": "10.1.2.3",
		"port": 4,
		"vlan": 20,
		"ifindex": 4,
		"tag": 2,
		"tag_name": "MOD"
	}`, string(b))

	assert.Equal(t, "Tag(7)", Tag(7).String())
}

func TestChain(t *testing.T) {
	assert.Nil(t, Chain())
	assert.Nil(t, Chain(nil, nil))

	var calls []string

	fn := Chain(
		func([]ChangeEvent) { calls = append(calls, "first") },
		nil,
		func(ev []ChangeEvent) { calls = append(calls, ev[0].Tag.String()) },
	)

	fn([]ChangeEvent{{Tag: TagDel}})
	assert.Equal(t, []string{"first", "DEL"}, calls)
}

func TestValidateVLANs(t *testing.T) {
	require.NoError(t, ValidateVLANs(nil))
	require.NoError(t, ValidateVLANs([]uint16{MinVLAN, MaxVLAN}))
	require.ErrorIs(t, ValidateVLANs([]uint16{0}), errVLANRange)
	require.ErrorIs(t, ValidateVLANs([]uint16{5, 6, 5}), errDuplicateVLAN)
	require.ErrorIs(t, ValidateVLANs(make([]uint16, MaxIgnoredVLANs+1)), errTooManyVLANs)
}
