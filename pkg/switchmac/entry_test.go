package switchmac

import (
	"context"
	"encoding/json"
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMAC(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "colon", in: "00:11:22:33:44:55", want: "00:11:22:33:44:55"},
		{name: "upper dash", in: "AA-BB-CC-DD-EE-FF", want: "aa:bb:cc:dd:ee:ff"},
		{name: "dotted", in: "0011.2233.4455", want: "00:11:22:33:44:55"},
		{name: "eui64", in: "00:11:22:33:44:55:66:77", wantErr: true},
		{name: "garbage", in: "nope", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseMAC(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, m.String())
		})
	}
}

func TestMACCompareAndText(t *testing.T) {
	lo := MAC{0, 0, 0, 0, 0, 1}
	hi := MAC{0, 0, 0, 0, 1, 0}

	assert.Negative(t, lo.Compare(hi))
	assert.Positive(t, hi.Compare(lo))
	assert.Zero(t, lo.Compare(lo))

	b, err := json.Marshal(map[string]MAC{"mac": hi})
	require.NoError(t, err)
	assert.JSONEq(t, `{"mac":"00:00:00:00:01:00"}`, string(b))

	var back map[string]MAC
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, hi, back["mac"])
}

func TestEntryTerminal(t *testing.T) {
	assert.True(t, Entry{Attr: AttrDynamic}.Terminal())
	assert.True(t, Entry{Attr: AttrStatic}.Terminal())
	assert.True(t, Entry{}.Terminal())
	assert.False(t, Entry{Attr: AttrDelete}.Terminal())
	assert.False(t, Entry{Attr: AttrSelf | AttrStatic}.Terminal())

	assert.Equal(t, "static", AttrStatic.String())
	assert.Equal(t, "delete", (AttrDelete | AttrDynamic).String())
	assert.Equal(t, "other", Attr(0).String())
}

func TestStubSource(t *testing.T) {
	src := NewStubSource()

	capacity, err := src.Capacity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(1024), capacity)

	rows, err := src.Table(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "00:11:22:33:44:55", rows[0].MAC.String())
	assert.Equal(t, uint16(4094), rows[2].VLAN)
	assert.Equal(t, uint32(18), rows[2].IfIndex)
	assert.False(t, rows[2].Terminal())
}

func TestStubSourceCountFromEnv(t *testing.T) {
	t.Setenv("TD_SWITCH_MAC_STUB_COUNT", "1")

	rows, err := NewStubSource().Table(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)

	t.Setenv("TD_SWITCH_MAC_STUB_COUNT", "99")

	rows, err = NewStubSource().Table(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestStaticSourceSetAndFail(t *testing.T) {
	src := NewStaticSource(8)

	rows, err := src.Table(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)

	src.Set(Entry{VLAN: 5})

	rows, err = src.Table(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// callers own the returned slice
	rows[0].VLAN = 99
	again, _ := src.Table(context.Background())
	assert.Equal(t, uint16(5), again[0].VLAN)

	boom := errors.New("down")
	src.Fail(boom)

	_, err = src.Table(context.Background())
	require.ErrorIs(t, err, boom)

	src.Fail(nil)

	_, err = src.Capacity(context.Background())
	require.NoError(t, err)
}

func TestStaticResolver(t *testing.T) {
	a := MAC{0, 1, 2, 3, 4, 5}
	b := MAC{0, 1, 2, 3, 4, 6}

	r := NewStaticResolver(map[MAC]netip.Addr{a: netip.MustParseAddr("10.0.0.5")})

	got, err := r.Resolve(context.Background(), []Entry{{MAC: a, IfIndex: 3}, {MAC: b, IfIndex: 9}})
	require.NoError(t, err)
	assert.Equal(t, Binding{IP: netip.MustParseAddr("10.0.0.5"), Port: 3}, got[a])
	assert.False(t, got[b].IP.IsValid())
	assert.Equal(t, uint32(9), got[b].Port)
}

func TestAdapterRegistry(t *testing.T) {
	names := Adapters()
	assert.Contains(t, names, "stub")
	assert.Contains(t, names, "snmp")
	assert.Contains(t, names, "realtek")

	a, err := Open("STUB", AdapterOptions{})
	require.NoError(t, err)
	assert.IsType(t, &StaticSource{}, a.Source)
	assert.IsType(t, &StaticResolver{}, a.Resolver)

	_, err = Open("marvell", AdapterOptions{})
	require.ErrorIs(t, err, ErrUnknownAdapter)

	_, err = Open("snmp", AdapterOptions{})
	require.Error(t, err)

	a, err = Open("realtek", AdapterOptions{SNMP: &SNMPConfig{Target: "192.0.2.1"}})
	require.NoError(t, err)
	assert.IsType(t, &SNMPSource{}, a.Source)
	assert.IsType(t, &SNMPResolver{}, a.Resolver)

	require.ErrorIs(t, Register("stub", openStub), ErrAdapterExists)
	require.NoError(t, Register("lab-fixture", func(AdapterOptions) (Adapter, error) {
		return Adapter{Source: NewStaticSource(1), Resolver: NopResolver{}}, nil
	}))
	assert.Contains(t, Adapters(), "lab-fixture")
}
