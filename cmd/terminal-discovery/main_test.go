package main

import (
	"flag"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/terminal-discovery/pkg/config"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("terminal-discovery", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	return fs
}

func TestFlagsOverrideOnlyWhatIsSet(t *testing.T) {
	f, err := parseFlags(newFlagSet(), []string{
		"-tx-interval", "0",
		"-max-terminals", "4294967295",
		"-listen", ":8090",
		"-no-console",
	})
	require.NoError(t, err)
	assert.True(t, f.noConsole)

	cfg := config.Default()
	applyFlags(f, cfg)

	assert.Equal(t, uint32(0), cfg.TxIntervalMs)
	assert.Equal(t, uint32(4294967295), cfg.MaxTerminals)
	require.NotNil(t, cfg.API)
	assert.Equal(t, ":8090", cfg.API.ListenAddr)

	// untouched settings keep their loaded values
	assert.Equal(t, uint32(config.DefaultKeepaliveIntervalSec), cfg.KeepaliveIntervalSec)
	assert.Equal(t, config.DefaultAdapterName, cfg.AdapterName)
}

func TestFlagsRejectOutOfRangeValues(t *testing.T) {
	for _, args := range [][]string{
		{"-max-terminals", "4294967296"},
		{"-keepalive-interval", "-1"},
		{"-tx-interval", "fast"},
	} {
		_, err := parseFlags(newFlagSet(), args)
		assert.Error(t, err, "%v", args)
	}
}
