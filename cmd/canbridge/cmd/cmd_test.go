package cmd

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/roffe/canbridge/adapter"
	"github.com/roffe/canbridge/pkg/config"
	"github.com/roffe/canbridge/pkg/telemetry"
	"github.com/roffe/canbridge/pkg/uds"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestParseHex(t *testing.T) {
	for _, in := range []string{"62 01 01", "620101", "62:01:01", "0x62 0x01 0x01"} {
		b, err := parseHex(in)
		require.NoError(t, err, in)
		assert.Equal(t, []byte{0x62, 0x01, 0x01}, b, in)
	}
	_, err := parseHex("6")
	assert.Error(t, err)
}

func TestDecodeCommand(t *testing.T) {
	out, err := execute(t, "decode", "tpms", "62C00B00000000B448000000B448000000B448000000B448")
	require.NoError(t, err)
	assert.Contains(t, out, "36.0")

	rec, err := telemetry.Encode(telemetry.Error{Source: 0x7EC, Description: "crc"})
	require.NoError(t, err)
	out, err = execute(t, "decode", "record", hex.EncodeToString(rec))
	require.NoError(t, err)
	assert.Contains(t, out, "crc")

	_, err = execute(t, "decode", "battery", "620101")
	assert.Error(t, err)
	_, err = execute(t, "decode", "nope", "620101")
	assert.Error(t, err)
}

func TestAdaptersCommand(t *testing.T) {
	out, err := execute(t, "adapters")
	require.NoError(t, err)
	assert.Contains(t, out, "Virtual")
	assert.Contains(t, out, "SLCan")
}

func TestQueryDID(t *testing.T) {
	assert.Equal(t, uint16(0xC00B), queryDID(uds.ECU{Query: uds.MustBuildQuery(0xC0, 0x0B)}))
	assert.Equal(t, uint16(0x0100), queryDID(uds.ECU{Query: uds.MustBuildQuery(0x01)}))
}

func TestApplyFlags(t *testing.T) {
	cfg := config.Default()
	f := runCmd.Flags()
	require.NoError(t, f.Set(flagAdapter, "slcan"))
	require.NoError(t, f.Set(flagPort, "/dev/ttyACM0"))
	applyFlags(f, cfg)
	assert.Equal(t, "slcan", cfg.Diagnostic.Adapter)
	assert.Equal(t, "/dev/ttyACM0", cfg.Diagnostic.Port)
	assert.Equal(t, "virtual", cfg.Downstream.Adapter)
}

func TestOpenController(t *testing.T) {
	c, err := openController(config.Default().Diagnostic, false)
	require.NoError(t, err)
	defer c.Close()
	_, ok := c.(*adapter.Virtual)
	assert.True(t, ok)

	_, err = openController(config.BusConfig{Adapter: "slcan"}, false)
	assert.Error(t, err, "slcan needs a port")
}
