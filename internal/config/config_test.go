package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/kevmo314/go-uac/pkg/stream"
	"github.com/kevmo314/go-uac/pkg/timing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKongDefaultsMatchDefaults(t *testing.T) {
	var cli struct {
		Tunables Tunables `embed:"" prefix:"tune."`
	}
	parser, err := kong.New(&cli, kong.Exit(func(int) { t.Fatal("kong exited") }))
	require.NoError(t, err)
	_, err = parser.Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cli.Tunables)
}

func TestKongFlagOverride(t *testing.T) {
	var cli struct {
		Tunables Tunables `embed:"" prefix:"tune."`
	}
	parser, err := kong.New(&cli)
	require.NoError(t, err)
	_, err = parser.Parse([]string{"--tune.refresh-interval=250ms", "--tune.num-lists=6"})
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cli.Tunables.RefreshInterval)
	assert.Equal(t, 6, cli.Tunables.NumLists)
	assert.Equal(t, 250*time.Millisecond, cli.Tunables.WatchdogPeriod())
}

func TestTimingConfig(t *testing.T) {
	tun := Defaults()
	assert.Equal(t, timing.DefaultConfig(), tun.Timing())

	tun.MaxAnchorEntries = 64
	tun.MaxTimestampJitter = 0
	c := tun.Timing()
	assert.Equal(t, 64, c.MaxAnchorEntries)
	assert.Equal(t, timing.DefaultConfig().MaxTimestampJitter, c.MaxTimestampJitter)
}

func TestStreamConfig(t *testing.T) {
	c := Defaults().Stream(stream.Config{SampleRate: 48000})
	assert.Equal(t, uint32(48000), c.SampleRate)
	assert.Equal(t, stream.DefaultFramesPerList, c.FramesPerList)
	assert.Equal(t, stream.DefaultNumLists, c.NumLists)
	assert.Equal(t, uint64(3), c.StartDelayOffset)
}

func TestParseQuirksYAML(t *testing.T) {
	q, err := ParseQuirks([]byte(`
devices:
  - name: Loop
    vendor: 0x1234
    product: 22
    separate_engines: true
`), "yaml")
	require.NoError(t, err)
	d, ok := q.Lookup(0x1234, 22)
	require.True(t, ok)
	assert.Equal(t, "Loop", d.Name)
	assert.True(t, d.SeparateEngines)
	assert.False(t, d.UseSingleAudioEngine)
}

func TestParseQuirksTOML(t *testing.T) {
	q, err := ParseQuirks([]byte(`
[[devices]]
name = "Desk"
vendor = "0x0d8c"
product = "0x0014"
single_engine = true
single_sample_rate = true
`), "toml")
	require.NoError(t, err)
	d, ok := q.Lookup(0x0d8c, 0x0014)
	require.True(t, ok)
	assert.True(t, d.UseSingleAudioEngine)
	assert.True(t, d.SingleSampleRate)
}

func TestParseQuirksRejects(t *testing.T) {
	_, err := ParseQuirks([]byte("devices: []"), "ini")
	assert.ErrorIs(t, err, ErrUnknownQuirkFormat)

	_, err = ParseQuirks([]byte(`
devices:
  - vendor: 1
    product: 2
    separate_engines: true
    single_engine: true
`), "yaml")
	assert.Error(t, err)

	_, err = ParseQuirks([]byte(`
devices:
  - vendor: nope
    product: 2
`), "yml")
	assert.Error(t, err)
}

func TestLoadQuirksMergesOverDefaults(t *testing.T) {
	q, err := LoadQuirks("")
	require.NoError(t, err)
	assert.Equal(t, DefaultQuirks(), q)

	path := filepath.Join(t.TempDir(), "quirks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
devices:
  - name: iMic without quirk
    vendor: 0x077d
    product: 0x07af
`), 0o644))
	q, err = LoadQuirks(path)
	require.NoError(t, err)
	assert.Len(t, q.Devices, len(DefaultQuirks().Devices))
	d, ok := q.Lookup(0x077d, 0x07af)
	require.True(t, ok)
	assert.False(t, d.SeparateEngines)
	_, ok = q.Lookup(0x0582, 0x0074)
	assert.True(t, ok)
}
