package main

import (
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/kevmo314/go-uac/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli)
	require.NoError(t, err)
	ctx, err := parser.Parse([]string{"record", "out.wav", "--vendor=0x08bb", "--product=0x2902", "--tune.num-lists=6", "--rate=48000"})
	require.NoError(t, err)
	assert.Equal(t, "record <output>", ctx.Command())
	assert.Equal(t, config.ID(0x08bb), cli.Vendor)
	assert.Equal(t, config.ID(0x2902), cli.Product)
	assert.Equal(t, 6, cli.Tune.NumLists)
	assert.Equal(t, config.Defaults().RefreshInterval, cli.Tune.RefreshInterval)
	assert.Equal(t, uint32(48000), cli.Record.Rate)
	assert.Equal(t, "info", cli.Log.Level)
}

func TestConfigPaths(t *testing.T) {
	yamlPaths, tomlPaths := configPaths("/etc/uacd/custom.toml")
	require.NotEmpty(t, tomlPaths)
	assert.Equal(t, "/etc/uacd/custom.toml", tomlPaths[0])
	assert.Contains(t, yamlPaths, filepath.Join(".", "uacd.yaml"))

	yamlPaths, _ = configPaths("site.yml")
	assert.Equal(t, "site.yml", yamlPaths[0])

	assert.Equal(t, "a.yaml", findUserConfig([]string{"inspect", "--config", "a.yaml"}))
	assert.Equal(t, "b.toml", findUserConfig([]string{"--config=b.toml", "list"}))
}

func TestAbsoluteFrame(t *testing.T) {
	// 4 byte frames in a 400 byte ring
	assert.Equal(t, int64(0), absoluteFrame(0, 0, 400, 4))
	assert.Equal(t, int64(25), absoluteFrame(100, 0, 400, 4))
	assert.Equal(t, int64(225), absoluteFrame(100, 2, 400, 4))
}

func TestToneKeepsPhase(t *testing.T) {
	tn := newTone(1000, 48000, 0.5)
	a := tn.fill(nil, 24, 2)
	b := tn.fill(nil, 24, 2)
	require.Len(t, a, 48)
	assert.Equal(t, a[0], a[1])
	assert.InDelta(t, 0, a[0], 1e-6)
	// half a period in, the second call starts where the first ended
	assert.InDelta(t, 0, b[0], 1e-3)
	for _, v := range append(a, b...) {
		assert.LessOrEqual(t, math.Abs(float64(v)), 0.5+1e-6)
	}
}

func TestLevels(t *testing.T) {
	peak, rms := levels(nil)
	assert.Equal(t, floorDB, peak)
	assert.Equal(t, floorDB, rms)

	square := []float64{0.5, -0.5, 0.5, -0.5}
	peak, rms = levels(square)
	assert.InDelta(t, -6.02, peak, 0.01)
	assert.InDelta(t, -6.02, rms, 0.01)
}

func TestSpectrumFindsTone(t *testing.T) {
	const n = 1024
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = math.Sin(2 * math.Pi * 64 * float64(i) / n)
	}
	rows := spectrum(samples, 40, 10)
	require.Len(t, rows, 10)
	for _, r := range rows {
		assert.Equal(t, 40, len([]rune(r)))
	}
	// the top row only lights up around the tone
	lit := strings.Count(rows[0], " ")
	assert.GreaterOrEqual(t, lit, 37)
	assert.Less(t, lit, 40)
	assert.Equal(t, 40, len([]rune(rows[len(rows)-1])))

	assert.Equal(t, make([]string, 3), spectrum(nil, 10, 3))
}
