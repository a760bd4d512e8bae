// Package config holds the driver tunables and the device quirk table.
package config

import (
	"time"

	"github.com/kevmo314/go-uac/pkg/stream"
	"github.com/kevmo314/go-uac/pkg/timing"
)

// Tunables are the timing and streaming knobs of the driver. The defaults are the values the
// driver was tuned with; kong fills them from flags, environment or a config file.
type Tunables struct {
	MaxAnchorEntries       int           `help:"Size of the frame/wall-time regression window." default:"1024" env:"UAC_MAX_ANCHOR_ENTRIES"`
	RefreshInterval        time.Duration `help:"Anchor sampling period once the window is full." default:"125ms" env:"UAC_REFRESH_INTERVAL"`
	AnchorSamplingFreq1    int           `help:"Anchor sampling rate in Hz while the window fills." default:"50" env:"UAC_ANCHOR_SAMPLING_FREQ"`
	MaxTimestampJitter     time.Duration `help:"Largest accepted bracket around a frame counter change." default:"30us" env:"UAC_MAX_TIMESTAMP_JITTER"`
	MinFramesApplyOffset   uint64        `help:"Frames every engine must be stopped before the anchor is re-biased." default:"1000" env:"UAC_MIN_FRAMES_APPLY_OFFSET"`
	StartDelayOffset       uint64        `help:"Frames between starting a stream and its first frame list." default:"3" env:"UAC_START_DELAY_OFFSET"`
	WallTimeExtraPrecision uint64        `help:"Fixed-point scale of the cycle time." default:"10000" env:"UAC_WALL_TIME_EXTRA_PRECISION"`
	CoalesceLagThreshold   int           `help:"Frames of uncoalesced input that restart an engine." default:"64" env:"UAC_COALESCE_LAG_THRESHOLD"`
	FramesPerList          int           `help:"USB frames per isochronous frame list." default:"8" env:"UAC_FRAMES_PER_LIST"`
	NumLists               int           `help:"Frame lists kept in flight per stream." default:"4" env:"UAC_NUM_LISTS"`
}

// Defaults returns the tunables used when nothing was configured.
func Defaults() Tunables {
	tc := timing.DefaultConfig()
	return Tunables{
		MaxAnchorEntries:       tc.MaxAnchorEntries,
		RefreshInterval:        tc.RefreshInterval,
		AnchorSamplingFreq1:    tc.AnchorSamplingFreq1,
		MaxTimestampJitter:     tc.MaxTimestampJitter,
		MinFramesApplyOffset:   tc.MinFramesApplyOffset,
		StartDelayOffset:       3,
		WallTimeExtraPrecision: tc.WallTimeExtraPrecision,
		CoalesceLagThreshold:   64,
		FramesPerList:          stream.DefaultFramesPerList,
		NumLists:               stream.DefaultNumLists,
	}
}

// Timing builds the anchored timer configuration. Zero fields keep the timer defaults.
func (t Tunables) Timing() timing.Config {
	c := timing.DefaultConfig()
	if t.MaxAnchorEntries > 0 {
		c.MaxAnchorEntries = t.MaxAnchorEntries
	}
	if t.RefreshInterval > 0 {
		c.RefreshInterval = t.RefreshInterval
	}
	if t.AnchorSamplingFreq1 > 0 {
		c.AnchorSamplingFreq1 = t.AnchorSamplingFreq1
	}
	if t.MaxTimestampJitter > 0 {
		c.MaxTimestampJitter = t.MaxTimestampJitter
	}
	if t.MinFramesApplyOffset > 0 {
		c.MinFramesApplyOffset = t.MinFramesApplyOffset
	}
	if t.WallTimeExtraPrecision > 0 {
		c.WallTimeExtraPrecision = t.WallTimeExtraPrecision
	}
	return c
}

// Stream fills the list geometry and start delay of a stream configuration.
func (t Tunables) Stream(c stream.Config) stream.Config {
	c.FramesPerList = t.FramesPerList
	c.NumLists = t.NumLists
	c.StartDelayOffset = t.StartDelayOffset
	return c
}

// WatchdogPeriod is the cadence of the low-frequency polled task.
func (t Tunables) WatchdogPeriod() time.Duration {
	if t.RefreshInterval <= 0 {
		return timing.DefaultConfig().RefreshInterval
	}
	return t.RefreshInterval
}
