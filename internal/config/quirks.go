package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

var ErrUnknownQuirkFormat = errors.New("unknown quirk file format")

// Quirk overrides engine grouping for one device.
type Quirk struct {
	Name    string `yaml:"name" toml:"name"`
	Vendor  ID     `yaml:"vendor" toml:"vendor"`
	Product ID     `yaml:"product" toml:"product"`
	// SeparateEngines puts every streaming interface in its own engine.
	SeparateEngines bool `yaml:"separate_engines" toml:"separate_engines"`
	// UseSingleAudioEngine puts every streaming interface in one engine.
	UseSingleAudioEngine bool `yaml:"single_engine" toml:"single_engine"`
	// SingleSampleRate forces the interfaces of an engine to share one rate on UAC1.
	SingleSampleRate bool `yaml:"single_sample_rate" toml:"single_sample_rate"`
}

// ID is a USB vendor or product id. Files may write it as a number or as a hex string.
type ID uint16

func (id *ID) set(s string) error {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 16)
	if err != nil {
		return fmt.Errorf("usb id %q: %w", s, err)
	}
	*id = ID(v)
	return nil
}

func (id *ID) UnmarshalYAML(node *yaml.Node) error {
	return id.set(node.Value)
}

func (id *ID) UnmarshalText(text []byte) error {
	return id.set(string(text))
}

func (id ID) String() string {
	return fmt.Sprintf("0x%04x", uint16(id))
}

// Quirks is a quirk table.
type Quirks struct {
	Devices []Quirk `yaml:"devices" toml:"devices"`
}

// DefaultQuirks lists devices whose descriptors misstate how their streams are clocked.
func DefaultQuirks() Quirks {
	return Quirks{Devices: []Quirk{
		{Name: "Griffin iMic", Vendor: 0x077d, Product: 0x07af, SeparateEngines: true},
		{Name: "Edirol UA-25", Vendor: 0x0582, Product: 0x0074, UseSingleAudioEngine: true, SingleSampleRate: true},
		{Name: "M-Audio Transit", Vendor: 0x0763, Product: 0x2006, SingleSampleRate: true},
		{Name: "Behringer UCA202", Vendor: 0x08bb, Product: 0x2902, UseSingleAudioEngine: true},
	}}
}

// Lookup returns the quirk of a device.
func (q Quirks) Lookup(vendor, product uint16) (Quirk, bool) {
	for _, d := range q.Devices {
		if uint16(d.Vendor) == vendor && uint16(d.Product) == product {
			return d, true
		}
	}
	return Quirk{}, false
}

// Merge returns q with the entries of other added. Entries of other replace those for the
// same device.
func (q Quirks) Merge(other Quirks) Quirks {
	out := Quirks{Devices: append([]Quirk(nil), other.Devices...)}
	for _, d := range q.Devices {
		if _, ok := other.Lookup(uint16(d.Vendor), uint16(d.Product)); !ok {
			out.Devices = append(out.Devices, d)
		}
	}
	return out
}

// ParseQuirks decodes a quirk table. format is "yaml" or "toml".
func ParseQuirks(data []byte, format string) (Quirks, error) {
	var q Quirks
	switch format {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &q); err != nil {
			return Quirks{}, fmt.Errorf("parse yaml quirks: %w", err)
		}
	case "toml":
		if err := toml.Unmarshal(data, &q); err != nil {
			return Quirks{}, fmt.Errorf("parse toml quirks: %w", err)
		}
	default:
		return Quirks{}, fmt.Errorf("%w: %q", ErrUnknownQuirkFormat, format)
	}
	for i, d := range q.Devices {
		if d.SeparateEngines && d.UseSingleAudioEngine {
			return Quirks{}, fmt.Errorf("quirk %d (%s %s:%s) asks for both separate and single engines", i, d.Name, d.Vendor, d.Product)
		}
	}
	return q, nil
}

// LoadQuirks reads a quirk file, choosing the decoder by extension, and merges it over the
// default table. An empty path returns the default table.
func LoadQuirks(path string) (Quirks, error) {
	if path == "" {
		return DefaultQuirks(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Quirks{}, err
	}
	q, err := ParseQuirks(data, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return Quirks{}, fmt.Errorf("%s: %w", path, err)
	}
	return DefaultQuirks().Merge(q), nil
}
