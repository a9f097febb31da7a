/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package mash

import (
	_ "embed"
	"fmt"
	"math/rand/v2"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed presets.yaml
var presetsYAML []byte

// Preset is a named pool of labels a category can be drawn from.
type Preset struct {
	ID   string   `json:"id" yaml:"id"`
	Name string   `json:"name" yaml:"name"`
	Pool []string `json:"pool" yaml:"pool"`
	Max  int      `json:"max,omitempty" yaml:"max,omitempty"`
}

var (
	presetsOnce sync.Once
	presets     []Preset
	presetsErr  error
)

func loadPresets() ([]Preset, error) {
	presetsOnce.Do(func() {
		presets, presetsErr = parsePresets(presetsYAML)
	})

	return presets, presetsErr
}

func parsePresets(data []byte) ([]Preset, error) {
	var out []Preset
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}

	seen := make(map[string]bool, len(out))
	for _, p := range out {
		switch {
		case p.ID == "":
			return nil, fmt.Errorf("parse presets: preset %q has no id", p.Name)
		case seen[p.ID]:
			return nil, fmt.Errorf("parse presets: duplicate preset id %q", p.ID)
		case len(p.Pool) == 0:
			return nil, fmt.Errorf("parse presets: preset %q has an empty pool", p.ID)
		}
		seen[p.ID] = true
	}

	return out, nil
}

// Presets returns the built-in presets in table order. The embedded table is
// validated by tests, so a parse failure here is a build defect.
func Presets() []Preset {
	ps, err := loadPresets()
	if err != nil {
		panic(err)
	}

	out := make([]Preset, len(ps))
	for i, p := range ps {
		out[i] = p
		out[i].Pool = append([]string(nil), p.Pool...)
	}

	return out
}

func LookupPreset(id string) (Preset, bool) {
	for _, p := range Presets() {
		if p.ID == id {
			return p, true
		}
	}

	return Preset{}, false
}

// Sample draws up to k labels from pool uniformly without replacement.
// pool is left untouched. A nil rng uses the global source.
func Sample(pool []string, k int, rng *rand.Rand) []string {
	n := min(max(k, 0), len(pool))

	a := append([]string(nil), pool...)
	shuffle := rand.Shuffle
	if rng != nil {
		shuffle = rng.Shuffle
	}
	shuffle(len(a), func(i, j int) {
		a[i], a[j] = a[j], a[i]
	})

	return a[:n]
}

// Category draws up to k labels, capped by Max when set, into a new
// category named after the preset.
func (p Preset) Category(k int, rng *rand.Rand) Category {
	if p.Max > 0 && k > p.Max {
		k = p.Max
	}

	return NewCategory(p.Name, Sample(p.Pool, k, rng))
}
