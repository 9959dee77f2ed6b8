package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
)

// Level ranks alert severity for an asset.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// ParseLevel normalises a severity string.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelLow:
		return LevelLow, nil
	case LevelMedium:
		return LevelMedium, nil
	case LevelHigh:
		return LevelHigh, nil
	}
	return "", fmt.Errorf("unknown alert level %q", s)
}

// Rank orders levels so policies can compare severities.
func (l Level) Rank() int {
	switch l {
	case LevelHigh:
		return 3
	case LevelMedium:
		return 2
	case LevelLow:
		return 1
	}
	return 0
}

// Asset describes one monitored instrument. Immutable after load.
type Asset struct {
	Symbol    string
	Name      string
	Source    string
	Threshold decimal.Decimal
	Level     Level
	Enabled   bool
}

// Registry holds the monitored asset set for the process lifetime.
type Registry struct {
	assets   []Asset
	bySymbol map[string]Asset
}

type assetFile struct {
	Symbol    string  `json:"symbol"`
	Name      string  `json:"name"`
	Source    string  `json:"source"`
	Threshold float64 `json:"threshold"`
	Level     string  `json:"level"`
	Enabled   *bool   `json:"enabled"`
}

// Load reads the asset list from a JSON file and validates every entry.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read assets file: %w", err)
	}

	var entries []assetFile
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse assets file: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("assets file %s contains no assets", path)
	}

	return build(entries)
}

func build(entries []assetFile) (*Registry, error) {
	reg := &Registry{bySymbol: make(map[string]Asset, len(entries))}
	for i, entry := range entries {
		if entry.Symbol == "" {
			return nil, fmt.Errorf("asset #%d: symbol is required", i)
		}
		if entry.Threshold <= 0 {
			return nil, fmt.Errorf("asset %s: threshold must be greater than zero", entry.Symbol)
		}
		if entry.Source == "" {
			return nil, fmt.Errorf("asset %s: source is required", entry.Symbol)
		}
		level := LevelMedium
		if entry.Level != "" {
			parsed, err := ParseLevel(entry.Level)
			if err != nil {
				return nil, fmt.Errorf("asset %s: %w", entry.Symbol, err)
			}
			level = parsed
		}
		if _, dup := reg.bySymbol[entry.Symbol]; dup {
			return nil, fmt.Errorf("asset %s: duplicate symbol", entry.Symbol)
		}

		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}

		name := entry.Name
		if name == "" {
			name = entry.Symbol
		}

		asset := Asset{
			Symbol:    entry.Symbol,
			Name:      name,
			Source:    strings.ToLower(entry.Source),
			Threshold: decimal.NewFromFloat(entry.Threshold),
			Level:     level,
			Enabled:   enabled,
		}
		reg.assets = append(reg.assets, asset)
		reg.bySymbol[asset.Symbol] = asset
	}
	return reg, nil
}

// All returns every configured asset in file order.
func (r *Registry) All() []Asset {
	return r.assets
}

// Enabled returns the assets participating in monitoring.
func (r *Registry) Enabled() []Asset {
	enabled := make([]Asset, 0, len(r.assets))
	for _, asset := range r.assets {
		if asset.Enabled {
			enabled = append(enabled, asset)
		}
	}
	return enabled
}

// Lookup finds an asset by symbol.
func (r *Registry) Lookup(symbol string) (Asset, bool) {
	asset, ok := r.bySymbol[symbol]
	return asset, ok
}
