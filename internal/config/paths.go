package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Layer names a storage tier of the pipeline
type Layer string

const (
	LayerBronze Layer = "bronze"
	LayerSilver Layer = "silver"
	LayerGold   Layer = "gold"
)

// DataPaths contains the directory of every storage layer
type DataPaths struct {
	Bronze string `yaml:"bronze" envconfig:"BRONZE" validate:"required"`
	Silver string `yaml:"silver" envconfig:"SILVER" validate:"required"`
	Gold   string `yaml:"gold" envconfig:"GOLD" validate:"required"`
}

// Dir returns the directory of a layer
func (p DataPaths) Dir(layer Layer) string {
	switch layer {
	case LayerBronze:
		return p.Bronze
	case LayerSilver:
		return p.Silver
	case LayerGold:
		return p.Gold
	}
	return ""
}

// Resolve makes relative layer directories absolute against base
func (p DataPaths) Resolve(base string) DataPaths {
	resolve := func(dir string) string {
		if dir == "" || filepath.IsAbs(dir) {
			return dir
		}
		return filepath.Join(base, dir)
	}
	return DataPaths{
		Bronze: resolve(p.Bronze),
		Silver: resolve(p.Silver),
		Gold:   resolve(p.Gold),
	}
}

// EnsureDirectories creates every layer directory
func (p DataPaths) EnsureDirectories() error {
	for _, layer := range []Layer{LayerBronze, LayerSilver, LayerGold} {
		dir := p.Dir(layer)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s directory %s: %w", layer, dir, err)
		}
	}
	return nil
}

// LogPathResolution logs the resolved layer directories
func (p DataPaths) LogPathResolution(logger *slog.Logger) {
	logger.Info("data_paths_resolved",
		slog.String("bronze", p.Bronze),
		slog.String("silver", p.Silver),
		slog.String("gold", p.Gold))
}
