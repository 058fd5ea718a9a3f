package meadow

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// PresetData is a saved set of grass tiles in the same per-tile layout as
// the grass.tiles section of a config file.
type PresetData struct {
	Tiles []TileConfig `yaml:"tiles"`
}

// SavePreset writes the configuration of every grass tile entity to
// filename, ordered by entity id.
func SavePreset(cmd *Commands, filename string) error {
	type saved struct {
		eid EntityId
		cfg TileConfig
	}
	var entries []saved

	MakeQuery1[GrassTileComponent](cmd).Map(func(eid EntityId, g *GrassTileComponent) bool {
		if g.Handle != nil {
			entries = append(entries, saved{eid: eid, cfg: tileConfigFrom(g.Handle.Snapshot())})
		}
		return true
	})
	slices.SortFunc(entries, func(a, b saved) int { return int(a.eid) - int(b.eid) })

	preset := PresetData{Tiles: make([]TileConfig, len(entries))}
	for i, e := range entries {
		preset.Tiles[i] = e.cfg
	}

	data, err := yaml.Marshal(&preset)
	if err != nil {
		return fmt.Errorf("encoding preset: %w", err)
	}
	return os.WriteFile(filename, data, 0o644)
}

// LoadPreset spawns one grass tile entity per saved tile and returns their
// ids. Nothing is spawned if any tile is invalid.
func LoadPreset(cmd *Commands, filename string) ([]EntityId, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading preset: %w", err)
	}
	var preset PresetData
	if err := yaml.Unmarshal(data, &preset); err != nil {
		return nil, fmt.Errorf("parsing preset: %w", err)
	}

	comps := make([]GrassTileComponent, len(preset.Tiles))
	for i, tc := range preset.Tiles {
		cfg, err := tc.TileConfig()
		if err == nil {
			_, err = cfg.Validate()
		}
		if err != nil {
			return nil, fmt.Errorf("preset tile %d: %w", i, err)
		}
		comps[i] = NewGrassTile(cfg)
	}

	ids := make([]EntityId, len(comps))
	for i, c := range comps {
		ids[i] = cmd.AddEntity(c, TransformComponent{Position: c.Handle.Snapshot().Position})
	}
	return ids, nil
}
