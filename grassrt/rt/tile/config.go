package tile

import (
	"fmt"
	"strings"

	"github.com/chewxy/math32"
	"github.com/gekko3d/meadow/grassrt/rt/core"
	"github.com/gekko3d/meadow/grassrt/rt/noise"
	"github.com/gekko3d/meadow/grassrt/rt/placement"
	"github.com/go-gl/mathgl/mgl32"
)

// Mode selects where instance records come from.
type Mode int

const (
	// ModeDevice generates instances with the compute kernel from the
	// cluster field.
	ModeDevice Mode = iota
	// ModePlanned uploads records jittered on the host by the planner.
	ModePlanned
)

func (m Mode) String() string {
	switch m {
	case ModeDevice:
		return "device"
	case ModePlanned:
		return "planned"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "device", "gpu":
		return ModeDevice, nil
	case "planned", "cpu":
		return ModePlanned, nil
	}
	return ModeDevice, core.NewConfigurationError("mode", s, "want device or planned")
}

// Config is fixed for the life of a tile. Changing it means building a new
// tile (see Tile.Reconfigure).
type Config struct {
	Position        mgl32.Vec3
	Width           float32
	Depth           float32
	InstanceCount   int
	WindDirection   mgl32.Vec2
	WindSpeed       float32
	Seed            uint64
	BaseHeight      float32
	BendRange       float32
	ClusterStrength float32
	FieldResolution int
	FieldTileSize   float32
	Mode            Mode
}

func DefaultConfig() Config {
	return Config{
		Width:           16,
		Depth:           16,
		InstanceCount:   256,
		WindDirection:   mgl32.Vec2{1, 0},
		WindSpeed:       1,
		Seed:            1,
		BendRange:       0.3,
		ClusterStrength: 0.25,
		FieldResolution: noise.DefaultResolution,
		FieldTileSize:   32,
		Mode:            ModeDevice,
	}
}

func finite(v float32) bool {
	return !math32.IsNaN(v) && !math32.IsInf(v, 0)
}

// Validate checks every field and returns the planned grid.
func (c Config) Validate() (placement.Grid, error) {
	grid, err := placement.Plan(c.Width, c.Depth, c.InstanceCount)
	if err != nil {
		return placement.Grid{}, err
	}
	grid.BaseHeight = c.BaseHeight
	for i := 0; i < 3; i++ {
		if !finite(c.Position[i]) {
			return placement.Grid{}, core.NewConfigurationError("position", c.Position, "must be finite")
		}
	}
	switch {
	case !finite(c.BaseHeight):
		return placement.Grid{}, core.NewConfigurationError("baseHeight", c.BaseHeight, "must be finite")
	case !finite(c.WindSpeed) || c.WindSpeed < 0:
		return placement.Grid{}, core.NewConfigurationError("windSpeed", c.WindSpeed, "must be a non-negative finite number")
	case !finite(c.WindDirection[0]) || !finite(c.WindDirection[1]):
		return placement.Grid{}, core.NewConfigurationError("windDirection", c.WindDirection, "must be finite")
	case !finite(c.BendRange) || c.BendRange < 0:
		return placement.Grid{}, core.NewConfigurationError("bendRange", c.BendRange, "must be a non-negative finite number")
	case !finite(c.ClusterStrength) || c.ClusterStrength < 0:
		return placement.Grid{}, core.NewConfigurationError("clusterStrength", c.ClusterStrength, "must be a non-negative finite number")
	case c.FieldResolution < 1 || c.FieldResolution > 8192:
		return placement.Grid{}, core.NewConfigurationError("fieldResolution", c.FieldResolution, "must be in [1, 8192]")
	case !(c.FieldTileSize > 0) || !finite(c.FieldTileSize):
		return placement.Grid{}, core.NewConfigurationError("fieldTileSize", c.FieldTileSize, "must be a positive finite number")
	case c.Mode != ModeDevice && c.Mode != ModePlanned:
		return placement.Grid{}, core.NewConfigurationError("mode", c.Mode, "unknown generation mode")
	}
	return grid, nil
}

// Wind is the normalized wind direction; a zero vector means no direction.
func (c Config) Wind() mgl32.Vec2 {
	if c.WindDirection.Len() == 0 {
		return mgl32.Vec2{}
	}
	return c.WindDirection.Normalize()
}
