package meadow

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/gekko3d/meadow/grassrt/rt/core"
	"github.com/gekko3d/meadow/grassrt/rt/device"
	"github.com/gekko3d/meadow/grassrt/rt/tile"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config is the file-level configuration of a meadow run.
type Config struct {
	Window WindowConfig `yaml:"window"`
	Device DeviceConfig `yaml:"device"`
	Log    LogConfig    `yaml:"log"`
	Camera CameraConfig `yaml:"camera"`
	Light  LightConfig  `yaml:"light"`
	Grass  GrassConfig  `yaml:"grass"`
	Perf   PerfConfig   `yaml:"perf"`
}

type WindowConfig struct {
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Title  string `yaml:"title"`
	// ClearColor is the sky behind the grass, as linear RGB.
	ClearColor [3]float64 `yaml:"clear_color"`
}

type DeviceConfig struct {
	Backend         string `yaml:"backend"`
	ValidateShaders bool   `yaml:"validate_shaders"`
	MemoryBudgetMB  int    `yaml:"memory_budget_mb"`
}

type LogConfig struct {
	Prefix string `yaml:"prefix"`
	Debug  bool   `yaml:"debug"`
}

type CameraConfig struct {
	Position [3]float32 `yaml:"position"`
	Yaw      float32    `yaml:"yaw"`
	Pitch    float32    `yaml:"pitch"`
	Fov      float32    `yaml:"fov"`
	Speed    float32    `yaml:"speed"`
}

type LightConfig struct {
	Position [3]float32 `yaml:"position"`
	Radius   float32    `yaml:"radius"`
	Colour   [4]float32 `yaml:"colour"`
}

type MeshConfig struct {
	Segments int     `yaml:"segments"`
	Width    float32 `yaml:"width"`
	Height   float32 `yaml:"height"`
}

// TileConfig mirrors tile.Config in file form.
type TileConfig struct {
	Position        [3]float32 `yaml:"position"`
	Width           float32    `yaml:"width"`
	Depth           float32    `yaml:"depth"`
	InstanceCount   int        `yaml:"instance_count"`
	WindDirection   [2]float32 `yaml:"wind_direction"`
	WindSpeed       float32    `yaml:"wind_speed"`
	Seed            uint64     `yaml:"seed"`
	BaseHeight      float32    `yaml:"base_height"`
	BendRange       float32    `yaml:"bend_range"`
	ClusterStrength float32    `yaml:"cluster_strength"`
	FieldResolution int        `yaml:"field_resolution"`
	FieldTileSize   float32    `yaml:"field_tile_size"`
	Mode            string     `yaml:"mode"`
}

// GrassConfig lists the tiles to spawn. Each entry of Tiles is decoded on
// top of Defaults, so an entry only names what differs.
type GrassConfig struct {
	Mesh     MeshConfig  `yaml:"mesh"`
	Defaults TileConfig  `yaml:"defaults"`
	Tiles    []yaml.Node `yaml:"tiles"`
}

type PerfConfig struct {
	ReportEvery time.Duration `yaml:"report_every"`
	CSVPath     string        `yaml:"csv_path"`
	MaxSamples  int           `yaml:"max_samples"`
}

// LoadConfig reads the embedded defaults, then the file at path over them
// when path is not empty.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := ParseConfig(data, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// ParseConfig decodes data over cfg. Keys missing from data keep their
// current values.
func ParseConfig(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// TileConfigs returns one validated tile.Config per grass.tiles entry.
func (c *Config) TileConfigs() ([]tile.Config, error) {
	out := make([]tile.Config, 0, len(c.Grass.Tiles))
	for i := range c.Grass.Tiles {
		entry := c.Grass.Defaults
		if err := c.Grass.Tiles[i].Decode(&entry); err != nil {
			return nil, fmt.Errorf("grass.tiles[%d]: %w", i, err)
		}
		tc, err := entry.TileConfig()
		if err != nil {
			return nil, fmt.Errorf("grass.tiles[%d]: %w", i, err)
		}
		if _, err := tc.Validate(); err != nil {
			return nil, fmt.Errorf("grass.tiles[%d]: %w", i, err)
		}
		out = append(out, tc)
	}
	return out, nil
}

func (t TileConfig) TileConfig() (tile.Config, error) {
	mode, err := tile.ParseMode(t.Mode)
	if err != nil {
		return tile.Config{}, err
	}
	return tile.Config{
		Position:        mgl32.Vec3(t.Position),
		Width:           t.Width,
		Depth:           t.Depth,
		InstanceCount:   t.InstanceCount,
		WindDirection:   mgl32.Vec2(t.WindDirection),
		WindSpeed:       t.WindSpeed,
		Seed:            t.Seed,
		BaseHeight:      t.BaseHeight,
		BendRange:       t.BendRange,
		ClusterStrength: t.ClusterStrength,
		FieldResolution: t.FieldResolution,
		FieldTileSize:   t.FieldTileSize,
		Mode:            mode,
	}, nil
}

func tileConfigFrom(c tile.Config) TileConfig {
	return TileConfig{
		Position:        [3]float32(c.Position),
		Width:           c.Width,
		Depth:           c.Depth,
		InstanceCount:   c.InstanceCount,
		WindDirection:   [2]float32(c.WindDirection),
		WindSpeed:       c.WindSpeed,
		Seed:            c.Seed,
		BaseHeight:      c.BaseHeight,
		BendRange:       c.BendRange,
		ClusterStrength: c.ClusterStrength,
		FieldResolution: c.FieldResolution,
		FieldTileSize:   c.FieldTileSize,
		Mode:            c.Mode.String(),
	}
}

func (c *Config) BladeMesh() tile.BladeMesh {
	m := c.Grass.Mesh
	if m.Segments < 1 || m.Width <= 0 || m.Height <= 0 {
		return tile.DefaultBladeMesh()
	}
	return tile.NewBladeMesh(m.Segments, m.Width, m.Height)
}

func (c *Config) PointLight() core.PointLight {
	return core.PointLight{
		Position: mgl32.Vec3(c.Light.Position),
		Radius:   c.Light.Radius,
		Colour:   mgl32.Vec4(c.Light.Colour),
	}
}

func (c *Config) ClearColor() wgpu.Color {
	rgb := c.Window.ClearColor
	return wgpu.Color{R: rgb[0], G: rgb[1], B: rgb[2], A: 1}
}

// ApplyCamera copies the configured pose onto cam.
func (c *Config) ApplyCamera(cam *core.Camera) {
	cam.Position = mgl32.Vec3(c.Camera.Position)
	cam.Yaw = c.Camera.Yaw
	cam.Pitch = c.Camera.Pitch
	if c.Camera.Fov > 0 {
		cam.Fov = c.Camera.Fov
	}
	if c.Camera.Speed > 0 {
		cam.Speed = c.Camera.Speed
	}
}

func (c *Config) SoftOptions() []device.SoftOption {
	var opts []device.SoftOption
	if c.Device.MemoryBudgetMB > 0 {
		opts = append(opts, device.WithMemoryBudget(uint64(c.Device.MemoryBudgetMB)<<20))
	}
	return opts
}

// ConfigModule installs the camera and light of a Config on the
// DeviceState, then spawns its grass tiles. Install it after a device
// module.
type ConfigModule struct {
	Config *Config
}

func (m ConfigModule) Install(app *App, cmd *Commands) {
	cfg := m.Config
	if state := Resource[DeviceState](app); state != nil {
		cfg.ApplyCamera(state.Camera)
		state.Light = cfg.PointLight()
	}
	tiles, err := cfg.TileConfigs()
	if err != nil {
		app.Logger().Errorf("config: %v", err)
		panic(err)
	}
	mesh := cfg.BladeMesh()
	app.UseModules(GrassModule{Tiles: tiles, Mesh: &mesh})
}
