package meadow

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gekko3d/meadow/grassrt/rt/core"
	"github.com/gekko3d/meadow/grassrt/rt/tile"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 1280, cfg.Window.Width)
	assert.Equal(t, wgpu.Color{R: 0.45, G: 0.62, B: 0.85, A: 1}, cfg.ClearColor())
	assert.Equal(t, "grassrt", cfg.Device.Backend)
	assert.Equal(t, 5*time.Second, cfg.Perf.ReportEvery)

	tiles, err := cfg.TileConfigs()
	require.NoError(t, err)
	require.Len(t, tiles, 1)
	assert.Equal(t, float32(100), tiles[0].Width)
	assert.Equal(t, 65536, tiles[0].InstanceCount)
	assert.Equal(t, float32(0.3), tiles[0].BendRange, "unset keys come from grass.defaults")
	assert.Equal(t, tile.ModeDevice, tiles[0].Mode)
}

func TestLoadConfig_UserFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meadow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
device:
  backend: soft
grass:
  defaults:
    seed: 9
  tiles:
    - position: [10, 0, 0]
      mode: planned
    - instance_count: 64
      wind_speed: 0
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "soft", cfg.Device.Backend)
	assert.Equal(t, 720, cfg.Window.Height, "keys absent from the file keep their defaults")

	tiles, err := cfg.TileConfigs()
	require.NoError(t, err)
	require.Len(t, tiles, 2)
	assert.Equal(t, mgl32.Vec3{10, 0, 0}, tiles[0].Position)
	assert.Equal(t, tile.ModePlanned, tiles[0].Mode)
	assert.Equal(t, uint64(9), tiles[0].Seed)
	assert.Equal(t, 64, tiles[1].InstanceCount)
	assert.Zero(t, tiles[1].WindSpeed)
	assert.Equal(t, float32(16), tiles[1].Width)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading config file")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.ErrorContains(t, ParseConfig([]byte("window: ["), cfg), "parsing config file")

	require.NoError(t, ParseConfig([]byte("grass:\n  tiles:\n    - instance_count: 0\n"), cfg))
	_, err = cfg.TileConfigs()
	assert.ErrorIs(t, err, core.ErrConfiguration)
	assert.ErrorContains(t, err, "grass.tiles[0]")

	require.NoError(t, ParseConfig([]byte("grass:\n  tiles:\n    - mode: sideways\n"), cfg))
	_, err = cfg.TileConfigs()
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestConfigModule_AppliesCameraLightAndTiles(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.NoError(t, ParseConfig([]byte(`
camera:
  position: [1, 2, 3]
  yaw: 90
light:
  radius: 42
grass:
  tiles:
    - field_resolution: 64
    - field_resolution: 64
      position: [20, 0, 0]
`), cfg))

	app, _ := newHeadlessApp(t, ConfigModule{Config: cfg})
	state := Resource[DeviceState](app)
	assert.Equal(t, mgl32.Vec3{1, 2, 3}, state.Camera.Position)
	assert.Equal(t, float32(90), state.Camera.Yaw)
	assert.Equal(t, float32(42), state.Light.Radius)

	app.Step()
	assert.Equal(t, 2, Resource[GrassState](app).Len())
}
