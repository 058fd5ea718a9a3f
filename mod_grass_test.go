package meadow

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/gekko3d/meadow/grassrt/rt/device"
	"github.com/gekko3d/meadow/grassrt/rt/tile"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallTileConfig() tile.Config {
	cfg := tile.DefaultConfig()
	cfg.FieldResolution = 64
	return cfg
}

func newHeadlessApp(t *testing.T, modules ...Module) (*App, *device.Soft) {
	t.Helper()
	app := NewApp()
	app.UseModules(TimeModule{FixedDt: 16 * time.Millisecond})
	app.UseSoftDevice()
	app.UseModules(modules...)
	t.Cleanup(app.Shutdown)

	soft, ok := Resource[DeviceState](app).Ctx.(*device.Soft)
	require.True(t, ok)
	return app, soft
}

func renderedTile(t *testing.T, app *App, eid EntityId) *tile.Tile {
	t.Helper()
	var found *tile.Tile
	MakeQuery1[GrassRenderComponent](app.Commands()).Map(func(id EntityId, r *GrassRenderComponent) bool {
		if id == eid {
			found = r.Tile
			return false
		}
		return true
	})
	return found
}

func TestGrassModule_BuildsSortsAndDrawsEachFrame(t *testing.T) {
	app, soft := newHeadlessApp(t, GrassModule{})
	eid := app.Commands().AddEntity(NewGrassTile(smallTileConfig()))
	app.FlushCommands()

	require.True(t, app.Step())
	grass := Resource[GrassState](app)
	gt := grass.Tile(eid)
	require.NotNil(t, gt)
	assert.Same(t, gt, renderedTile(t, app, eid))
	assert.Equal(t, 256, grass.Instances())

	app.Step()
	draws := soft.Draws()
	require.Len(t, draws, 2)
	assert.Equal(t, uint32(256), draws[1].InstanceCount)
	assert.InDelta(t, 0.032, gt.Elapsed(), 1e-6)

	keys, err := gt.ReadSortedKeys()
	require.NoError(t, err)
	for i := 1; i < len(keys); i++ {
		require.False(t, keys[i-1].Greater(keys[i]))
	}
}

func TestGrassModule_SpawnsConfiguredTiles(t *testing.T) {
	a, b := smallTileConfig(), smallTileConfig()
	b.Position = mgl32.Vec3{20, 0, 0}
	app, _ := newHeadlessApp(t, GrassModule{Tiles: []tile.Config{a, b}})

	app.Step()
	assert.Equal(t, 2, Resource[GrassState](app).Len())
}

func TestGrassModule_HandleUpdateRebuildsInPlace(t *testing.T) {
	app, _ := newHeadlessApp(t, GrassModule{})
	comp := NewGrassTile(smallTileConfig())
	eid := app.Commands().AddEntity(comp)
	app.FlushCommands()
	app.Step()

	gt := Resource[GrassState](app).Tile(eid)
	id := gt.ID()
	comp.Handle.Update(func(c *tile.Config) { c.InstanceCount = 64 })
	app.Step()

	assert.Same(t, gt, Resource[GrassState](app).Tile(eid))
	assert.Equal(t, id, gt.ID())
	assert.Equal(t, 64, gt.Count())
}

func TestGrassModule_FailedBuildWaitsForNewVersion(t *testing.T) {
	app, _ := newHeadlessApp(t, GrassModule{})
	var errs bytes.Buffer
	app.Commands().AddResources(NewWriterLogger("", false, io.Discard, &errs))
	bad := smallTileConfig()
	bad.InstanceCount = 0
	comp := NewGrassTile(bad)
	eid := app.Commands().AddEntity(comp)
	app.FlushCommands()

	app.Step()
	grass := Resource[GrassState](app)
	assert.Nil(t, grass.Tile(eid))
	assert.Equal(t, comp.Handle.Version(), grass.failed[eid])

	require.Equal(t, 1, strings.Count(errs.String(), "ERROR"))
	app.Step()
	assert.Equal(t, 1, strings.Count(errs.String(), "ERROR"), "failed build retried without a config change")

	comp.Handle.Update(func(c *tile.Config) { c.InstanceCount = 256 })
	app.Step()
	require.NotNil(t, grass.Tile(eid))
	assert.NotContains(t, grass.failed, eid)
}

func TestGrassModule_FailedRebuildKeepsOldTile(t *testing.T) {
	app, _ := newHeadlessApp(t, GrassModule{})
	comp := NewGrassTile(smallTileConfig())
	eid := app.Commands().AddEntity(comp)
	app.FlushCommands()
	app.Step()

	grass := Resource[GrassState](app)
	gt := grass.Tile(eid)
	comp.Handle.Update(func(c *tile.Config) { c.Width = -1 })
	app.Step()

	assert.Same(t, gt, grass.Tile(eid))
	assert.Equal(t, float32(16), gt.Config().Width)
	assert.Equal(t, comp.Handle.Version(), grass.failed[eid])
}

func TestGrassModule_FailedHandleSwapDropsRenderComponent(t *testing.T) {
	app, soft := newHeadlessApp(t, GrassModule{})
	eid := app.Commands().AddEntity(NewGrassTile(smallTileConfig()))
	app.FlushCommands()
	app.Step()

	grass := Resource[GrassState](app)
	old := grass.Tile(eid)
	require.NotNil(t, old)

	bad := smallTileConfig()
	bad.InstanceCount = 0
	app.Commands().AddComponents(eid, NewGrassTile(bad))
	app.FlushCommands()
	app.Step()

	assert.True(t, old.Released())
	assert.Nil(t, grass.Tile(eid))
	assert.Nil(t, renderedTile(t, app, eid))
	assert.Zero(t, soft.LiveResources())

	app.Commands().AddComponents(eid, NewGrassTile(smallTileConfig()))
	app.FlushCommands()
	app.Step()

	rebuilt := grass.Tile(eid)
	require.NotNil(t, rebuilt)
	assert.Same(t, rebuilt, renderedTile(t, app, eid))
}

func TestGrassModule_TransformMovesTile(t *testing.T) {
	app, _ := newHeadlessApp(t, GrassModule{})
	eid := app.Commands().AddEntity(NewGrassTile(smallTileConfig()), TransformComponent{Position: mgl32.Vec3{5, 0, 5}})
	app.FlushCommands()
	app.Step()

	gt := Resource[GrassState](app).Tile(eid)
	assert.Equal(t, mgl32.Vec3{5, 0, 5}, gt.Config().Position)

	app.Commands().AddComponents(eid, TransformComponent{Position: mgl32.Vec3{-5, 1, 0}})
	app.FlushCommands()
	app.Step()
	assert.Equal(t, mgl32.Vec3{-5, 1, 0}, gt.Config().Position)
}

func TestGrassModule_ReleasesRemovedAndRemainingTiles(t *testing.T) {
	app, soft := newHeadlessApp(t, GrassModule{})
	cmd := app.Commands()
	first := cmd.AddEntity(NewGrassTile(smallTileConfig()))
	cmd.AddEntity(NewGrassTile(smallTileConfig()))
	app.FlushCommands()
	app.Step()

	grass := Resource[GrassState](app)
	gone := grass.Tile(first)
	cmd.RemoveEntity(first)
	app.FlushCommands()
	app.Step()

	assert.True(t, gone.Released())
	assert.Equal(t, 1, grass.Len())

	app.Shutdown()
	assert.Zero(t, grass.Len())
	assert.Zero(t, soft.LiveResources())
}

func TestDevice_SingleDeviceGuard(t *testing.T) {
	app := NewApp()
	app.UseSoftDevice()
	assert.NotPanics(t, func() { ensureSingleDevice(app, string(DeviceSoft)) })
	assert.Panics(t, func() { ensureSingleDevice(app, string(DeviceGrassRT)) })
}

func TestFlyingCamera_MovesSharedCamera(t *testing.T) {
	app, _ := newHeadlessApp(t, FlyingCameraModule{})
	cam := Resource[DeviceState](app).Camera
	start := cam.Position
	yaw := cam.Yaw

	fly := Resource[FlyingCamera](app)
	fly.Move = mgl32.Vec3{0, 1, 0}
	fly.Look = mgl32.Vec2{10, 0}
	app.Step()

	assert.InDelta(t, start.Y()+cam.Speed*0.016, cam.Position.Y(), 1e-4)
	assert.InDelta(t, yaw+10*cam.Sensitivity, cam.Yaw, 1e-4)
}
