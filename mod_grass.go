package meadow

import (
	"maps"
	"slices"

	"github.com/gekko3d/meadow/grassrt/rt/tile"
	"github.com/go-gl/mathgl/mgl32"
)

// TransformComponent places a grass tile. When present it overrides the
// configured tile origin; moving it rebuilds the tile.
type TransformComponent struct {
	Position mgl32.Vec3
}

// GrassTileComponent asks for a grass tile built from Handle. Updating the
// handle rebuilds the tile on the next frame.
type GrassTileComponent struct {
	Handle *tile.ConfigHandle
}

func NewGrassTile(cfg tile.Config) GrassTileComponent {
	return GrassTileComponent{Handle: tile.NewConfigHandle(cfg)}
}

// GrassRenderComponent is attached once an entity's tile is built.
type GrassRenderComponent struct {
	Tile *tile.Tile
}

// GrassState owns the built tiles. A build that failed is not retried until
// its handle version changes.
type GrassState struct {
	tiles  map[EntityId]*tile.Tile
	failed map[EntityId]uint64
	mesh   *tile.BladeMesh
}

func (s *GrassState) Tile(eid EntityId) *tile.Tile { return s.tiles[eid] }

func (s *GrassState) Len() int { return len(s.tiles) }

// Instances sums the blade count over every built tile.
func (s *GrassState) Instances() int {
	n := 0
	for _, t := range s.tiles {
		n += t.Count()
	}
	return n
}

// GrassModule builds, animates and draws one grass tile per entity holding
// a GrassTileComponent. It needs a device module installed first. Tiles
// lists configurations to spawn at install.
type GrassModule struct {
	Tiles []tile.Config
	Mesh  *tile.BladeMesh
}

func (m GrassModule) Install(app *App, cmd *Commands) {
	state := &GrassState{
		tiles:  make(map[EntityId]*tile.Tile),
		failed: make(map[EntityId]uint64),
		mesh:   m.Mesh,
	}
	cmd.AddResources(state)
	for _, cfg := range m.Tiles {
		cmd.AddEntity(NewGrassTile(cfg), TransformComponent{Position: cfg.Position})
	}

	app.UseSystem(System(grassSyncSystem).InStage(Update).RunAlways())
	app.UseSystem(System(grassAdvanceSystem).InStage(PostUpdate).RunAlways())
	app.UseSystem(System(grassDrawSystem).InStage(Render).RunAlways())
	app.OnShutdown(func() { releaseGrass(app.Logger(), state) })
}

func (s *GrassState) options(dev *DeviceState, logger Logger) []tile.Option {
	opts := []tile.Option{
		tile.WithCamera(dev.Camera),
		tile.WithAspect(dev.Aspect),
		tile.WithLogger(logger),
	}
	if s.mesh != nil {
		opts = append(opts, tile.WithMesh(*s.mesh))
	}
	return opts
}

func grassSyncSystem(dev *DeviceState, grass *GrassState, cmd *Commands) {
	logger := cmd.Logger()
	seen := make(set[EntityId], len(grass.tiles))

	MakeQuery2[GrassTileComponent, TransformComponent](cmd).Map(func(eid EntityId, g *GrassTileComponent, tr *TransformComponent) bool {
		seen[eid] = struct{}{}
		if g.Handle == nil {
			g.Handle = tile.NewConfigHandle(tile.DefaultConfig())
		}
		if tr != nil && g.Handle.Snapshot().Position != tr.Position {
			pos := tr.Position
			g.Handle.Update(func(c *tile.Config) { c.Position = pos })
		}

		version := g.Handle.Version()
		if v, ok := grass.failed[eid]; ok && v == version {
			return true
		}

		t, ok := grass.tiles[eid]
		if !ok || t.Handle() != g.Handle {
			if ok {
				releaseTile(logger, t)
				delete(grass.tiles, eid)
			}
			built, err := tile.NewFromHandle(dev.Ctx, g.Handle, grass.options(dev, logger)...)
			if err != nil {
				logger.Errorf("entity %v: %v", eid, err)
				grass.failed[eid] = version
				if ok {
					cmd.RemoveComponents(eid, GrassRenderComponent{})
				}
				return true
			}
			delete(grass.failed, eid)
			grass.tiles[eid] = built
			cmd.AddComponents(eid, GrassRenderComponent{Tile: built})
			logger.Infof("entity %v: grass tile %s built with %d blades", eid, built.ID(), built.Count())
			return true
		}

		rebuilt, err := t.Sync()
		if err != nil {
			logger.Errorf("entity %v: rebuild failed: %v", eid, err)
			grass.failed[eid] = version
			return true
		}
		if rebuilt {
			delete(grass.failed, eid)
			logger.Debugf("entity %v: grass tile %s rebuilt", eid, t.ID())
		}
		return true
	}, TransformComponent{})

	for _, eid := range slices.Collect(maps.Keys(grass.tiles)) {
		if _, ok := seen[eid]; !ok {
			releaseTile(logger, grass.tiles[eid])
			delete(grass.tiles, eid)
		}
	}
	for eid := range grass.failed {
		if _, ok := seen[eid]; !ok {
			delete(grass.failed, eid)
		}
	}
}

func grassAdvanceSystem(grass *GrassState, t *Time, cmd *Commands) {
	dt := t.DtSeconds()
	for eid, gt := range grass.tiles {
		if err := gt.Advance(dt); err != nil {
			cmd.Logger().Errorf("entity %v: %v", eid, err)
		}
	}
}

func grassDrawSystem(dev *DeviceState, grass *GrassState, cmd *Commands) {
	if !dev.InFrame() {
		return
	}
	for eid, gt := range grass.tiles {
		frame, err := gt.Frame(dev.Light)
		if err != nil {
			cmd.Logger().Errorf("entity %v: %v", eid, err)
			continue
		}
		if err := gt.Draw(frame); err != nil {
			cmd.Logger().Errorf("entity %v: %v", eid, err)
		}
	}
}

func releaseTile(logger Logger, t *tile.Tile) {
	if err := t.Release(); err != nil {
		logger.Warnf("grass tile %s: release: %v", t.ID(), err)
	}
}

func releaseGrass(logger Logger, grass *GrassState) {
	for eid, t := range grass.tiles {
		releaseTile(logger, t)
		delete(grass.tiles, eid)
	}
}
