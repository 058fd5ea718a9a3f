// Package tile owns one patch of grass: its instance buffers, baked fields,
// compiled kernels and renderer. A tile is built whole by New and torn down
// whole by Release; nothing in between is reallocated.
package tile

import (
	"context"
	"errors"
	"fmt"

	"github.com/gekko3d/meadow/grassrt/rt/core"
	"github.com/gekko3d/meadow/grassrt/rt/device"
	"github.com/gekko3d/meadow/grassrt/rt/kernels"
	"github.com/gekko3d/meadow/grassrt/rt/noise"
	"github.com/gekko3d/meadow/grassrt/rt/placement"
	"github.com/gekko3d/meadow/grassrt/rt/sorter"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// LargeSortStageWarning is the stage count above which New warns that the
// per-frame sort is getting expensive (more than 2^20 keys).
const LargeSortStageWarning = 210

// Field sampling frequencies, in cycles per world unit of the field tile.
const (
	clusterCellsPerTile = 8
	rotationHintFreq    = 0.15
	windFreq            = 0.08
	variationFreq       = 0.1
)

// CameraProvider supplies the position depth keys are measured from.
type CameraProvider interface {
	CameraPosition() mgl32.Vec3
}

// ViewCamera can also produce the matrices for Frame.
type ViewCamera interface {
	CameraProvider
	GetViewMatrix() mgl32.Mat4
	GetProjectionMatrix(aspect float32) mgl32.Mat4
}

// StaticCamera is a fixed camera position.
type StaticCamera mgl32.Vec3

func (c StaticCamera) CameraPosition() mgl32.Vec3 { return mgl32.Vec3(c) }

type options struct {
	camera CameraProvider
	aspect func() float32
	logger core.Logger
	mesh   BladeMesh
	id     string
}

type Option func(*options)

func WithCamera(c CameraProvider) Option {
	return func(o *options) { o.camera = c }
}

// WithAspect sets the viewport aspect ratio source used by Frame.
func WithAspect(fn func() float32) Option {
	return func(o *options) { o.aspect = fn }
}

func WithLogger(l core.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithMesh(m BladeMesh) Option {
	return func(o *options) { o.mesh = m }
}

// WithID fixes the tile id instead of generating one.
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}

type instanceBuffers struct {
	positions device.Buffer
	rotations device.Buffer
	uvs       device.Buffer
	keys      device.Buffer
}

// Tile is a single grass patch. It is not safe for concurrent use.
type Tile struct {
	id   string
	dev  device.Context
	cfg  Config
	grid placement.Grid
	opts []Option
	o    options

	count  int
	padded int

	resources []device.Resource
	inst      instanceBuffers
	cluster   device.Image
	wind      device.Image
	generate  device.Kernel
	depthKey  device.Kernel
	sorter    *sorter.Sorter
	renderer  *Renderer

	elapsed   float32
	windPhase float32

	handle        *ConfigHandle
	handleVersion uint64

	released bool
}

// New builds a complete tile. On any error every resource created so far is
// released and no kernel has been dispatched unless all of them compiled.
func New(dev device.Context, cfg Config, opts ...Option) (*Tile, error) {
	o := options{
		camera: StaticCamera{},
		logger: core.NopLogger(),
		mesh:   DefaultBladeMesh(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}

	grid, err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	t := &Tile{
		id:     o.id,
		dev:    dev,
		cfg:    cfg,
		grid:   grid,
		opts:   opts,
		o:      o,
		count:  grid.Count(),
		padded: sorter.PadCount(grid.Count()),
	}
	if n := sorter.StageCount(t.padded); n > LargeSortStageWarning {
		o.logger.Warnf("grass tile %s: %d keys need %d sort stages per frame", t.id, t.padded, n)
	}

	if err := t.build(); err != nil {
		if rerr := t.releaseAll(); rerr != nil {
			o.logger.Errorf("grass tile %s: cleanup after failed build: %v", t.id, rerr)
		}
		return nil, fmt.Errorf("grass tile %s: %w", t.id, err)
	}

	o.logger.Infof("grass tile %s: %dx%d blades (%d of %d requested), %s mode, sort length %d",
		t.id, grid.BladesX, grid.BladesZ, t.count, cfg.InstanceCount, cfg.Mode, t.padded)
	return t, nil
}

// NewFromHandle builds a tile from the handle's current snapshot and keeps
// the handle for Sync.
func NewFromHandle(dev device.Context, h *ConfigHandle, opts ...Option) (*Tile, error) {
	version := h.Version()
	t, err := New(dev, h.Snapshot(), opts...)
	if err != nil {
		return nil, err
	}
	t.handle, t.handleVersion = h, version
	return t, nil
}

func (t *Tile) track(r device.Resource) { t.resources = append(t.resources, r) }

func (t *Tile) label(what string) string { return "grass " + t.id[:min(8, len(t.id))] + " " + what }

func (t *Tile) build() error {
	var err error

	// Compile everything before the first dispatch.
	if t.generate, err = t.dev.CreateKernel(kernels.Generate()); err != nil {
		return err
	}
	t.track(t.generate)
	if t.depthKey, err = t.dev.CreateKernel(kernels.DepthKey()); err != nil {
		return err
	}
	t.track(t.depthKey)
	if t.renderer, err = newRenderer(t.dev, t.label("mesh"), t.o.mesh, t.track); err != nil {
		return err
	}

	buffer := func(what string, size int, usage device.BufferUsage) (device.Buffer, error) {
		b, err := t.dev.CreateBuffer(device.BufferDescriptor{Label: t.label(what), Size: uint64(size), Usage: usage})
		if err != nil {
			return nil, err
		}
		t.track(b)
		return b, nil
	}
	n := max(t.count, 1)
	if t.inst.positions, err = buffer("positions", n*PositionStride, device.BufferUsageStorage|device.BufferUsageCopyDst); err != nil {
		return err
	}
	if t.inst.rotations, err = buffer("rotations", n*RotationStride, device.BufferUsageStorage|device.BufferUsageCopyDst); err != nil {
		return err
	}
	if t.inst.uvs, err = buffer("uvs", n*UVStride, device.BufferUsageStorage|device.BufferUsageCopyDst); err != nil {
		return err
	}
	if t.inst.keys, err = buffer("keys", t.padded*KeyStride, device.BufferUsageStorage); err != nil {
		return err
	}
	if t.sorter, err = sorter.New(t.dev, t.inst.keys, t.padded); err != nil {
		return err
	}

	if err := t.bake(); err != nil {
		return err
	}

	switch t.cfg.Mode {
	case ModeDevice:
		err = t.generateOnDevice()
	case ModePlanned:
		err = t.upload()
	}
	if err != nil {
		return err
	}
	t.dev.Barrier()

	if err := t.sortByDepth(context.Background()); err != nil {
		return err
	}
	return t.dev.Submit()
}

func (t *Tile) bake() error {
	baker := noise.NewBaker(t.cfg.FieldResolution, float64(t.cfg.FieldTileSize))
	cells := noise.NewCellular(noise.DefaultClusterSeed, clusterCellsPerTile/float64(t.cfg.FieldTileSize))
	hint := noise.NewGradient(int64(t.cfg.Seed)+1, rotationHintFreq, 2)
	clusterImg := baker.BakeCluster(cells, hint)
	windImg := baker.BakeWind(noise.NewGradient(int64(t.cfg.Seed), windFreq, 3))

	var err error
	t.cluster, err = t.dev.CreateImage(device.ImageDescriptor{
		Label:  t.label("cluster field"),
		Width:  uint32(clusterImg.Width),
		Height: uint32(clusterImg.Height),
		Format: device.ImageFormatRGBA32Float,
	}, clusterImg.Texels)
	if err != nil {
		return err
	}
	t.track(t.cluster)

	t.wind, err = t.dev.CreateImage(device.ImageDescriptor{
		Label:  t.label("wind field"),
		Width:  uint32(windImg.Width),
		Height: uint32(windImg.Height),
		Format: device.ImageFormatR32Float,
	}, windImg.Texels)
	if err != nil {
		return err
	}
	t.track(t.wind)
	return nil
}

func (t *Tile) generateOnDevice() error {
	params := kernels.GenerateParams{
		BladesX:         uint32(t.grid.BladesX),
		BladesZ:         uint32(t.grid.BladesZ),
		Count:           uint32(t.count),
		Width:           t.cfg.Width,
		Depth:           t.cfg.Depth,
		BaseHeight:      t.cfg.BaseHeight,
		ClusterStrength: t.cfg.ClusterStrength,
		BendRange:       t.cfg.BendRange,
	}
	return t.dev.Dispatch(device.DispatchDescriptor{
		Kernel: t.generate,
		Bindings: []device.Binding{
			{Slot: kernels.GenerateClusterSlot, Image: t.cluster, Access: device.AccessRead},
			{Slot: kernels.GeneratePositionSlot, Buffer: t.inst.positions, Access: device.AccessWrite},
			{Slot: kernels.GenerateRotationSlot, Buffer: t.inst.rotations, Access: device.AccessWrite},
			{Slot: kernels.GenerateUVSlot, Buffer: t.inst.uvs, Access: device.AccessWrite},
		},
		Params:    params.Bytes(),
		WorkItems: uint32(t.count),
	})
}

// upload writes host-planned records into the same buffers the generation
// kernel would fill.
func (t *Tile) upload() error {
	planner := placement.NewPlanner(t.grid, t.cfg.Seed,
		placement.WithBendRange(t.cfg.BendRange),
		placement.WithVariation(noise.NewGradient(int64(t.cfg.Seed)+2, variationFreq, 2)),
	)
	records := planner.Records()
	if len(records) == 0 {
		return nil
	}
	if err := t.dev.WriteBuffer(t.inst.positions, 0, PackPositions(records)); err != nil {
		return err
	}
	if err := t.dev.WriteBuffer(t.inst.rotations, 0, PackRotations(records)); err != nil {
		return err
	}
	return t.dev.WriteBuffer(t.inst.uvs, 0, PackUVs(t.grid, records))
}

func (t *Tile) sortByDepth(ctx context.Context) error {
	params := kernels.DepthKeyParams{
		Camera: t.o.camera.CameraPosition(),
		Origin: t.cfg.Position,
		Count:  uint32(t.count),
		Padded: uint32(t.padded),
	}
	err := t.dev.Dispatch(device.DispatchDescriptor{
		Kernel: t.depthKey,
		Bindings: []device.Binding{
			{Slot: kernels.DepthKeyPositionSlot, Buffer: t.inst.positions, Access: device.AccessRead},
			{Slot: kernels.DepthKeyKeysSlot, Buffer: t.inst.keys, Access: device.AccessWrite},
		},
		Params:    params.Bytes(),
		WorkItems: uint32(t.padded),
	})
	if err != nil {
		return fmt.Errorf("depth keys: %w", err)
	}
	t.dev.Barrier()
	return t.sorter.Sort(ctx)
}

var errReleased = errors.New("tile released")

// Advance moves the animation clock and re-sorts by the current camera
// distance. Nothing structural is rebuilt.
func (t *Tile) Advance(dt float32) error {
	return t.AdvanceContext(context.Background(), dt)
}

// AdvanceContext is Advance with a context checked before the sort starts.
func (t *Tile) AdvanceContext(ctx context.Context, dt float32) error {
	if t.released {
		return errReleased
	}
	t.elapsed += dt
	t.windPhase += dt * t.cfg.WindSpeed
	if err := t.sortByDepth(ctx); err != nil {
		return fmt.Errorf("grass tile %s: %w", t.id, err)
	}
	return t.dev.Submit()
}

// Draw issues the tile's instanced draw. The device frame must be open.
func (t *Tile) Draw(frame FrameInputs) error {
	if t.released {
		return errReleased
	}
	uniforms := t.renderer.Uniforms(frame, t.cfg, t.elapsed, t.windPhase)
	return t.renderer.DrawInstanced(&t.inst, t.wind, uniforms, t.count)
}

// Frame builds draw inputs from the tile's camera, which must be a
// ViewCamera. The aspect source defaults to 1.
func (t *Tile) Frame(light core.PointLight) (FrameInputs, error) {
	cam, ok := t.o.camera.(ViewCamera)
	if !ok {
		return FrameInputs{}, fmt.Errorf("grass tile %s: camera %T has no view matrices", t.id, t.o.camera)
	}
	aspect := float32(1)
	if t.o.aspect != nil {
		if a := t.o.aspect(); a > 0 {
			aspect = a
		}
	}
	return FrameInputs{
		View:           cam.GetViewMatrix(),
		Projection:     cam.GetProjectionMatrix(aspect),
		CameraPosition: cam.CameraPosition(),
		Light:          light,
	}, nil
}

// Reconfigure builds a full replacement tile for cfg, swaps it in and
// releases the old resources. On error the tile is unchanged.
func (t *Tile) Reconfigure(cfg Config) error {
	if t.released {
		return errReleased
	}
	opts := append(append([]Option(nil), t.opts...), WithID(t.id))
	next, err := New(t.dev, cfg, opts...)
	if err != nil {
		return err
	}
	old := *t
	handle, version := t.handle, t.handleVersion
	*t = *next
	t.opts = old.opts
	t.handle, t.handleVersion = handle, version
	t.elapsed, t.windPhase = old.elapsed, old.windPhase
	return old.releaseAll()
}

// Sync rebuilds the tile if its ConfigHandle moved since the last build.
func (t *Tile) Sync() (bool, error) {
	if t.handle == nil || t.released {
		return false, nil
	}
	version := t.handle.Version()
	if version == t.handleVersion {
		return false, nil
	}
	if err := t.Reconfigure(t.handle.Snapshot()); err != nil {
		return false, err
	}
	t.handleVersion = version
	return true, nil
}

// Release frees every device resource once. Later calls are no-ops.
func (t *Tile) Release() error {
	if t.released {
		return nil
	}
	t.released = true
	return t.releaseAll()
}

func (t *Tile) releaseAll() error {
	var errs []error
	if t.sorter != nil {
		errs = append(errs, t.sorter.Release())
		t.sorter = nil
	}
	for i := len(t.resources) - 1; i >= 0; i-- {
		errs = append(errs, t.dev.Release(t.resources[i]))
	}
	t.resources = nil
	return errors.Join(errs...)
}

// ReadInstances reads the instance buffers back. It stalls the device.
func (t *Tile) ReadInstances() ([]placement.InstanceRecord, error) {
	if t.released {
		return nil, errReleased
	}
	if err := t.dev.Submit(); err != nil {
		return nil, err
	}
	positions, err := t.dev.ReadBuffer(t.inst.positions)
	if err != nil {
		return nil, err
	}
	rotations, err := t.dev.ReadBuffer(t.inst.rotations)
	if err != nil {
		return nil, err
	}
	return UnpackInstances(positions, rotations, t.count), nil
}

// ReadSortedKeys reads the whole padded key buffer back. It stalls the
// device.
func (t *Tile) ReadSortedKeys() ([]kernels.Key, error) {
	if t.released {
		return nil, errReleased
	}
	if err := t.dev.Submit(); err != nil {
		return nil, err
	}
	data, err := t.dev.ReadBuffer(t.inst.keys)
	if err != nil {
		return nil, err
	}
	return kernels.DecodeKeys(data[:t.padded*KeyStride]), nil
}

func (t *Tile) ID() string            { return t.id }
func (t *Tile) Config() Config        { return t.cfg }
func (t *Tile) Grid() placement.Grid  { return t.grid }
func (t *Tile) Count() int            { return t.count }
func (t *Tile) PaddedCount() int      { return t.padded }
func (t *Tile) Elapsed() float32      { return t.elapsed }
func (t *Tile) WindPhase() float32    { return t.windPhase }
func (t *Tile) MaxHeight() float32    { return t.renderer.MaxHeight() }
func (t *Tile) Handle() *ConfigHandle { return t.handle }
func (t *Tile) Released() bool        { return t.released }
