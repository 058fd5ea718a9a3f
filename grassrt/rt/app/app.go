package app

import (
	"fmt"

	"github.com/gekko3d/meadow/grassrt/rt/core"
	"github.com/gekko3d/meadow/grassrt/rt/device"
	"github.com/gekko3d/meadow/grassrt/rt/shaders"
	"github.com/gekko3d/meadow/grassrt/rt/tile"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"
)

type App struct {
	Window   *glfw.Window
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Surface  *wgpu.Surface
	Config   *wgpu.SurfaceConfiguration

	Ctx        *device.WGPU
	ClearColor wgpu.Color
	Camera     *core.Camera
	Light      core.PointLight
	Tiles      []*tile.Tile
	Profiler   *Profiler
	Logger     core.Logger

	LastTime      float64
	MouseCaptured bool
	DebugMode     bool

	FrameCount int
	FPS        float64
	FPSTime    float64
}

func NewApp(window *glfw.Window, logger core.Logger) *App {
	if logger == nil {
		logger = core.NopLogger()
	}
	return &App{
		Window:     window,
		ClearColor: wgpu.Color{R: 0.45, G: 0.62, B: 0.85, A: 1},
		Camera:     core.NewCamera(),
		Light:      core.DefaultPointLight(),
		Profiler:   NewProfiler(),
		Logger:     logger,
	}
}

func (a *App) Init() error {
	a.Instance = wgpu.CreateInstance(nil)
	a.Surface = a.Instance.CreateSurface(GetSurfaceDescriptor(a.Window))

	adapter, err := a.Instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: a.Surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return fmt.Errorf("request adapter: %w", err)
	}
	a.Adapter = adapter

	a.Device, err = adapter.RequestDevice(nil)
	if err != nil {
		return fmt.Errorf("request device: %w", err)
	}

	width, height := a.Window.GetFramebufferSize()
	caps := a.Surface.GetCapabilities(adapter)
	a.Config = &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      caps.Formats[0],
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   caps.AlphaModes[0],
	}
	a.Surface.Configure(adapter, a.Device, a.Config)

	a.Ctx = device.NewWGPU(a.Device,
		device.WithSurface(a.Surface, adapter, a.Config),
		device.WithClearColor(a.ClearColor),
		device.WithValidator(shaders.Validator(a.Logger)),
		device.WithWGPULogger(a.Logger),
	)
	a.LastTime = glfw.GetTime()
	return nil
}

// AddTile builds a tile on the window's device, watched by the app camera.
func (a *App) AddTile(cfg tile.Config, opts ...tile.Option) (*tile.Tile, error) {
	opts = append([]tile.Option{
		tile.WithCamera(a.Camera),
		tile.WithAspect(a.Aspect),
		tile.WithLogger(a.Logger),
	}, opts...)
	t, err := tile.New(a.Ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	a.Tiles = append(a.Tiles, t)
	a.Profiler.SetCount("Tiles", len(a.Tiles))
	a.Profiler.SetCount("Instances", a.instanceCount())
	return t, nil
}

// RemoveTile releases t and stops drawing it.
func (a *App) RemoveTile(t *tile.Tile) error {
	for i, cur := range a.Tiles {
		if cur == t {
			a.Tiles = append(a.Tiles[:i], a.Tiles[i+1:]...)
			break
		}
	}
	a.Profiler.SetCount("Tiles", len(a.Tiles))
	a.Profiler.SetCount("Instances", a.instanceCount())
	return t.Release()
}

func (a *App) instanceCount() int {
	n := 0
	for _, t := range a.Tiles {
		n += t.Count()
	}
	return n
}

func (a *App) Aspect() float32 {
	if a.Config == nil || a.Config.Height == 0 {
		return 1
	}
	return float32(a.Config.Width) / float32(a.Config.Height)
}

func (a *App) Resize(w, h int) {
	if w > 0 && h > 0 {
		a.Config.Width = uint32(w)
		a.Config.Height = uint32(h)
		a.Ctx.Resize(uint32(w), uint32(h))
	}
}

// Update advances the clock, moves the camera and re-sorts every tile for
// the new camera position.
func (a *App) Update() {
	now := glfw.GetTime()
	dt := float32(now - a.LastTime)
	a.LastTime = now

	a.FrameCount++
	a.FPSTime += float64(dt)
	if a.FPSTime >= 1 {
		a.FPS = float64(a.FrameCount) / a.FPSTime
		a.FrameCount, a.FPSTime = 0, 0
		if a.DebugMode {
			a.Logger.Debugf("%.1f fps\n%s", a.FPS, a.Profiler.String())
		}
	}

	a.moveCamera(dt)

	a.Profiler.BeginScope("Sort")
	for _, t := range a.Tiles {
		if _, err := t.Sync(); err != nil {
			a.Logger.Errorf("grass tile %s: rebuild failed: %v", t.ID(), err)
		}
		if err := t.Advance(dt); err != nil {
			a.Logger.Errorf("grass tile %s: %v", t.ID(), err)
		}
	}
	a.Profiler.EndScope("Sort")
}

func (a *App) moveCamera(dt float32) {
	var dir mgl32.Vec3
	if a.Window.GetKey(glfw.KeyW) == glfw.Press {
		dir[2]++
	}
	if a.Window.GetKey(glfw.KeyS) == glfw.Press {
		dir[2]--
	}
	if a.Window.GetKey(glfw.KeyD) == glfw.Press {
		dir[0]++
	}
	if a.Window.GetKey(glfw.KeyA) == glfw.Press {
		dir[0]--
	}
	if a.Window.GetKey(glfw.KeySpace) == glfw.Press {
		dir[1]++
	}
	if a.Window.GetKey(glfw.KeyLeftControl) == glfw.Press {
		dir[1]--
	}
	if dir.Len() > 0 {
		a.Camera.Move(dir.Normalize(), dt)
	}
}

func (a *App) Render() {
	a.Profiler.BeginScope("Render")
	defer a.Profiler.EndScope("Render")

	if err := a.Ctx.BeginFrame(); err != nil {
		a.Logger.Warnf("begin frame: %v", err)
		return
	}
	for _, t := range a.Tiles {
		frame, err := t.Frame(a.Light)
		if err != nil {
			a.Logger.Errorf("%v", err)
			continue
		}
		if err := t.Draw(frame); err != nil {
			a.Logger.Errorf("grass tile %s: %v", t.ID(), err)
		}
	}
	if err := a.Ctx.EndFrame(); err != nil {
		a.Logger.Warnf("end frame: %v", err)
	}
}

// Close releases every tile, then the device objects in reverse order of
// creation.
func (a *App) Close() {
	for _, t := range a.Tiles {
		if err := t.Release(); err != nil {
			a.Logger.Warnf("grass tile %s: release: %v", t.ID(), err)
		}
	}
	a.Tiles = nil
	if a.Ctx != nil {
		a.Ctx.Close()
	}
	if a.Device != nil {
		a.Device.Release()
	}
	if a.Adapter != nil {
		a.Adapter.Release()
	}
	if a.Surface != nil {
		a.Surface.Release()
	}
	if a.Instance != nil {
		a.Instance.Release()
	}
}

func GetSurfaceDescriptor(w *glfw.Window) *wgpu.SurfaceDescriptor {
	return wgpuglfw.GetSurfaceDescriptor(w)
}
