package meadow

import (
	"github.com/gekko3d/meadow/grassrt/rt/core"
	"github.com/gekko3d/meadow/grassrt/rt/device"
	"github.com/gekko3d/meadow/grassrt/rt/shaders"
)

// DeviceName identifies a concrete device module.
type DeviceName string

const (
	DeviceSoft    DeviceName = "soft"
	DeviceGrassRT DeviceName = "grassrt"
)

// DeviceState is the resource every grass system draws through. Device
// modules fill it in; Camera and Light are shared by all tiles.
type DeviceState struct {
	Backend DeviceName
	Ctx     device.Context
	Camera  *core.Camera
	Light   core.PointLight
	Aspect  func() float32

	inFrame bool
}

// InFrame reports whether a frame is open for draws.
func (s *DeviceState) InFrame() bool { return s.inFrame }

func newDeviceState(name DeviceName, ctx device.Context) *DeviceState {
	return &DeviceState{
		Backend: name,
		Ctx:     ctx,
		Camera:  core.NewCamera(),
		Light:   core.DefaultPointLight(),
		Aspect:  func() float32 { return 1 },
	}
}

// UseDevice installs exactly one device module.
func (app *App) UseDevice(name DeviceName, mod Module) *App {
	ensureSingleDevice(app, string(name))
	app.Logger().Infof("Device selected: %s", name)
	app.UseModules(mod)
	return app
}

// UseSoftDevice selects the host device. It needs no window and is what
// tests and headless runs use.
func (app *App) UseSoftDevice(opts ...device.SoftOption) *App {
	return app.UseDevice(DeviceSoft, SoftDeviceModule{Options: opts})
}

// UseGrassRT selects the WebGPU device and opens a window for it.
func (app *App) UseGrassRT(width, height int, title string) *App {
	return app.UseDevice(DeviceGrassRT, GrassRtModule{
		WindowWidth:  width,
		WindowHeight: height,
		WindowTitle:  title,
	})
}

// SoftDeviceModule provides a DeviceState backed by device.Soft. With
// ValidateShaders set, every WGSL source is compiled through naga before a
// kernel or pipeline is created.
type SoftDeviceModule struct {
	Options         []device.SoftOption
	ValidateShaders bool
}

func (m SoftDeviceModule) Install(app *App, cmd *Commands) {
	ensureSingleDevice(app, string(DeviceSoft))

	logger := app.Logger()
	opts := append([]device.SoftOption{device.WithSoftLogger(logger)}, m.Options...)
	if m.ValidateShaders {
		opts = append(opts, device.WithCompiler(shaders.Validator(logger)))
	}
	cmd.AddResources(newDeviceState(DeviceSoft, device.NewSoft(opts...)))
	installFrameSystems(app)
}

func installFrameSystems(app *App) {
	app.UseSystem(System(beginFrameSystem).InStage(PreRender).RunAlways())
	app.UseSystem(System(endFrameSystem).InStage(PostRender).RunAlways())
}

func beginFrameSystem(state *DeviceState, cmd *Commands) {
	if state.inFrame {
		return
	}
	if err := state.Ctx.BeginFrame(); err != nil {
		// A lost or resized surface skips this frame's draws.
		cmd.Logger().Warnf("begin frame: %v", err)
		return
	}
	state.inFrame = true
}

func endFrameSystem(state *DeviceState, cmd *Commands) {
	if !state.inFrame {
		return
	}
	state.inFrame = false
	if err := state.Ctx.EndFrame(); err != nil {
		cmd.Logger().Warnf("end frame: %v", err)
	}
}
