package meadow

import (
	"time"

	rtapp "github.com/gekko3d/meadow/grassrt/rt/app"
)

// GrassRtModule opens the shared window, creates a WebGPU device on it and
// exposes it as the DeviceState resource.
type GrassRtModule struct {
	WindowWidth  int
	WindowHeight int
	WindowTitle  string
	DebugMode    bool
}

// GrassRtState keeps the windowed runtime reachable for systems that need
// its profiler or surface.
type GrassRtState struct {
	RtApp *rtapp.App

	lastReport time.Time
}

func (m GrassRtModule) Install(app *App, cmd *Commands) {
	ensureSingleDevice(app, string(DeviceGrassRT))
	ws := ensureWindowResource(app, m.WindowWidth, m.WindowHeight, m.WindowTitle)

	rt := rtapp.NewApp(ws.Window(), app.Logger())
	rt.DebugMode = m.DebugMode
	if err := rt.Init(); err != nil {
		app.Logger().Errorf("grassrt init: %v", err)
		panic(err)
	}
	app.OnShutdown(rt.Close)

	state := newDeviceState(DeviceGrassRT, rt.Ctx)
	state.Camera = rt.Camera
	state.Light = rt.Light
	state.Aspect = rt.Aspect

	cmd.AddResources(state, &GrassRtState{RtApp: rt, lastReport: time.Now()})
	installFrameSystems(app)
	app.UseSystem(System(grassRtResizeSystem).InStage(PreRender).RunAlways())
	app.UseSystem(System(grassRtProfilerSystem).InStage(Finale).RunAlways())
}

func grassRtResizeSystem(ws *WindowState, rt *GrassRtState) {
	if ws.TakeResize() {
		rt.RtApp.Resize(ws.WindowWidth, ws.WindowHeight)
	}
}

func grassRtProfilerSystem(rt *GrassRtState, cmd *Commands) {
	if !rt.RtApp.DebugMode || time.Since(rt.lastReport) < time.Second {
		return
	}
	rt.lastReport = time.Now()
	cmd.Logger().Debugf("grassrt profile\n%s", rt.RtApp.Profiler.String())
	rt.RtApp.Profiler.Reset()
}
