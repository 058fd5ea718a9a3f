package meadow

import (
	"fmt"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
)

// WindowState holds the single GLFW window shared by the device and input
// modules.
type WindowState struct {
	window       *glfw.Window
	WindowWidth  int
	WindowHeight int
	windowTitle  string
	resized      bool
}

func (s *WindowState) Window() *glfw.Window { return s.window }

// TakeResize reports whether the framebuffer changed size since the last
// call.
func (s *WindowState) TakeResize() bool {
	r := s.resized
	s.resized = false
	return r
}

func createWindowState(width, height int, title string) (*WindowState, error) {
	runtime.LockOSThread()
	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("glfw init: %w", err)
	}

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.True)

	win, err := glfw.CreateWindow(width, height, title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("create window: %w", err)
	}

	s := &WindowState{
		window:       win,
		WindowWidth:  width,
		WindowHeight: height,
		windowTitle:  title,
	}
	win.SetFramebufferSizeCallback(func(_ *glfw.Window, w, h int) {
		s.WindowWidth, s.WindowHeight = w, h
		s.resized = true
	})
	return s, nil
}

func (s *WindowState) destroy() {
	if s.window != nil {
		s.window.Destroy()
		s.window = nil
	}
	glfw.Terminate()
}

// PlatformWindowModule creates the shared WindowState if none exists yet,
// polls its events each frame and quits the App when it is closed.
type PlatformWindowModule struct {
	Width  int
	Height int
	Title  string
}

func (m PlatformWindowModule) Install(app *App, cmd *Commands) {
	ensureWindowResource(app, m.Width, m.Height, m.Title)
}

func ensureWindowResource(app *App, width, height int, title string) *WindowState {
	if ws := Resource[WindowState](app); ws != nil {
		return ws
	}
	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 720
	}
	if title == "" {
		title = "Meadow"
	}

	ws, err := createWindowState(width, height, title)
	if err != nil {
		app.Logger().Errorf("%v", err)
		panic(err)
	}
	app.addResources(ws)
	app.OnShutdown(ws.destroy)
	app.UseSystem(System(windowEventsSystem).InStage(Prelude).RunAlways())
	app.Logger().Infof("Created shared window (%dx%d) '%s'", width, height, title)
	return ws
}

func windowEventsSystem(s *WindowState, cmd *Commands) {
	glfw.PollEvents()
	if s.window.ShouldClose() {
		cmd.Quit()
	}
}
