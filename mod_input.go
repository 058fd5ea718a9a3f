package meadow

import (
	"github.com/go-gl/glfw/v3.3/glfw"
)

const (
	KeyA int = iota
	KeyD
	KeyR
	KeyS
	KeyW
	KeySpace
	KeyEscape
	KeyTab
	KeyF1
	KeyShift
	KeyControl
	MouseButtonLeft
	MouseButtonRight
	keyCount
)

type InputModule struct{}

type Input struct {
	Pressed      [keyCount]bool
	JustPressed  [keyCount]bool
	JustReleased [keyCount]bool

	MouseX, MouseY           float64
	MouseDeltaX, MouseDeltaY float64
	MouseCaptured            bool
}

func (mod InputModule) Install(app *App, cmd *Commands) {
	cmd.AddResources(&Input{})
	app.UseSystem(
		System(inputSystem).
			InStage(PreUpdate).
			RunAlways(),
	)
}

// press folds one poll of a key into the pressed and edge arrays.
func (input *Input) press(key int, down bool) {
	input.JustPressed[key] = down && !input.Pressed[key]
	input.JustReleased[key] = !down && input.Pressed[key]
	input.Pressed[key] = down
}

// moveMouse updates the cursor delta. The delta is zero unless the cursor
// is captured.
func (input *Input) moveMouse(x, y float64) {
	if input.MouseCaptured {
		input.MouseDeltaX = x - input.MouseX
		input.MouseDeltaY = y - input.MouseY
	} else {
		input.MouseDeltaX, input.MouseDeltaY = 0, 0
	}
	input.MouseX, input.MouseY = x, y
}

func inputSystem(s *WindowState, input *Input) {
	for key, glfwKey := range keyToGlfw {
		input.press(key, s.window.GetKey(glfwKey) == glfw.Press)
	}
	input.press(MouseButtonLeft, s.window.GetMouseButton(glfw.MouseButtonLeft) == glfw.Press)
	input.press(MouseButtonRight, s.window.GetMouseButton(glfw.MouseButtonRight) == glfw.Press)

	if input.JustPressed[KeyTab] {
		input.MouseCaptured = !input.MouseCaptured
		if input.MouseCaptured {
			s.window.SetInputMode(glfw.CursorMode, glfw.CursorDisabled)
		} else {
			s.window.SetInputMode(glfw.CursorMode, glfw.CursorNormal)
		}
	}
	input.moveMouse(s.window.GetCursorPos())

	if input.JustPressed[KeyEscape] {
		s.window.SetShouldClose(true)
	}
}

var keyToGlfw = map[int]glfw.Key{
	KeyA:       glfw.KeyA,
	KeyD:       glfw.KeyD,
	KeyR:       glfw.KeyR,
	KeyS:       glfw.KeyS,
	KeyW:       glfw.KeyW,
	KeySpace:   glfw.KeySpace,
	KeyEscape:  glfw.KeyEscape,
	KeyTab:     glfw.KeyTab,
	KeyF1:      glfw.KeyF1,
	KeyShift:   glfw.KeyLeftShift,
	KeyControl: glfw.KeyLeftControl,
}
