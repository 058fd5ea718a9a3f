package meadow

import (
	"github.com/go-gl/mathgl/mgl32"
)

// FlyingCamera is the movement intent for DeviceState.Camera: Move is in
// the camera's local frame (x right, y up, z forward), Look is a cursor
// delta in pixels.
type FlyingCamera struct {
	Move mgl32.Vec3
	Look mgl32.Vec2
}

// FlyingCameraModule drives the shared camera. When an Input resource is
// present, WASD, Space, Control and the captured cursor feed it.
type FlyingCameraModule struct{}

func (m FlyingCameraModule) Install(app *App, cmd *Commands) {
	cmd.AddResources(&FlyingCamera{})
	if Resource[Input](app) != nil {
		app.UseSystem(
			System(flyingCameraInputSystem).
				InStage(Update).
				RunAlways(),
		)
	}
	app.UseSystem(
		System(flyingCameraControlSystem).
			InStage(Update).
			RunAlways(),
	)
}

func flyingCameraInputSystem(input *Input, fly *FlyingCamera) {
	fly.Move = mgl32.Vec3{}
	axis := func(pos, neg int) float32 {
		var v float32
		if input.Pressed[pos] {
			v++
		}
		if input.Pressed[neg] {
			v--
		}
		return v
	}
	fly.Move[0] = axis(KeyD, KeyA)
	fly.Move[1] = axis(KeySpace, KeyControl)
	fly.Move[2] = axis(KeyW, KeyS)

	fly.Look = mgl32.Vec2{}
	if input.MouseCaptured {
		fly.Look = mgl32.Vec2{float32(input.MouseDeltaX), float32(input.MouseDeltaY)}
	}
}

func flyingCameraControlSystem(fly *FlyingCamera, state *DeviceState, t *Time) {
	dt := t.DtSeconds()
	if dt <= 0 || state.Camera == nil {
		return
	}
	if fly.Look[0] != 0 || fly.Look[1] != 0 {
		state.Camera.Look(fly.Look[0], fly.Look[1])
	}
	if fly.Move.Len() > 0 {
		state.Camera.Move(fly.Move.Normalize(), dt)
	}
}
