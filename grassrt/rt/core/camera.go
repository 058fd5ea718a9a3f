package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Camera is a yaw/pitch fly camera in a Y-up world. Angles are in degrees.
type Camera struct {
	Position    mgl32.Vec3
	Yaw         float32
	Pitch       float32
	Fov         float32
	Near        float32
	Far         float32
	Speed       float32
	Sensitivity float32
}

func NewCamera() *Camera {
	return &Camera{
		Position:    mgl32.Vec3{-60, 40, 60},
		Yaw:         315,
		Pitch:       -15,
		Fov:         60,
		Near:        0.1,
		Far:         500,
		Speed:       10.0,
		Sensitivity: 0.1,
	}
}

func (c *Camera) GetForward() mgl32.Vec3 {
	yaw := float64(mgl32.DegToRad(c.Yaw))
	pitch := float64(mgl32.DegToRad(c.Pitch))
	return mgl32.Vec3{
		float32(math.Cos(pitch) * math.Sin(yaw)),
		float32(math.Sin(pitch)),
		float32(-math.Cos(pitch) * math.Cos(yaw)),
	}.Normalize()
}

func (c *Camera) GetRight() mgl32.Vec3 {
	return c.GetForward().Cross(mgl32.Vec3{0, 1, 0}).Normalize()
}

func (c *Camera) GetViewMatrix() mgl32.Mat4 {
	eye := c.Position
	return mgl32.LookAtV(eye, eye.Add(c.GetForward()), mgl32.Vec3{0, 1, 0})
}

func (c *Camera) GetProjectionMatrix(aspect float32) mgl32.Mat4 {
	if aspect <= 0 {
		aspect = 1
	}
	return mgl32.Perspective(mgl32.DegToRad(c.Fov), aspect, c.Near, c.Far)
}

// Move translates the camera in its local frame: x=right, y=up, z=forward.
func (c *Camera) Move(dir mgl32.Vec3, dt float32) {
	step := c.GetRight().Mul(dir.X()).
		Add(mgl32.Vec3{0, dir.Y(), 0}).
		Add(c.GetForward().Mul(dir.Z()))
	c.Position = c.Position.Add(step.Mul(c.Speed * dt))
}

// Look applies a mouse delta, clamping pitch short of the poles.
func (c *Camera) Look(dx, dy float32) {
	c.Yaw += dx * c.Sensitivity
	c.Pitch = mgl32.Clamp(c.Pitch-dy*c.Sensitivity, -89, 89)
}

// CameraPosition lets a Camera serve as a tile's camera provider.
func (c *Camera) CameraPosition() mgl32.Vec3 { return c.Position }
