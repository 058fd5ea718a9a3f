package core

import "github.com/go-gl/mathgl/mgl32"

// PointLight is the single light fed to the grass shader.
type PointLight struct {
	Position mgl32.Vec3
	Radius   float32
	Colour   mgl32.Vec4
}

func DefaultPointLight() PointLight {
	return PointLight{
		Position: mgl32.Vec3{-200, 60, -200},
		Radius:   1000,
		Colour:   mgl32.Vec4{1, 1, 1, 1},
	}
}
