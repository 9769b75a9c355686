package places

import (
	"fmt"

	"voxeltags.ai/internal/sim/mathx"
)

// Grid snaps float positions onto integer cells so that positions that went
// through lossy round trips still land on the same key.
type Grid struct {
	Resolution int
	Offset     int
}

var DefaultGrid = Grid{Resolution: 8, Offset: 4}

func (g Grid) Normalize() Grid {
	if g.Resolution <= 0 {
		g.Resolution = DefaultGrid.Resolution
	}
	return g
}

// RoughPlace is a grid cell key in block coordinates.
type RoughPlace struct {
	X, Y, Z int
}

func (r RoughPlace) String() string { return fmt.Sprintf("(%d,%d,%d)", r.X, r.Y, r.Z) }

func (g Grid) Cell(v Vec3) RoughPlace {
	g = g.Normalize()
	return RoughPlace{
		X: mathx.SnapFloat(v.X, g.Resolution, g.Offset),
		Y: mathx.SnapFloat(v.Y, g.Resolution, g.Offset),
		Z: mathx.SnapFloat(v.Z, g.Resolution, g.Offset),
	}
}
