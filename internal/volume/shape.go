package volume

import (
	"math"

	"github.com/annel0/voxedit/internal/vec"
)

// Shape маска формы для региональных операций
type Shape interface {
	// Bounds возвращает Box, вне которого Contains всегда false
	Bounds() vec.Box
	// Contains проверяет, входит ли воксель в форму
	Contains(p vec.Vec3) bool
}

// Cube заполненный параллелепипед
type Cube struct {
	Box vec.Box
}

func (c Cube) Bounds() vec.Box          { return c.Box }
func (c Cube) Contains(p vec.Vec3) bool { return c.Box.Contains(p) }

// Sphere шар; воксель входит, если его центр внутри
type Sphere struct {
	Center vec.Vec3Float
	Radius float64
}

func (s Sphere) Bounds() vec.Box {
	return floatBounds(s.Center, s.Radius, s.Radius)
}

func (s Sphere) Contains(p vec.Vec3) bool {
	d := p.ToFloat().Sub(s.Center)
	return d.Dot(d) <= s.Radius*s.Radius
}

// Cylinder цилиндр с осью Z
type Cylinder struct {
	Center     vec.Vec3Float
	Radius     float64
	HalfHeight float64
}

func (c Cylinder) Bounds() vec.Box {
	return floatBounds(c.Center, c.Radius, c.HalfHeight)
}

func (c Cylinder) Contains(p vec.Vec3) bool {
	d := p.ToFloat().Sub(c.Center)
	if math.Abs(d.Z) > c.HalfHeight {
		return false
	}
	return d.X*d.X+d.Y*d.Y <= c.Radius*c.Radius
}

func floatBounds(center vec.Vec3Float, r, rz float64) vec.Box {
	lo := vec.Vec3Float{X: center.X - r, Y: center.Y - r, Z: center.Z - rz}.Floor()
	hi := vec.Vec3Float{X: center.X + r, Y: center.Y + r, Z: center.Z + rz}.Floor()
	return vec.Box{Min: lo, Max: hi.Add(vec.Vec3{X: 1, Y: 1, Z: 1})}
}
