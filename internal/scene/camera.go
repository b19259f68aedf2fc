package scene

import (
	"math"

	"github.com/annel0/voxedit/internal/fingerprint"
	"github.com/annel0/voxedit/internal/vec"
)

// CameraID стабильный идентификатор камеры внутри сцены
type CameraID int

// Camera камера сцены. Позиция строится из расстояния, поворота и смещения:
// Pos = Ofs * Rot * Dist.
type Camera struct {
	id     CameraID
	Name   string
	Ortho  bool       // ортографическая проекция
	Dist   float64    // расстояние до цели
	Rot    [4]float64 // кватернион поворота
	Ofs    [3]float64 // боковое смещение
	Fovy   float64    // угол обзора по вертикали, градусы
	Aspect float64
}

func newCamera(id CameraID, name string) *Camera {
	return &Camera{
		id:     id,
		Name:   name,
		Dist:   128,
		Rot:    [4]float64{1, 0, 0, 0},
		Fovy:   20,
		Aspect: 1,
	}
}

// ID возвращает идентификатор камеры
func (c *Camera) ID() CameraID { return c.id }

// Key возвращает значение, которое гарантированно меняется при изменении камеры
func (c *Camera) Key() uint64 {
	h := fingerprint.New("camera").
		WriteString(c.Name).
		WriteBool(c.Ortho).
		WriteFloat(c.Dist).
		WriteFloat(c.Fovy).
		WriteFloat(c.Aspect)
	for _, v := range c.Rot {
		h.WriteFloat(v)
	}
	for _, v := range c.Ofs {
		h.WriteFloat(v)
	}
	return h.Sum()
}

// Set копирует положение другой камеры (имя и идентификатор сохраняются)
func (c *Camera) Set(other *Camera) {
	c.Ortho = other.Ortho
	c.Dist = other.Dist
	c.Rot = other.Rot
	c.Ofs = other.Ofs
	c.Fovy = other.Fovy
	c.Aspect = other.Aspect
}

// FitBox сдвигает камеру так, чтобы Box был виден целиком
func (c *Camera) FitBox(b vec.Box) {
	if b.Empty() {
		return
	}
	size := b.Size()
	center := vec.Vec3Float{
		X: float64(b.Min.X) + float64(size.X)/2,
		Y: float64(b.Min.Y) + float64(size.Y)/2,
		Z: float64(b.Min.Z) + float64(size.Z)/2,
	}
	c.Ofs = [3]float64{-center.X, -center.Y, -center.Z}
	radius := math.Sqrt(float64(size.X*size.X+size.Y*size.Y+size.Z*size.Z)) / 2
	fov := c.Fovy
	if fov <= 0 {
		fov = 20
	}
	c.Dist = radius / math.Tan(fov/2*math.Pi/180)
}
