package vec

import "math"

// Vec3 представляет трехмерный вектор с целочисленными координатами
type Vec3 struct {
	X int
	Y int
	Z int
}

// Vec3Float представляет трехмерный вектор с плавающими координатами
type Vec3Float struct {
	X float64
	Y float64
	Z float64
}

// ToBlockCoords преобразует мировые координаты вокселя в координаты блока
func (v Vec3) ToBlockCoords() Vec3 {
	return Vec3{X: v.X >> 4, Y: v.Y >> 4, Z: v.Z >> 4} // Деление на 16
}

// LocalInBlock возвращает локальные координаты внутри блока
func (v Vec3) LocalInBlock() Vec3 {
	return Vec3{X: v.X & 0xF, Y: v.Y & 0xF, Z: v.Z & 0xF} // Модуль 16
}

// BlockOrigin возвращает мировые координаты первого вокселя блока
func (v Vec3) BlockOrigin() Vec3 {
	return Vec3{X: v.X << 4, Y: v.Y << 4, Z: v.Z << 4}
}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{
		X: v.X + other.X,
		Y: v.Y + other.Y,
		Z: v.Z + other.Z,
	}
}

// Sub вычитает вектор
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{
		X: v.X - other.X,
		Y: v.Y - other.Y,
		Z: v.Z - other.Z,
	}
}

// Less задает лексикографический порядок (X, затем Y, затем Z).
// Используется для детерминированного обхода блоков.
func (v Vec3) Less(other Vec3) bool {
	if v.X != other.X {
		return v.X < other.X
	}
	if v.Y != other.Y {
		return v.Y < other.Y
	}
	return v.Z < other.Z
}

// Compare возвращает -1, 0 или 1 в порядке Less
func (v Vec3) Compare(other Vec3) int {
	switch {
	case v.Less(other):
		return -1
	case other.Less(v):
		return 1
	default:
		return 0
	}
}

// ToFloat переводит координаты вокселя в координаты его центра
func (v Vec3) ToFloat() Vec3Float {
	return Vec3Float{X: float64(v.X) + 0.5, Y: float64(v.Y) + 0.5, Z: float64(v.Z) + 0.5}
}

// Floor возвращает воксель, содержащий точку
func (v Vec3Float) Floor() Vec3 {
	return Vec3{
		X: int(math.Floor(v.X)),
		Y: int(math.Floor(v.Y)),
		Z: int(math.Floor(v.Z)),
	}
}

// Ceil возвращает наименьшие целые координаты не меньше v
func (v Vec3Float) Ceil() Vec3 {
	return Vec3{
		X: int(math.Ceil(v.X)),
		Y: int(math.Ceil(v.Y)),
		Z: int(math.Ceil(v.Z)),
	}
}

// Sub вычитает вектор
func (v Vec3Float) Sub(other Vec3Float) Vec3Float {
	return Vec3Float{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Dot скалярное произведение
func (v Vec3Float) Dot(other Vec3Float) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}
