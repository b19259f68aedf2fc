package vec

import "math"

// Mat4 аффинная матрица 4x4 (строки), применяется к вектор-столбцу.
type Mat4 [4][4]float64

// Identity единичная матрица
var Identity = Mat4{
	{1, 0, 0, 0},
	{0, 1, 0, 0},
	{0, 0, 1, 0},
	{0, 0, 0, 1},
}

// Translate возвращает матрицу переноса
func Translate(d Vec3) Mat4 {
	m := Identity
	m[0][3] = float64(d.X)
	m[1][3] = float64(d.Y)
	m[2][3] = float64(d.Z)
	return m
}

// Scale возвращает матрицу масштабирования
func Scale(x, y, z float64) Mat4 {
	m := Identity
	m[0][0], m[1][1], m[2][2] = x, y, z
	return m
}

// RotateZ возвращает поворот вокруг оси Z на angle радиан
func RotateZ(angle float64) Mat4 {
	c, s := math.Cos(angle), math.Sin(angle)
	m := Identity
	m[0][0], m[0][1] = c, -s
	m[1][0], m[1][1] = s, c
	return m
}

// Apply применяет преобразование к точке
func (m Mat4) Apply(p Vec3Float) Vec3Float {
	return Vec3Float{
		X: m[0][0]*p.X + m[0][1]*p.Y + m[0][2]*p.Z + m[0][3],
		Y: m[1][0]*p.X + m[1][1]*p.Y + m[1][2]*p.Z + m[1][3],
		Z: m[2][0]*p.X + m[2][1]*p.Y + m[2][2]*p.Z + m[2][3],
	}
}

// IsIdentity проверяет, что матрица единичная
func (m Mat4) IsIdentity() bool {
	return m == Identity
}

// IntTranslation возвращает целочисленный перенос, если матрица является
// чистым переносом на целое число вокселей.
func (m Mat4) IntTranslation() (Vec3, bool) {
	t := m
	t[0][3], t[1][3], t[2][3] = 0, 0, 0
	if t != Identity {
		return Vec3{}, false
	}
	d := Vec3Float{X: m[0][3], Y: m[1][3], Z: m[2][3]}
	f := d.Floor()
	if float64(f.X) != d.X || float64(f.Y) != d.Y || float64(f.Z) != d.Z {
		return Vec3{}, false
	}
	return f, true
}

// ApplyBox возвращает наименьший Box вокселей, содержащий образ b.
// Центры вокселей b отображаются внутрь выпуклой оболочки образов углов,
// поэтому результат покрывает все воксели, в которые попадает b.
func (m Mat4) ApplyBox(b Box) Box {
	if b.Empty() {
		return Box{}
	}
	lo := Vec3Float{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	hi := Vec3Float{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for i := 0; i < 8; i++ {
		c := Vec3Float{X: float64(b.Min.X), Y: float64(b.Min.Y), Z: float64(b.Min.Z)}
		if i&1 != 0 {
			c.X = float64(b.Max.X)
		}
		if i&2 != 0 {
			c.Y = float64(b.Max.Y)
		}
		if i&4 != 0 {
			c.Z = float64(b.Max.Z)
		}
		p := m.Apply(c)
		lo = Vec3Float{X: min(lo.X, p.X), Y: min(lo.Y, p.Y), Z: min(lo.Z, p.Z)}
		hi = Vec3Float{X: max(hi.X, p.X), Y: max(hi.Y, p.Y), Z: max(hi.Z, p.Z)}
	}
	return Box{Min: lo.Floor(), Max: hi.Ceil()}
}
