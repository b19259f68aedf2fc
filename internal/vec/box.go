package vec

// Box описывает выровненный по осям параллелепипед в координатах вокселей.
// Min включительно, Max исключительно. Box с Min >= Max по любой оси пуст.
type Box struct {
	Min Vec3
	Max Vec3
}

// NewBox создает Box по двум углам (порядок углов не важен, оба включительно)
func NewBox(a, b Vec3) Box {
	return Box{
		Min: Vec3{X: min(a.X, b.X), Y: min(a.Y, b.Y), Z: min(a.Z, b.Z)},
		Max: Vec3{X: max(a.X, b.X) + 1, Y: max(a.Y, b.Y) + 1, Z: max(a.Z, b.Z) + 1},
	}
}

// Empty возвращает true, если Box не содержит ни одного вокселя
func (b Box) Empty() bool {
	return b.Min.X >= b.Max.X || b.Min.Y >= b.Max.Y || b.Min.Z >= b.Max.Z
}

// Contains проверяет, лежит ли воксель внутри Box
func (b Box) Contains(p Vec3) bool {
	return p.X >= b.Min.X && p.X < b.Max.X &&
		p.Y >= b.Min.Y && p.Y < b.Max.Y &&
		p.Z >= b.Min.Z && p.Z < b.Max.Z
}

// ContainsBox проверяет, что other целиком внутри b
func (b Box) ContainsBox(other Box) bool {
	if other.Empty() {
		return true
	}
	return other.Min.X >= b.Min.X && other.Max.X <= b.Max.X &&
		other.Min.Y >= b.Min.Y && other.Max.Y <= b.Max.Y &&
		other.Min.Z >= b.Min.Z && other.Max.Z <= b.Max.Z
}

// Union возвращает минимальный Box, содержащий оба
func (b Box) Union(other Box) Box {
	if b.Empty() {
		return other
	}
	if other.Empty() {
		return b
	}
	return Box{
		Min: Vec3{X: min(b.Min.X, other.Min.X), Y: min(b.Min.Y, other.Min.Y), Z: min(b.Min.Z, other.Min.Z)},
		Max: Vec3{X: max(b.Max.X, other.Max.X), Y: max(b.Max.Y, other.Max.Y), Z: max(b.Max.Z, other.Max.Z)},
	}
}

// Intersect возвращает пересечение (возможно пустое)
func (b Box) Intersect(other Box) Box {
	return Box{
		Min: Vec3{X: max(b.Min.X, other.Min.X), Y: max(b.Min.Y, other.Min.Y), Z: max(b.Min.Z, other.Min.Z)},
		Max: Vec3{X: min(b.Max.X, other.Max.X), Y: min(b.Max.Y, other.Max.Y), Z: min(b.Max.Z, other.Max.Z)},
	}
}

// Extend расширяет Box до включения вокселя
func (b Box) Extend(p Vec3) Box {
	return b.Union(Box{Min: p, Max: p.Add(Vec3{X: 1, Y: 1, Z: 1})})
}

// Translate сдвигает Box
func (b Box) Translate(d Vec3) Box {
	return Box{Min: b.Min.Add(d), Max: b.Max.Add(d)}
}

// Size возвращает размеры по осям
func (b Box) Size() Vec3 {
	if b.Empty() {
		return Vec3{}
	}
	return b.Max.Sub(b.Min)
}

// BlockRange возвращает диапазон координат блоков, которые пересекает Box
// (Min включительно, Max исключительно).
func (b Box) BlockRange() Box {
	if b.Empty() {
		return Box{}
	}
	last := b.Max.Sub(Vec3{X: 1, Y: 1, Z: 1}).ToBlockCoords()
	return Box{Min: b.Min.ToBlockCoords(), Max: last.Add(Vec3{X: 1, Y: 1, Z: 1})}
}

// BlockBox возвращает Box вокселей, покрываемых блоком с координатами bc
func BlockBox(bc Vec3) Box {
	o := bc.BlockOrigin()
	return Box{Min: o, Max: o.Add(Vec3{X: 16, Y: 16, Z: 16})}
}
