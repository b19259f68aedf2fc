package procgen

import (
	"github.com/aquilax/go-perlin"
)

// Noise двумерный шум Перлина, нормализованный в диапазон [0, 1]
type Noise struct {
	p     *perlin.Perlin
	scale float64
}

// NewNoise создает генератор шума с указанным сидом.
// scale задает размер детали в вокселях.
func NewNoise(seed int64, scale float64) *Noise {
	alpha := 2.0  // Сглаживание шума
	beta := 2.0   // Частота шума
	n := int32(3) // Количество октав
	if scale <= 0 {
		scale = 32
	}
	return &Noise{p: perlin.NewPerlin(alpha, beta, n, seed), scale: scale}
}

// At возвращает значение шума в точке (x, y), от 0 до 1
func (n *Noise) At(x, y int) float64 {
	v := n.p.Noise2D(float64(x)/n.scale, float64(y)/n.scale)
	// Преобразуем из [-1, 1]
	v = (v + 1) / 2
	return min(max(v, 0), 1)
}
