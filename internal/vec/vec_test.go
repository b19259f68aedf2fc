package vec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlockCoords(t *testing.T) {
	tests := []struct {
		name  string
		pos   Vec3
		block Vec3
		local Vec3
	}{
		{"начало", Vec3{}, Vec3{}, Vec3{}},
		{"конец блока", Vec3{X: 15, Y: 15, Z: 15}, Vec3{}, Vec3{X: 15, Y: 15, Z: 15}},
		{"следующий блок", Vec3{X: 16, Y: 31, Z: 32}, Vec3{X: 1, Y: 1, Z: 2}, Vec3{Y: 15}},
		{"минус один", Vec3{X: -1, Y: -1, Z: -1}, Vec3{X: -1, Y: -1, Z: -1}, Vec3{X: 15, Y: 15, Z: 15}},
		{"минус шестнадцать", Vec3{X: -16}, Vec3{X: -1}, Vec3{}},
		{"минус семнадцать", Vec3{X: -17}, Vec3{X: -2}, Vec3{X: 15}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.block, tt.pos.ToBlockCoords())
			assert.Equal(t, tt.local, tt.pos.LocalInBlock())
			assert.Equal(t, tt.pos, tt.block.BlockOrigin().Add(tt.local), "блок и смещение восстанавливают позицию")
		})
	}
}

func TestBlockRange(t *testing.T) {
	tests := []struct {
		name string
		box  Box
		want Box
	}{
		{"пустой", Box{}, Box{}},
		{"один блок", NewBox(Vec3{}, Vec3{X: 15, Y: 15, Z: 15}), Box{Max: Vec3{X: 1, Y: 1, Z: 1}}},
		{"один воксель", NewBox(Vec3{X: -1}, Vec3{X: -1}), Box{Min: Vec3{X: -1}, Max: Vec3{X: 0, Y: 1, Z: 1}}},
		{
			"отрицательные координаты",
			Box{Min: Vec3{X: -17}, Max: Vec3{X: 1, Y: 16, Z: 17}},
			Box{Min: Vec3{X: -2}, Max: Vec3{X: 1, Y: 1, Z: 2}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.box.BlockRange())
		})
	}
}

func TestIntTranslation(t *testing.T) {
	half := Identity
	half[0][3] = 0.5
	negHalf := Identity
	negHalf[1][3] = -1.5

	tests := []struct {
		name string
		m    Mat4
		want Vec3
		ok   bool
	}{
		{"единичная", Identity, Vec3{}, true},
		{"целый перенос", Translate(Vec3{X: 3, Y: 5, Z: 7}), Vec3{X: 3, Y: 5, Z: 7}, true},
		{"отрицательный перенос", Translate(Vec3{X: -3, Z: -32}), Vec3{X: -3, Z: -32}, true},
		{"дробный перенос", half, Vec3{}, false},
		{"отрицательный дробный", negHalf, Vec3{}, false},
		{"масштаб", Scale(2, 1, 1), Vec3{}, false},
		{"поворот", RotateZ(math.Pi / 2), Vec3{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.m.IntTranslation()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyBox(t *testing.T) {
	src := Box{Min: Vec3{X: -2, Y: 0, Z: 1}, Max: Vec3{X: 3, Y: 4, Z: 2}}

	assert.Equal(t, src, Identity.ApplyBox(src), "единичная матрица не расширяет Box")
	assert.Equal(t, src.Translate(Vec3{X: -10, Z: 5}), Translate(Vec3{X: -10, Z: 5}).ApplyBox(src))
	assert.Equal(t, Box{Min: Vec3{X: -4, Z: 2}, Max: Vec3{X: 6, Y: 8, Z: 4}}, Scale(2, 2, 2).ApplyBox(src))
	assert.True(t, Translate(Vec3{X: 1}).ApplyBox(Box{}).Empty())

	// каждый воксель src после преобразования попадает в результат
	for _, m := range []Mat4{RotateZ(math.Pi / 2), RotateZ(0.3), Scale(0.5, 1.5, 1)} {
		box := m.ApplyBox(src)
		for x := src.Min.X; x < src.Max.X; x++ {
			for y := src.Min.Y; y < src.Max.Y; y++ {
				for z := src.Min.Z; z < src.Max.Z; z++ {
					q := m.Apply(Vec3{X: x, Y: y, Z: z}.ToFloat()).Floor()
					assert.True(t, box.Contains(q), "%v -> %v вне %v", Vec3{X: x, Y: y, Z: z}, q, box)
				}
			}
		}
	}
}

func TestBoxOps(t *testing.T) {
	a := NewBox(Vec3{}, Vec3{X: 3, Y: 3, Z: 3})
	b := NewBox(Vec3{X: 2, Y: 2, Z: 2}, Vec3{X: 5, Y: 5, Z: 5})

	assert.Equal(t, Box{Max: Vec3{X: 6, Y: 6, Z: 6}}, a.Union(b))
	assert.Equal(t, Box{Min: Vec3{X: 2, Y: 2, Z: 2}, Max: Vec3{X: 4, Y: 4, Z: 4}}, a.Intersect(b))
	assert.True(t, a.Intersect(a.Translate(Vec3{X: 10})).Empty())
	assert.Equal(t, a, Box{}.Union(a))
	assert.True(t, a.ContainsBox(Box{}))
	assert.Equal(t, Vec3{X: 4, Y: 4, Z: 4}, a.Size())
	assert.Equal(t, Vec3{}, Box{}.Size())

	assert.Equal(t, -1, Vec3{X: 1}.Compare(Vec3{X: 1, Y: 1}))
	assert.Equal(t, 1, Vec3{X: 2}.Compare(Vec3{X: 1, Z: 9}))
	assert.Zero(t, Vec3{Z: 4}.Compare(Vec3{Z: 4}))
}
