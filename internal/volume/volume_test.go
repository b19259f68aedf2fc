package volume

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/annel0/voxedit/internal/vec"
	"github.com/annel0/voxedit/internal/voxel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	red   = voxel.RGBA(255, 0, 0, 255)
	green = voxel.RGBA(0, 255, 0, 255)
	blue  = voxel.RGBA(0, 0, 255, 255)
)

func v3(x, y, z int) vec.Vec3 { return vec.Vec3{X: x, Y: y, Z: z} }

func mustConsistent(t *testing.T, v *Volume) {
	t.Helper()
	require.NoError(t, CheckConsistency(v))
}

func TestVolume_ReadWrite(t *testing.T) {
	v := New(voxel.NewPool(0))

	assert.Equal(t, voxel.Empty, v.Get(v3(5, 5, 5)), "Отсутствующий блок читается как пустой")

	require.NoError(t, v.Set(v3(5, 5, 5), red))
	require.NoError(t, v.Set(v3(-1, -20, 33), blue))
	assert.Equal(t, red, v.Get(v3(5, 5, 5)))
	assert.Equal(t, blue, v.Get(v3(-1, -20, 33)))
	assert.Equal(t, 2, v.Len())
	assert.Equal(t, 2, v.Count())

	b, ok := v.GetBlock(v3(-1, -2, 2))
	require.True(t, ok)
	assert.Equal(t, blue, b.Get(v3(15, 12, 1)))
	mustConsistent(t, v)
}

func TestVolume_OutOfRange(t *testing.T) {
	v := New(voxel.NewPool(0))
	require.NoError(t, v.Set(v3(1, 1, 1), red))
	key := v.Key()

	err := v.Set(v3(CoordLimit, 0, 0), red)
	assert.True(t, errors.Is(err, ErrOutOfRange))
	err = v.FillBox(vec.Box{Min: v3(CoordLimit-2, 0, 0), Max: v3(CoordLimit+2, 1, 1)}, red)
	assert.True(t, errors.Is(err, ErrOutOfRange))

	assert.Equal(t, key, v.Key(), "Отклоненная запись не должна ничего менять")
	assert.Equal(t, voxel.Empty, v.Get(v3(CoordLimit, 0, 0)))
}

func TestVolume_SparseCanonical(t *testing.T) {
	v := New(voxel.NewPool(0))
	require.NoError(t, v.FillBox(vec.Box{Min: v3(0, 0, 0), Max: v3(4, 4, 4)}, red))
	require.Equal(t, 1, v.Len())

	var points []vec.Vec3
	for p := range v.IterVoxels() {
		points = append(points, p)
	}
	require.Len(t, points, 64)
	for _, p := range points {
		require.NoError(t, v.Set(p, voxel.Empty))
	}
	assert.Equal(t, 0, v.Len(), "Опустевший блок должен удаляться из таблицы")
	_, ok := v.GetBlock(v3(0, 0, 0))
	assert.False(t, ok)
	assert.Equal(t, New(nil).Key(), v.Key(), "Пустой объем имеет ключ пустого объема")
	assert.True(t, v.Bounds().Empty())
	mustConsistent(t, v)
}

func TestVolume_KeyIndependentOfWritePath(t *testing.T) {
	pool := voxel.NewPool(0)
	points := make([]vec.Vec3, 0, 300)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 300; i++ {
		points = append(points, v3(rng.Intn(80)-40, rng.Intn(80)-40, rng.Intn(80)-40))
	}

	a := New(pool)
	for _, p := range points {
		require.NoError(t, a.Set(p, green))
	}

	// Другой порядок, лишние воксели, которые потом стираются
	b := New(pool)
	require.NoError(t, b.FillBox(vec.Box{Min: v3(100, 100, 100), Max: v3(120, 101, 101)}, red))
	for i := len(points) - 1; i >= 0; i-- {
		require.NoError(t, b.Set(points[i], blue))
		require.NoError(t, b.Set(points[i], green))
	}
	require.NoError(t, b.FillBox(vec.Box{Min: v3(100, 100, 100), Max: v3(120, 101, 101)}, voxel.Empty))

	assert.Equal(t, a.Key(), b.Key())
	assert.True(t, Equal(a, b))
	mustConsistent(t, a)
	mustConsistent(t, b)

	require.NoError(t, b.Set(points[0], red))
	assert.NotEqual(t, a.Key(), b.Key(), "Любое изменение содержимого меняет ключ")
}

func TestVolume_CopyOnWriteIsolation(t *testing.T) {
	pool := voxel.NewPool(0)
	a := New(pool)
	require.NoError(t, a.FillBox(vec.Box{Min: v3(-8, -8, -8), Max: v3(24, 8, 8)}, red))
	liveBefore := pool.Stats().Live

	snap := a.Clone()
	assert.Equal(t, liveBefore, pool.Stats().Live, "Clone не копирует блоки")
	snapKey := snap.Key()

	touched := []vec.Vec3{v3(0, 0, 0), v3(-8, -8, -8), v3(23, 7, 7), v3(40, 0, 0)}
	for _, p := range touched {
		require.NoError(t, a.Set(p, blue))
	}

	for _, p := range touched {
		expected := voxel.Empty
		if p.X < 24 {
			expected = red
		}
		assert.Equal(t, expected, snap.Get(p), "Снимок должен возвращать цвет до изменения: %v", p)
		assert.Equal(t, blue, a.Get(p))
	}
	assert.Equal(t, snapKey, snap.Key())
	assert.Equal(t, uint64(3), pool.Stats().Cloned, "Клонируются только три затронутых разделяемых блока")

	mustConsistent(t, a)
	mustConsistent(t, snap)

	snap.Release()
	mustConsistent(t, a)
	assert.Equal(t, red, a.Get(v3(1, 1, 1)), "Освобождение снимка не затрагивает оригинал")
}

func TestVolume_ReleaseFreesUniqueBlocks(t *testing.T) {
	pool := voxel.NewPool(0)
	a := New(pool)
	require.NoError(t, a.FillBox(vec.Box{Min: v3(0, 0, 0), Max: v3(32, 16, 16)}, red))
	b := a.Clone()
	require.NoError(t, b.Set(v3(0, 0, 0), blue))
	assert.Equal(t, int64(3), pool.Stats().Live)

	a.Release()
	assert.Equal(t, int64(2), pool.Stats().Live, "Освобождается только уникальный блок a")
	assert.True(t, a.Released())
	assert.True(t, errors.Is(a.Set(v3(0, 0, 0), red), ErrReleased))

	b.Release()
	assert.Equal(t, int64(0), pool.Stats().Live)
}

func TestVolume_AllocationFailurePreservesState(t *testing.T) {
	pool := voxel.NewPool(0)
	v := New(pool)
	require.NoError(t, v.FillBox(vec.Box{Min: v3(0, 0, 0), Max: v3(48, 1, 1)}, red))
	snap := v.Clone()
	key := v.Key()

	// Ровно столько блоков, чтобы первый клон прошел, а второй нет
	pool.SetLimit(pool.Stats().Live + 1)
	err := v.FillBox(vec.Box{Min: v3(0, 0, 0), Max: v3(48, 1, 1)}, blue)
	assert.True(t, errors.Is(err, voxel.ErrBudgetExceeded))

	assert.Equal(t, key, v.Key(), "Объем должен остаться в исходном состоянии")
	assert.Equal(t, red, v.Get(v3(0, 0, 0)))
	assert.Equal(t, red, v.Get(v3(47, 0, 0)))
	assert.Equal(t, int64(3), pool.Stats().Live, "Выделенные клоны должны быть возвращены")
	mustConsistent(t, v)
	mustConsistent(t, snap)
}

func TestVolume_IterBlocksOrderedAndRestartable(t *testing.T) {
	v := New(voxel.NewPool(0))
	for _, p := range []vec.Vec3{v3(40, 0, 0), v3(-20, 5, 5), v3(0, 40, 0), v3(0, 0, -40), v3(0, 0, 0)} {
		require.NoError(t, v.Set(p, red))
	}

	collect := func() []vec.Vec3 {
		var out []vec.Vec3
		for bc := range v.IterBlocks() {
			out = append(out, bc)
		}
		return out
	}
	first := collect()
	require.Len(t, first, 5)
	for i := 1; i < len(first); i++ {
		assert.True(t, first[i-1].Less(first[i]), "Координаты должны идти по возрастанию")
	}
	assert.Equal(t, first, collect(), "Повторный обход дает ту же последовательность")

	n := 0
	for range v.IterBlocks() {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestVolume_BoundsLazy(t *testing.T) {
	v := New(voxel.NewPool(0))
	require.NoError(t, v.Set(v3(1, 2, 3), red))
	require.NoError(t, v.Set(v3(30, -4, 3), red))
	assert.Equal(t, vec.Box{Min: v3(1, -4, 3), Max: v3(31, 3, 4)}, v.Bounds())

	require.NoError(t, v.Set(v3(30, -4, 3), voxel.Empty))
	assert.Equal(t, vec.Box{Min: v3(1, 2, 3), Max: v3(2, 3, 4)}, v.Bounds())
	mustConsistent(t, v)
}

func TestMerge_AddAndPaintScenario(t *testing.T) {
	pool := voxel.NewPool(0)
	newA := func() *Volume {
		a := New(pool)
		require.NoError(t, a.Set(v3(0, 0, 0), red))
		return a
	}
	b := New(pool)
	require.NoError(t, b.Set(v3(0, 0, 0), blue))
	require.NoError(t, b.Set(v3(1, 0, 0), green))

	a := newA()
	require.NoError(t, Merge(a, b, vec.Identity, voxel.ModeAdd))
	assert.Equal(t, blue, a.Get(v3(0, 0, 0)))
	assert.Equal(t, green, a.Get(v3(1, 0, 0)))
	assert.Equal(t, 2, a.Count())
	mustConsistent(t, a)

	a = newA()
	require.NoError(t, Merge(a, b, vec.Identity, voxel.ModePaint))
	assert.Equal(t, blue, a.Get(v3(0, 0, 0)))
	assert.Equal(t, voxel.Empty, a.Get(v3(1, 0, 0)), "Paint не создает воксели")
	assert.Equal(t, 1, a.Count())

	// Источник не должен меняться
	assert.Equal(t, blue, b.Get(v3(0, 0, 0)))
	assert.Equal(t, 2, b.Count())
}

func TestMerge_SubAndReplace(t *testing.T) {
	pool := voxel.NewPool(0)
	a := New(pool)
	require.NoError(t, a.FillBox(vec.Box{Min: v3(0, 0, 0), Max: v3(4, 1, 1)}, red))
	mask := New(pool)
	require.NoError(t, mask.FillBox(vec.Box{Min: v3(0, 0, 0), Max: v3(2, 1, 1)}, green))
	require.NoError(t, mask.Set(v3(50, 0, 0), green))

	require.NoError(t, Merge(a, mask, vec.Identity, voxel.ModeSub))
	assert.Equal(t, 2, a.Count())
	assert.Equal(t, voxel.Empty, a.Get(v3(0, 0, 0)))
	assert.Equal(t, red, a.Get(v3(3, 0, 0)))
	_, ok := a.GetBlock(v3(3, 0, 0))
	assert.False(t, ok, "Sub не создает блоки")

	require.NoError(t, Merge(a, mask, vec.Translate(v3(1, 0, 0)), voxel.ModeReplace))
	assert.True(t, Equal(a, mustTransform(t, mask, vec.Translate(v3(1, 0, 0)))))
	assert.Equal(t, voxel.Empty, a.Get(v3(3, 0, 0)), "Replace делает dst равным src")
	assert.Equal(t, green, a.Get(v3(51, 0, 0)))
	mustConsistent(t, a)
}

func TestMerge_SelfMerge(t *testing.T) {
	a := New(voxel.NewPool(0))
	require.NoError(t, a.FillBox(vec.Box{Min: v3(0, 0, 0), Max: v3(3, 3, 3)}, red))
	require.NoError(t, Merge(a, a, vec.Identity, voxel.ModeSub))
	assert.True(t, a.IsEmpty())
	mustConsistent(t, a)
}

func mustTransform(t *testing.T, v *Volume, m vec.Mat4) *Volume {
	t.Helper()
	out, err := Transform(v, m)
	require.NoError(t, err)
	return out
}

func TestTransform(t *testing.T) {
	pool := voxel.NewPool(0)
	v := New(pool)
	require.NoError(t, v.Set(v3(1, 2, 3), red))
	require.NoError(t, v.Set(v3(17, 2, 3), blue))

	aligned := mustTransform(t, v, vec.Translate(v3(32, -16, 0)))
	assert.Equal(t, red, aligned.Get(v3(33, -14, 3)))
	b1, _ := v.GetBlock(v3(0, 0, 0))
	b2, _ := aligned.GetBlock(v3(2, -1, 0))
	assert.Same(t, b1, b2, "Перенос на целое число блоков разделяет блоки")

	shifted := mustTransform(t, v, vec.Translate(v3(3, 0, 0)))
	assert.Equal(t, red, shifted.Get(v3(4, 2, 3)))
	assert.Equal(t, blue, shifted.Get(v3(20, 2, 3)))
	assert.Equal(t, 2, shifted.Count())

	// Поворот на 90° вокруг Z: (x, y) -> (-y, x)
	rotated := mustTransform(t, v, vec.RotateZ(1.5707963267948966))
	assert.Equal(t, red, rotated.Get(v3(-3, 1, 3)))
	mustConsistent(t, rotated)
}

func TestTint(t *testing.T) {
	v := New(voxel.NewPool(0))
	require.NoError(t, v.Set(v3(0, 0, 0), voxel.RGBA(200, 100, 50, 255)))

	tinted, err := Tint(v, voxel.Color{0, 0, 0, 0})
	require.NoError(t, err)
	assert.True(t, tinted.IsEmpty(), "Прозрачный оттенок стирает воксели")

	half, err := Tint(v, voxel.Color{127, 255, 255, 255})
	require.NoError(t, err)
	assert.Equal(t, voxel.RGBA(99, 100, 50, 255), half.Get(v3(0, 0, 0)))
}

func TestRegionOps(t *testing.T) {
	pool := voxel.NewPool(0)
	v := New(pool)
	require.NoError(t, v.FillShape(Sphere{Center: vec.Vec3Float{X: 8, Y: 8, Z: 8}, Radius: 5}, red))
	assert.Equal(t, red, v.Get(v3(8, 8, 8)))
	assert.Equal(t, voxel.Empty, v.Get(v3(8, 8, 14)))
	assert.Equal(t, voxel.Empty, v.Get(v3(3, 3, 3)))

	require.NoError(t, v.FillShape(Cylinder{Center: vec.Vec3Float{X: 40, Y: 0, Z: 0}, Radius: 2, HalfHeight: 3}, blue))
	assert.Equal(t, blue, v.Get(v3(40, 0, 2)))
	assert.Equal(t, voxel.Empty, v.Get(v3(40, 0, 4)))

	big := New(pool)
	require.NoError(t, big.FillBox(vec.Box{Min: v3(0, 0, 0), Max: v3(40, 16, 16)}, green))
	part, err := big.CopyRegion(vec.Box{Min: v3(0, 0, 0), Max: v3(20, 16, 16)})
	require.NoError(t, err)
	assert.Equal(t, 20*16*16, part.Count())
	full, _ := big.GetBlock(v3(0, 0, 0))
	copied, _ := part.GetBlock(v3(0, 0, 0))
	assert.Same(t, full, copied, "Целиком попавший блок разделяется")

	dst := New(pool)
	require.NoError(t, dst.Paste(part, v3(100, 0, 0), voxel.ModeAdd))
	assert.Equal(t, green, dst.Get(v3(119, 15, 15)))
	assert.Equal(t, voxel.Empty, dst.Get(v3(120, 0, 0)))

	mask, err := FromShape(pool, Cube{Box: vec.NewBox(v3(0, 0, 0), v3(1, 1, 1))}, red)
	require.NoError(t, err)
	assert.Equal(t, 8, mask.Count())

	for _, vol := range []*Volume{v, big, part, dst, mask} {
		mustConsistent(t, vol)
	}
}

func TestVolume_OnChange(t *testing.T) {
	v := New(voxel.NewPool(0))
	var calls atomic.Int32
	v.SetOnChange(func() { calls.Add(1) })

	require.NoError(t, v.Set(v3(0, 0, 0), red))
	require.NoError(t, v.Set(v3(0, 0, 0), red))
	assert.Equal(t, int32(1), calls.Load(), "Запись без изменения не вызывает инвалидацию")

	require.NoError(t, v.Clear())
	assert.Equal(t, int32(2), calls.Load())
}

func TestVolume_ParallelBlocks(t *testing.T) {
	v := New(voxel.NewPool(0))
	for i := 0; i < 20; i++ {
		require.NoError(t, v.Set(v3(i*16, 0, 0), red))
	}

	var mu sync.Mutex
	seen := map[vec.Vec3]bool{}
	err := v.ParallelBlocks(context.Background(), 4, func(_ context.Context, bc vec.Vec3, b *voxel.Block) error {
		mu.Lock()
		seen[bc] = true
		mu.Unlock()
		_ = b.Hash()
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, 20)

	boom := errors.New("boom")
	err = v.ParallelBlocks(context.Background(), 3, func(_ context.Context, bc vec.Vec3, _ *voxel.Block) error {
		if bc.X == 5 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestVolume_ConcurrentDisjointWriters(t *testing.T) {
	v := New(voxel.NewPool(0))
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = v.Set(v3(w*16, i%16, i/16), red)
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 8*50, v.Count())
	mustConsistent(t, v)
}
