package procgen

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxedit/internal/compose"
	"github.com/annel0/voxedit/internal/scene"
	"github.com/annel0/voxedit/internal/vec"
	"github.com/annel0/voxedit/internal/volume"
	"github.com/annel0/voxedit/internal/voxel"
)

func testParams() TerrainParams {
	return TerrainParams{
		Seed:  42,
		Scale: 8,
		Box:   vec.Box{Min: vec.Vec3{X: -8, Y: -8}, Max: vec.Vec3{X: 24, Y: 24, Z: 16}},
	}
}

func TestNoiseRange(t *testing.T) {
	n := NewNoise(1, 16)
	for x := -50; x < 50; x += 7 {
		for y := -50; y < 50; y += 5 {
			v := n.At(x, y)
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
}

func TestTerrainGenerate(t *testing.T) {
	pool := voxel.NewPool(0)
	tr, err := NewTerrain(pool, testParams())
	require.NoError(t, err)
	defer tr.Close()

	pending := tr.Key()
	_, ready := tr.Volume()
	assert.False(t, ready)

	require.NoError(t, tr.Generate(context.Background()))
	vol, ready := tr.Volume()
	require.True(t, ready)
	assert.NotEqual(t, pending, tr.Key())
	require.NoError(t, volume.CheckConsistency(vol))

	// каждый столбец имеет хотя бы один воксель, верхний окрашен поверхностью
	box := testParams().Box
	for x := box.Min.X; x < box.Max.X; x++ {
		for y := box.Min.Y; y < box.Max.Y; y++ {
			assert.False(t, vol.Get(vec.Vec3{X: x, Y: y}).IsEmpty())
		}
	}
	assert.True(t, box.ContainsBox(vol.Bounds()))

	// повторная генерация дает тот же ключ
	key := tr.Key()
	require.NoError(t, tr.Generate(context.Background()))
	assert.Equal(t, key, tr.Key())
}

func TestTerrainCancelled(t *testing.T) {
	tr, err := NewTerrain(voxel.NewPool(0), testParams())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, tr.Generate(ctx), context.Canceled)
	assert.False(t, tr.Ready())
}

func TestTerrainInvalidParams(t *testing.T) {
	_, err := NewTerrain(nil, TerrainParams{})
	assert.ErrorIs(t, err, ErrInvalidParams)

	half := volume.CoordLimit / 2
	cases := map[string]vec.Box{
		"во весь диапазон": {Min: vec.Vec3{X: -half, Y: -half}, Max: vec.Vec3{X: half, Y: half, Z: 4}},
		"длинная полоса":   {Max: vec.Vec3{X: MaxTerrainArea + 1, Y: 1, Z: 4}},
		"слишком высокий":  {Max: vec.Vec3{X: 16, Y: 16, Z: MaxTerrainHeight + 1}},
	}
	for name, box := range cases {
		_, err := NewTerrain(nil, TerrainParams{Box: box})
		assert.ErrorIs(t, err, ErrInvalidParams, name)
	}

	edge := TerrainParams{Box: vec.Box{Max: vec.Vec3{X: 1024, Y: 1024, Z: MaxTerrainHeight}}}
	assert.NoError(t, edge.Validate(), "предельный размер допустим")
	assert.EqualValues(t, MaxTerrainArea, edge.Area())
}

func TestTerrainLayerComposes(t *testing.T) {
	pool := voxel.NewPool(0)
	s := scene.NewEmpty(pool)
	tr, err := NewTerrain(pool, testParams())
	require.NoError(t, err)
	defer tr.Close()
	_, err = s.AddProducerLayer("terrain", scene.KindProcedural, tr)
	require.NoError(t, err)

	c := compose.NewComposer(pool, nil)
	defer c.Close()
	res, err := c.Compose(s, compose.Request{Views: compose.MaskRender})
	require.NoError(t, err)
	assert.True(t, res[compose.ViewRender].Volume.IsEmpty(), "не сгенерирован: пусто")

	require.NoError(t, tr.Generate(context.Background()))
	res, err = c.Compose(s, compose.Request{Views: compose.MaskRender})
	require.NoError(t, err)
	vol, _ := tr.Volume()
	assert.Equal(t, vol.Key(), res[compose.ViewRender].Volume.Key())
}

func TestImagePlane(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255}) // левый верхний
	img.Set(2, 1, color.NRGBA{B: 255, A: 255}) // правый нижний

	p, err := NewImagePlane(voxel.NewPool(0), img, vec.Vec3{X: 10, Z: 4})
	require.NoError(t, err)
	defer p.Close()

	vol, ok := p.Volume()
	require.True(t, ok)
	assert.Equal(t, 2, vol.Count())
	assert.Equal(t, voxel.RGBA(255, 0, 0, 255), vol.Get(vec.Vec3{X: 10, Y: 1, Z: 4}))
	assert.Equal(t, voxel.RGBA(0, 0, 255, 255), vol.Get(vec.Vec3{X: 12, Y: 0, Z: 4}))

	d, err := Describe(p)
	require.NoError(t, err)
	restored, err := Restore(context.Background(), voxel.NewPool(0), d)
	require.NoError(t, err)
	assert.Equal(t, p.Key(), restored.Key())
	restored.(*ImagePlane).Close()
}

func TestDescriptorTerrain(t *testing.T) {
	tr, err := NewTerrain(voxel.NewPool(0), testParams())
	require.NoError(t, err)
	require.NoError(t, tr.Generate(context.Background()))
	defer tr.Close()

	d, err := Describe(tr)
	require.NoError(t, err)
	restored, err := Restore(context.Background(), voxel.NewPool(0), d)
	require.NoError(t, err)
	defer restored.(*Terrain).Close()
	assert.Equal(t, tr.Key(), restored.Key())

	_, err = Restore(context.Background(), nil, Descriptor{Kind: "lua"})
	assert.Error(t, err)
}
