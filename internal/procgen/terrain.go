// Package procgen содержит внешние источники объема для слоев сцены:
// процедурный рельеф на шуме Перлина и плоское изображение.
// Сцена видит их только через ключ и готовый объем.
package procgen

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/annel0/voxedit/internal/fingerprint"
	"github.com/annel0/voxedit/internal/logging"
	"github.com/annel0/voxedit/internal/vec"
	"github.com/annel0/voxedit/internal/volume"
	"github.com/annel0/voxedit/internal/voxel"
)

// ErrInvalidParams неверные параметры генерации
var ErrInvalidParams = errors.New("неверные параметры генерации")

// Пределы рельефа. Карта высот занимает Area ячеек в памяти, а заливка
// обходит весь Box, поэтому размер ограничен независимо от CoordLimit.
const (
	MaxTerrainArea   = 1 << 20 // столбцов, 1024x1024
	MaxTerrainHeight = 256
)

// TerrainParams параметры рельефа. Рельеф заполняет Box по X и Y,
// высота столбца от Box.Min.Z до Box.Max.Z задается шумом.
type TerrainParams struct {
	Seed    int64       `json:"seed" yaml:"seed"`
	Scale   float64     `json:"scale" yaml:"scale"`
	Box     vec.Box     `json:"box" yaml:"box"`
	Ground  voxel.Color `json:"ground" yaml:"ground"`
	Surface voxel.Color `json:"surface" yaml:"surface"`
}

// Validate проверяет параметры
func (p TerrainParams) Validate() error {
	if p.Box.Empty() {
		return fmt.Errorf("%w: пустой Box", ErrInvalidParams)
	}
	if err := volume.CheckBox(p.Box); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if area := p.Area(); area > MaxTerrainArea {
		return fmt.Errorf("%w: площадь %d больше %d", ErrInvalidParams, area, MaxTerrainArea)
	}
	if h := p.Box.Size().Z; h > MaxTerrainHeight {
		return fmt.Errorf("%w: высота %d больше %d", ErrInvalidParams, h, MaxTerrainHeight)
	}
	if p.Scale < 0 {
		return fmt.Errorf("%w: отрицательный масштаб", ErrInvalidParams)
	}
	return nil
}

// Area возвращает число столбцов рельефа
func (p TerrainParams) Area() int64 {
	size := p.Box.Size()
	return int64(size.X) * int64(size.Y)
}

func (p TerrainParams) key() uint64 {
	b := p.Box
	return fingerprint.New("terrain").
		WriteUint64(uint64(p.Seed)).
		WriteFloat(p.Scale).
		WriteInt(b.Min.X).WriteInt(b.Min.Y).WriteInt(b.Min.Z).
		WriteInt(b.Max.X).WriteInt(b.Max.Y).WriteInt(b.Max.Z).
		WriteBytes(p.Ground[:]).
		WriteBytes(p.Surface[:]).
		Sum()
}

// Terrain процедурный источник рельефа. До первого Generate объем не
// готов и слой считается пустым.
type Terrain struct {
	pool   *voxel.Pool
	params TerrainParams
	logger *logging.Logger

	mu  sync.RWMutex
	vol *volume.Volume
	key uint64
}

// NewTerrain создает источник рельефа
func NewTerrain(pool *voxel.Pool, params TerrainParams) (*Terrain, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if pool == nil {
		pool = voxel.DefaultPool
	}
	if params.Ground.IsEmpty() {
		params.Ground = voxel.RGBA(110, 84, 60, 255)
	}
	if params.Surface.IsEmpty() {
		params.Surface = voxel.RGBA(76, 150, 60, 255)
	}
	return &Terrain{
		pool:   pool,
		params: params,
		logger: logging.GetComponentLogger("procgen"),
		key:    fingerprint.New("terrain-pending").WriteUint64(params.key()).Sum(),
	}, nil
}

// Params возвращает параметры рельефа
func (t *Terrain) Params() TerrainParams { return t.params }

// Key меняется при готовности объема
func (t *Terrain) Key() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.key
}

// Volume возвращает сгенерированный объем
func (t *Terrain) Volume() (*volume.Volume, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.vol, t.vol != nil
}

// Ready сообщает, сгенерирован ли объем
func (t *Terrain) Ready() bool {
	_, ok := t.Volume()
	return ok
}

// Generate строит рельеф. Высоты считаются параллельно по строкам,
// отмена контекста прерывает генерацию без изменения состояния.
func (t *Terrain) Generate(ctx context.Context) error {
	p := t.params
	size := p.Box.Size()
	noise := NewNoise(p.Seed, p.Scale)
	heights := make([]int, size.X*size.Y)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for y := 0; y < size.Y; y++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for x := 0; x < size.X; x++ {
				n := noise.At(p.Box.Min.X+x, p.Box.Min.Y+y)
				heights[y*size.X+x] = 1 + int(n*float64(size.Z-1))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	field := heightField{box: p.Box, width: size.X, heights: heights}
	vol := volume.New(t.pool)
	if err := vol.FillShape(field, p.Ground); err != nil {
		vol.Release()
		return err
	}
	field.surface = true
	if err := vol.FillShape(field, p.Surface); err != nil {
		vol.Release()
		return err
	}

	t.mu.Lock()
	old := t.vol
	t.vol = vol
	t.key = p.key()
	t.mu.Unlock()
	if old != nil {
		old.Release()
	}
	t.logger.Debug("Рельеф seed=%d: %d вокселей", p.Seed, vol.Count())
	return nil
}

// Close освобождает объем
func (t *Terrain) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.vol != nil {
		t.vol.Release()
		t.vol = nil
	}
}

// heightField форма рельефа: столбцы заданной высоты над Box.Min.Z.
// С surface = true содержит только верхний воксель каждого столбца.
type heightField struct {
	box     vec.Box
	width   int
	heights []int
	surface bool
}

func (f heightField) Bounds() vec.Box { return f.box }

func (f heightField) Contains(p vec.Vec3) bool {
	if !f.box.Contains(p) {
		return false
	}
	h := f.heights[(p.Y-f.box.Min.Y)*f.width+(p.X-f.box.Min.X)]
	z := p.Z - f.box.Min.Z
	if f.surface {
		return z == h-1
	}
	return z < h
}
