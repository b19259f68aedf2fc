// Package volume реализует разреженный воксельный объем: отображение
// координат блоков на разделяемые блоки voxel.Block.
//
// Каноническая форма: в отображении нет пустых блоков, поэтому два объема
// с одинаковым содержимым структурно равны и имеют одинаковый Key.
//
// Объем использует copy-on-write на двух уровнях. Clone разделяет всю
// таблицу блоков (O(1)), первая запись в разделенную таблицу копирует
// только таблицу указателей, а запись в разделенный блок копирует один блок.
package volume

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/annel0/voxedit/internal/fingerprint"
	"github.com/annel0/voxedit/internal/vec"
	"github.com/annel0/voxedit/internal/voxel"
)

// CoordLimit ограничивает модуль мировой координаты вокселя
const CoordLimit = 1 << 24

const stripeCount = 64

var (
	// ErrOutOfRange запись за пределами представимых координат
	ErrOutOfRange = errors.New("координата вне допустимого диапазона")
	// ErrReleased операция над освобожденным объемом
	ErrReleased = errors.New("объем освобожден")
)

// blockMap таблица блоков, разделяемая между клонами объема
type blockMap struct {
	refs   atomic.Int32
	blocks map[vec.Vec3]*voxel.Block

	orderMu sync.Mutex
	order   []vec.Vec3 // отсортированные координаты, nil: устарело
}

func newBlockMap(capacity int) *blockMap {
	m := &blockMap{blocks: make(map[vec.Vec3]*voxel.Block, capacity)}
	m.refs.Store(1)
	return m
}

func (m *blockMap) ordered() []vec.Vec3 {
	m.orderMu.Lock()
	defer m.orderMu.Unlock()

	if m.order == nil {
		order := make([]vec.Vec3, 0, len(m.blocks))
		for bc := range m.blocks {
			order = append(order, bc)
		}
		slices.SortFunc(order, vec.Vec3.Compare)
		m.order = order
	}
	return m.order
}

func (m *blockMap) release() {
	if m.refs.Add(-1) != 0 {
		return
	}
	for _, b := range m.blocks {
		b.Release()
	}
	m.blocks = nil
}

// Volume разреженный воксельный объем
type Volume struct {
	pool    *voxel.Pool
	stripes [stripeCount]sync.RWMutex // исключение по координате блока

	mu       sync.RWMutex // защищает поля ниже
	data     *blockMap
	key      uint64
	keyOK    bool
	box      vec.Box
	boxOK    bool
	onChange func()
}

// New создает пустой объем. nil pool означает voxel.DefaultPool.
func New(pool *voxel.Pool) *Volume {
	if pool == nil {
		pool = voxel.DefaultPool
	}
	return &Volume{
		pool:  pool,
		data:  newBlockMap(0),
		boxOK: true,
	}
}

// Pool возвращает пул блоков объема
func (v *Volume) Pool() *voxel.Pool {
	return v.pool
}

// SetOnChange задает функцию, вызываемую после каждого изменения содержимого.
// Через нее инвалидируется ключ слоя, владеющего объемом.
func (v *Volume) SetOnChange(fn func()) {
	v.mu.Lock()
	v.onChange = fn
	v.mu.Unlock()
}

// CheckPos проверяет, что мировая координата представима
func CheckPos(p vec.Vec3) error {
	if p.X <= -CoordLimit || p.X >= CoordLimit ||
		p.Y <= -CoordLimit || p.Y >= CoordLimit ||
		p.Z <= -CoordLimit || p.Z >= CoordLimit {
		return fmt.Errorf("%w: (%d,%d,%d)", ErrOutOfRange, p.X, p.Y, p.Z)
	}
	return nil
}

// CheckBox проверяет, что все воксели Box представимы
func CheckBox(b vec.Box) error {
	if b.Empty() {
		return nil
	}
	if err := CheckPos(b.Min); err != nil {
		return err
	}
	return CheckPos(b.Max.Sub(vec.Vec3{X: 1, Y: 1, Z: 1}))
}

func (v *Volume) stripe(bc vec.Vec3) int {
	h := uint(bc.X*73856093 ^ bc.Y*19349663 ^ bc.Z*83492791)
	return int(h % stripeCount)
}

// Get возвращает цвет вокселя; пустой цвет, если блока нет
func (v *Volume) Get(pos vec.Vec3) voxel.Color {
	if CheckPos(pos) != nil {
		return voxel.Empty
	}
	bc := pos.ToBlockCoords()
	s := &v.stripes[v.stripe(bc)]
	s.RLock()
	defer s.RUnlock()

	v.mu.RLock()
	var b *voxel.Block
	if v.data != nil {
		b = v.data.blocks[bc]
	}
	v.mu.RUnlock()

	if b == nil {
		return voxel.Empty
	}
	return b.Get(pos.LocalInBlock())
}

// Set записывает цвет вокселя. Разделяемый блок предварительно клонируется,
// опустевший блок удаляется из отображения.
func (v *Volume) Set(pos vec.Vec3, c voxel.Color) error {
	if err := CheckPos(pos); err != nil {
		return err
	}
	c = c.Normalize()
	local := pos.LocalInBlock()
	i := voxel.Index(local.X, local.Y, local.Z)

	return v.applyEdits([]blockEdit{{
		coord:   pos.ToBlockCoords(),
		creates: !c.IsEmpty(),
		probe: func(cur *voxel.Block) bool {
			return cur.At(i) != c
		},
		apply: func(b *voxel.Block) bool {
			return b.Set(i, c)
		},
	}})
}

// GetBlock возвращает блок по координатам блока
func (v *Volume) GetBlock(bc vec.Vec3) (*voxel.Block, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.data == nil {
		return nil, false
	}
	b, ok := v.data.blocks[bc]
	return b, ok
}

// PutBlock устанавливает разделяемый блок по координатам (берет ссылку).
// Пустой блок удаляет запись. Используется при загрузке и композиции.
func (v *Volume) PutBlock(bc vec.Vec3, b *voxel.Block) error {
	if err := CheckBox(vec.BlockBox(bc)); err != nil {
		return err
	}
	if b == nil || b.IsEmpty() {
		return v.applyEdits([]blockEdit{{
			coord: bc,
			apply: func(dst *voxel.Block) bool {
				changed := false
				for i := 0; i < voxel.BlockCells; i++ {
					changed = dst.Set(i, voxel.Empty) || changed
				}
				return changed
			},
		}})
	}
	return v.applyEdits([]blockEdit{{coord: bc, replace: b}})
}

// Len возвращает число блоков
func (v *Volume) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.data == nil {
		return 0
	}
	return len(v.data.blocks)
}

// IsEmpty возвращает true, если в объеме нет вокселей
func (v *Volume) IsEmpty() bool {
	return v.Len() == 0
}

// Count возвращает число непустых вокселей
func (v *Volume) Count() int {
	n := 0
	for _, b := range v.IterBlocks() {
		n += b.Count()
	}
	return n
}

// snapshot возвращает упорядоченные координаты и блоки на момент вызова
func (v *Volume) snapshot() ([]vec.Vec3, []*voxel.Block) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.data == nil {
		return nil, nil
	}
	order := v.data.ordered()
	blocks := make([]*voxel.Block, len(order))
	for i, bc := range order {
		blocks[i] = v.data.blocks[bc]
	}
	return order, blocks
}

// IterBlocks возвращает ленивую последовательность (координата, блок)
// в порядке возрастания координат. Каждый обход начинается заново со
// снимка текущего состояния. Изменять объем во время обхода нельзя.
func (v *Volume) IterBlocks() iter.Seq2[vec.Vec3, *voxel.Block] {
	return func(yield func(vec.Vec3, *voxel.Block) bool) {
		order, blocks := v.snapshot()
		for i := range order {
			if !yield(order[i], blocks[i]) {
				return
			}
		}
	}
}

// IterVoxels обходит непустые воксели в детерминированном порядке
func (v *Volume) IterVoxels() iter.Seq2[vec.Vec3, voxel.Color] {
	return v.IterRegion(vec.Box{})
}

// IterRegion обходит непустые воксели внутри region.
// Пустой region означает весь объем.
func (v *Volume) IterRegion(region vec.Box) iter.Seq2[vec.Vec3, voxel.Color] {
	return func(yield func(vec.Vec3, voxel.Color) bool) {
		all := region.Empty()
		for bc, b := range v.IterBlocks() {
			bb := vec.BlockBox(bc)
			if !all && region.Intersect(bb).Empty() {
				continue
			}
			origin := bc.BlockOrigin()
			for i := 0; i < voxel.BlockCells; i++ {
				c := b.At(i)
				if c.IsEmpty() {
					continue
				}
				p := origin.Add(voxel.LocalOf(i))
				if !all && !region.Contains(p) {
					continue
				}
				if !yield(p, c) {
					return
				}
			}
		}
	}
}

// Key возвращает ключ содержимого. Ключ не зависит от порядка вставки:
// одинаковые воксели всегда дают одинаковый ключ.
func (v *Volume) Key() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.keyOK {
		return v.key
	}
	var u fingerprint.Unordered
	if v.data != nil {
		for bc, b := range v.data.blocks {
			u.Add(fingerprint.Mix(coordKey(bc), b.Hash()))
		}
	}
	v.key = u.Sum()
	v.keyOK = true
	return v.key
}

func coordKey(bc vec.Vec3) uint64 {
	return fingerprint.Mix(fingerprint.Mix(uint64(int64(bc.X)), uint64(int64(bc.Y))), uint64(int64(bc.Z)))
}

// Bounds возвращает Box непустых вокселей. Пересчитывается лениво по
// кэшированным границам блоков, без обхода вокселей.
func (v *Volume) Bounds() vec.Box {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.boxOK {
		return v.box
	}
	var box vec.Box
	if v.data != nil {
		for bc, b := range v.data.blocks {
			box = box.Union(b.Bounds().Translate(bc.BlockOrigin()))
		}
	}
	v.box = box
	v.boxOK = true
	return box
}

// Clone возвращает новый объем, разделяющий все блоки с исходным.
// Стоимость не зависит от размера объема.
func (v *Volume) Clone() *Volume {
	v.lockAll()
	defer v.unlockAll()

	v.mu.Lock()
	defer v.mu.Unlock()

	c := &Volume{pool: v.pool}
	if v.data == nil {
		c.data = newBlockMap(0)
		c.boxOK = true
		return c
	}
	v.data.refs.Add(1)
	c.data = v.data
	c.key, c.keyOK = v.key, v.keyOK
	c.box, c.boxOK = v.box, v.boxOK
	return c
}

// Release освобождает ссылки объема на блоки. После Release объем пуст,
// запись в него возвращает ErrReleased.
func (v *Volume) Release() {
	v.lockAll()
	defer v.unlockAll()

	v.mu.Lock()
	data := v.data
	v.data = nil
	v.keyOK, v.boxOK = false, false
	v.mu.Unlock()

	if data != nil {
		data.release()
	}
}

// Released возвращает true после Release
func (v *Volume) Released() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.data == nil
}

// Assign делает содержимое v равным содержимому src (с разделением блоков)
func (v *Volume) Assign(src *Volume) error {
	if v == src {
		return nil
	}
	src.mu.RLock()
	data := src.data
	if data != nil {
		data.refs.Add(1)
	}
	key, keyOK := src.key, src.keyOK
	box, boxOK := src.box, src.boxOK
	src.mu.RUnlock()
	if data == nil {
		return ErrReleased
	}

	v.lockAll()
	v.mu.Lock()
	old := v.data
	if old == nil {
		v.mu.Unlock()
		v.unlockAll()
		data.release()
		return ErrReleased
	}
	v.data = data
	v.key, v.keyOK = key, keyOK
	v.box, v.boxOK = box, boxOK
	onChange := v.onChange
	v.mu.Unlock()
	v.unlockAll()

	old.release()
	if onChange != nil {
		onChange()
	}
	return nil
}

// Clear удаляет все воксели
func (v *Volume) Clear() error {
	empty := New(v.pool)
	defer empty.Release()
	return v.Assign(empty)
}

func (v *Volume) lockAll() {
	for i := range v.stripes {
		v.stripes[i].Lock()
	}
}

func (v *Volume) unlockAll() {
	for i := len(v.stripes) - 1; i >= 0; i-- {
		v.stripes[i].Unlock()
	}
}

// Equal сравнивает содержимое двух объемов
func Equal(a, b *Volume) bool {
	ac, ab := a.snapshot()
	bc, bb := b.snapshot()
	if len(ac) != len(bc) {
		return false
	}
	for i := range ac {
		if ac[i] != bc[i] {
			return false
		}
		if ab[i] == bb[i] {
			continue
		}
		for j := 0; j < voxel.BlockCells; j++ {
			if ab[i].At(j) != bb[i].At(j) {
				return false
			}
		}
	}
	return true
}
