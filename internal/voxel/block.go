package voxel

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/annel0/voxedit/internal/fingerprint"
	"github.com/annel0/voxedit/internal/vec"
)

const (
	// BlockSize длина ребра блока в вокселях
	BlockSize = 16
	// BlockCells количество клеток в блоке
	BlockCells = BlockSize * BlockSize * BlockSize
	// BlockBytes размер сырых данных блока
	BlockBytes = BlockCells * 4
)

// Block кубический участок 16x16x16 вокселей: единица хранения,
// разделения и хэширования.
//
// Блок разделяется по счетчику ссылок между всеми объемами и снимками,
// которые его содержат. Изменять можно только блок с единственной
// ссылкой; разделяемый блок сначала клонируется (copy-on-write).
type Block struct {
	pool  *Pool
	cells [BlockCells]Color
	count int // число непустых клеток

	refs  atomic.Int32
	freed atomic.Bool

	mu       sync.Mutex // защищает кэши ниже
	hash     uint64
	hashOK   bool
	bounds   vec.Box // локальные координаты
	boundsOK bool
}

// Index возвращает индекс клетки по локальным координатам
func Index(x, y, z int) int {
	return x | y<<4 | z<<8
}

// LocalOf возвращает локальные координаты клетки по индексу
func LocalOf(i int) vec.Vec3 {
	return vec.Vec3{X: i & 0xF, Y: (i >> 4) & 0xF, Z: i >> 8}
}

// At возвращает цвет клетки по индексу
func (b *Block) At(i int) Color {
	return b.cells[i]
}

// Get возвращает цвет клетки по локальным координатам
func (b *Block) Get(local vec.Vec3) Color {
	return b.cells[Index(local.X, local.Y, local.Z)]
}

// Set записывает цвет клетки. Вызывать только для блока с единственной
// ссылкой. Возвращает true, если значение изменилось.
func (b *Block) Set(i int, c Color) bool {
	c = c.Normalize()
	old := b.cells[i]
	if old == c {
		return false
	}
	b.cells[i] = c

	switch {
	case old.IsEmpty() && !c.IsEmpty():
		b.count++
	case !old.IsEmpty() && c.IsEmpty():
		b.count--
	}

	b.mu.Lock()
	b.hashOK = false
	if c.IsEmpty() {
		b.boundsOK = false
	} else if b.boundsOK {
		b.bounds = b.bounds.Extend(LocalOf(i))
	}
	b.mu.Unlock()
	return true
}

// Count возвращает число непустых клеток
func (b *Block) Count() int {
	return b.count
}

// IsEmpty возвращает true, если в блоке нет ни одного вокселя
func (b *Block) IsEmpty() bool {
	return b.count == 0
}

// Hash возвращает ключ содержимого блока (вычисляется лениво)
func (b *Block) Hash() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.hashOK {
		b.hash = fingerprint.Bytes(b.rawBytes())
		b.hashOK = true
	}
	return b.hash
}

// Bounds возвращает Box непустых клеток в локальных координатах
func (b *Block) Bounds() vec.Box {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.boundsOK {
		var box vec.Box
		for i := range b.cells {
			if !b.cells[i].IsEmpty() {
				box = box.Extend(LocalOf(i))
			}
		}
		b.bounds = box
		b.boundsOK = true
	}
	return b.bounds
}

// AppendBytes дописывает сырые RGBA-данные блока в dst
func (b *Block) AppendBytes(dst []byte) []byte {
	return append(dst, b.rawBytes()...)
}

func (b *Block) rawBytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&b.cells[0])), BlockBytes)
}

// Refs возвращает текущее число ссылок
func (b *Block) Refs() int32 {
	return b.refs.Load()
}

// Shared возвращает true, если блок принадлежит более чем одному владельцу
func (b *Block) Shared() bool {
	return b.refs.Load() > 1
}

// Freed возвращает true после освобождения последней ссылки
func (b *Block) Freed() bool {
	return b.freed.Load()
}

// Retain добавляет ссылку на блок
func (b *Block) Retain() *Block {
	if b.refs.Add(1) <= 1 {
		panic("voxel: retain освобожденного блока")
	}
	return b
}

// Release снимает ссылку; последняя ссылка освобождает блок
func (b *Block) Release() {
	n := b.refs.Add(-1)
	switch {
	case n == 0:
		b.freed.Store(true)
		if b.pool != nil {
			b.pool.release()
		}
	case n < 0:
		panic("voxel: двойное освобождение блока")
	}
}
