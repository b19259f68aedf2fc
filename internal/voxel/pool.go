package voxel

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrBudgetExceeded возвращается, когда пул не может выделить новый блок.
// Операция, получившая эту ошибку, должна оставить данные нетронутыми.
var ErrBudgetExceeded = errors.New("превышен лимит блоков")

// Pool выделяет блоки и ведет учет живых блоков.
// Лимит 0 означает отсутствие ограничения.
type Pool struct {
	limit int64

	live      atomic.Int64
	allocated atomic.Uint64
	cloned    atomic.Uint64
	freed     atomic.Uint64
}

// PoolStats снимок счетчиков пула
type PoolStats struct {
	Live      int64
	Allocated uint64
	Cloned    uint64
	Freed     uint64
}

// DefaultPool пул без ограничений
var DefaultPool = NewPool(0)

// NewPool создает пул с лимитом живых блоков
func NewPool(limit int64) *Pool {
	return &Pool{limit: limit}
}

// SetLimit меняет лимит живых блоков
func (p *Pool) SetLimit(limit int64) {
	atomic.StoreInt64(&p.limit, limit)
}

// New выделяет пустой блок с одной ссылкой
func (p *Pool) New() (*Block, error) {
	if err := p.reserve(); err != nil {
		return nil, err
	}
	p.allocated.Add(1)
	b := &Block{pool: p, boundsOK: true}
	b.refs.Store(1)
	return b, nil
}

// Clone копирует содержимое блока в новый блок с одной ссылкой.
// Исходный блок не изменяется.
func (p *Pool) Clone(src *Block) (*Block, error) {
	b, err := p.New()
	if err != nil {
		return nil, err
	}
	p.cloned.Add(1)
	b.cells = src.cells
	b.count = src.count

	src.mu.Lock()
	b.hash, b.hashOK = src.hash, src.hashOK
	b.bounds, b.boundsOK = src.bounds, src.boundsOK
	src.mu.Unlock()
	return b, nil
}

// FromBytes создает блок из сырых RGBA-данных
func (p *Pool) FromBytes(data []byte) (*Block, error) {
	if len(data) != BlockBytes {
		return nil, fmt.Errorf("неверный размер данных блока: %d, ожидалось %d", len(data), BlockBytes)
	}
	b, err := p.New()
	if err != nil {
		return nil, err
	}
	for i := 0; i < BlockCells; i++ {
		b.Set(i, Color{data[i*4], data[i*4+1], data[i*4+2], data[i*4+3]})
	}
	return b, nil
}

// Limit возвращает лимит живых блоков (0: без ограничения)
func (p *Pool) Limit() int64 {
	return atomic.LoadInt64(&p.limit)
}

// Stats возвращает счетчики пула
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Live:      p.live.Load(),
		Allocated: p.allocated.Load(),
		Cloned:    p.cloned.Load(),
		Freed:     p.freed.Load(),
	}
}

func (p *Pool) reserve() error {
	limit := p.Limit()
	for {
		cur := p.live.Load()
		if limit > 0 && cur >= limit {
			return fmt.Errorf("%w: %d", ErrBudgetExceeded, limit)
		}
		if p.live.CompareAndSwap(cur, cur+1) {
			return nil
		}
	}
}

func (p *Pool) release() {
	p.live.Add(-1)
	p.freed.Add(1)
}
