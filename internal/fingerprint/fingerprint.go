// Package fingerprint содержит примитивы для 64-битных ключей изменений.
//
// Ключом называется значение, которое гарантированно меняется при изменении
// содержимого и совпадает у структурно равных сущностей одного типа.
// Ключи используются только как ключи кэша, а не как криптографический хэш.
package fingerprint

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Hasher последовательно накапливает поля сущности в 64-битный ключ.
// Порядок записи значим.
type Hasher struct {
	d   *xxhash.Digest
	buf [8]byte
}

// New создает Hasher с доменной меткой, чтобы ключи разных типов не совпадали
func New(domain string) *Hasher {
	h := &Hasher{d: xxhash.New()}
	h.WriteString(domain)
	return h
}

// WriteUint64 добавляет беззнаковое целое
func (h *Hasher) WriteUint64(v uint64) *Hasher {
	binary.LittleEndian.PutUint64(h.buf[:], v)
	_, _ = h.d.Write(h.buf[:])
	return h
}

// WriteInt добавляет целое
func (h *Hasher) WriteInt(v int) *Hasher {
	return h.WriteUint64(uint64(int64(v)))
}

// WriteFloat добавляет число с плавающей точкой (по битовому представлению)
func (h *Hasher) WriteFloat(v float64) *Hasher {
	if v == 0 {
		v = 0 // -0 и +0 дают один ключ
	}
	return h.WriteUint64(math.Float64bits(v))
}

// WriteBool добавляет флаг
func (h *Hasher) WriteBool(v bool) *Hasher {
	if v {
		return h.WriteUint64(1)
	}
	return h.WriteUint64(0)
}

// WriteString добавляет строку с длиной-префиксом
func (h *Hasher) WriteString(s string) *Hasher {
	h.WriteUint64(uint64(len(s)))
	_, _ = h.d.WriteString(s)
	return h
}

// WriteBytes добавляет байты с длиной-префиксом
func (h *Hasher) WriteBytes(b []byte) *Hasher {
	h.WriteUint64(uint64(len(b)))
	_, _ = h.d.Write(b)
	return h
}

// Sum возвращает итоговый ключ
func (h *Hasher) Sum() uint64 {
	return h.d.Sum64()
}

// Bytes возвращает ключ от произвольных данных
func Bytes(b []byte) uint64 {
	return xxhash.Sum64(b)
}

// Mix смешивает два ключа с учетом порядка
func Mix(a, b uint64) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], a)
	binary.LittleEndian.PutUint64(buf[8:], b)
	return xxhash.Sum64(buf[:])
}

// Unordered накапливает ключи независимо от порядка добавления.
// Каждый элемент предварительно перемешивается, чтобы сумма не вырождалась.
type Unordered struct {
	sum   uint64
	count uint64
}

// Add добавляет элемент
func (u *Unordered) Add(k uint64) {
	u.sum += Mix(k, 0x9e3779b97f4a7c15)
	u.count++
}

// Sum возвращает итоговый ключ множества
func (u *Unordered) Sum() uint64 {
	return Mix(u.sum, u.count)
}
