package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnordered_OrderIndependent(t *testing.T) {
	var a, b Unordered
	for _, k := range []uint64{1, 2, 3, 42} {
		a.Add(k)
	}
	for _, k := range []uint64{42, 3, 1, 2} {
		b.Add(k)
	}
	assert.Equal(t, a.Sum(), b.Sum(), "Порядок добавления не должен влиять на ключ")

	var c Unordered
	c.Add(1)
	c.Add(2)
	c.Add(3)
	assert.NotEqual(t, a.Sum(), c.Sum(), "Разные множества должны давать разные ключи")
}

func TestUnordered_DuplicatesCount(t *testing.T) {
	var a, b Unordered
	a.Add(7)
	b.Add(7)
	b.Add(7)
	assert.NotEqual(t, a.Sum(), b.Sum())
}

func TestHasher_DomainSeparation(t *testing.T) {
	a := New("layer").WriteInt(1).Sum()
	b := New("camera").WriteInt(1).Sum()
	assert.NotEqual(t, a, b, "Ключи разных типов не должны совпадать")

	c := New("layer").WriteInt(1).Sum()
	assert.Equal(t, a, c, "Одинаковые данные дают одинаковый ключ")
}

func TestHasher_NegativeZero(t *testing.T) {
	negZero := 0.0
	negZero = -negZero
	assert.Equal(t, New("f").WriteFloat(0).Sum(), New("f").WriteFloat(negZero).Sum())
}

func TestMix_OrderMatters(t *testing.T) {
	assert.NotEqual(t, Mix(1, 2), Mix(2, 1))
}

func TestMemo(t *testing.T) {
	var m Memo

	assert.True(t, m.Changed(10), "Первый ключ всегда считается изменением")
	assert.False(t, m.Changed(10), "Тот же ключ не должен вызывать работу")
	assert.True(t, m.Changed(11))

	last, ok := m.Last()
	assert.True(t, ok)
	assert.Equal(t, uint64(11), last)

	m.Reset()
	assert.True(t, m.Changed(11), "После Reset ключ снова считается новым")
}
