package fingerprint

import "sync"

// Memo запоминает последний обработанный ключ. Потребитель вызывает
// Changed перед дорогой работой и пропускает ее, если ключ не изменился.
//
//	if memo.Changed(scene.Key()) {
//		upload(...)
//	}
type Memo struct {
	mu    sync.Mutex
	last  uint64
	valid bool
}

// Changed возвращает true и запоминает key, если он отличается от предыдущего
func (m *Memo) Changed(key uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.valid && m.last == key {
		return false
	}
	m.last = key
	m.valid = true
	return true
}

// Last возвращает последний ключ и признак его наличия
func (m *Memo) Last() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.valid
}

// Reset сбрасывает состояние, следующий Changed вернет true
func (m *Memo) Reset() {
	m.mu.Lock()
	m.valid = false
	m.mu.Unlock()
}
