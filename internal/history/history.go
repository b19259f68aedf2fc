// Package history хранит линейную цепочку снимков сцены для отмены и
// повтора действий.
//
// Узлы лежат в срезе, текущий узел задается индексом. Снимок разделяет с
// предыдущим все неизмененные слои и блоки, поэтому новый узел стоит
// только своего заголовка. Вытеснение старейшего узла освобождает его
// ссылки; блоки, нужные оставшимся узлам, живут за счет счетчиков ссылок.
package history

import (
	"sync"

	"github.com/annel0/voxedit/internal/logging"
	"github.com/annel0/voxedit/internal/metrics"
	"github.com/annel0/voxedit/internal/scene"
)

// DefaultMaxNodes лимит узлов по умолчанию
const DefaultMaxNodes = 256

// Node неизменяемый снимок документа
type Node struct {
	Scene *scene.Scene
	Key   uint64 // ключ сцены на момент снимка
	Label string // имя действия, например "brush"
}

// History линейная история изменений
type History struct {
	mu      sync.Mutex
	nodes   []*Node
	cur     int // индекс текущего узла, -1 если истории нет
	max     int
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// New создает историю с лимитом max узлов (max <= 0: DefaultMaxNodes).
// m может быть nil.
func New(max int, m *metrics.Metrics) *History {
	if max <= 0 {
		max = DefaultMaxNodes
	}
	return &History{
		cur:     -1,
		max:     max,
		metrics: m,
		logger:  logging.GetComponentLogger("history"),
	}
}

// Push сохраняет снимок s как новый текущий узел. Узлы впереди текущего
// (ветка повтора) отбрасываются. Сцена s остается у вызывающего; узел
// получает собственный снимок.
func (h *History) Push(s *scene.Scene, label string) *Node {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := s.Snapshot()
	n := &Node{Scene: snap, Key: snap.Key(), Label: label}

	// отбрасываем ветку повтора
	for _, old := range h.nodes[h.cur+1:] {
		old.Scene.Release()
	}
	clear(h.nodes[h.cur+1:])
	h.nodes = append(h.nodes[:h.cur+1], n)
	h.cur = len(h.nodes) - 1

	for len(h.nodes) > h.max {
		h.evictOldest()
	}
	h.metrics.SetHistoryNodes(len(h.nodes))
	h.logger.Debug("push %q: %d узлов, текущий %d", label, len(h.nodes), h.cur)
	return n
}

func (h *History) evictOldest() {
	old := h.nodes[0]
	h.nodes[0] = nil
	h.nodes = h.nodes[1:]
	h.cur--
	old.Scene.Release()
	h.metrics.HistoryEviction()
}

// Undo делает текущим предыдущий узел и возвращает независимую копию его
// сцены. false: отменять нечего, это не ошибка.
func (h *History) Undo() (*scene.Scene, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cur <= 0 {
		return nil, false
	}
	h.cur--
	return h.nodes[h.cur].Scene.Snapshot(), true
}

// Redo делает текущим следующий узел. false: повторять нечего.
func (h *History) Redo() (*scene.Scene, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cur < 0 || h.cur >= len(h.nodes)-1 {
		return nil, false
	}
	h.cur++
	return h.nodes[h.cur].Scene.Snapshot(), true
}

// Current возвращает текущий узел или nil
func (h *History) Current() *Node {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cur < 0 {
		return nil
	}
	return h.nodes[h.cur]
}

// CanUndo сообщает, есть ли узел позади текущего
func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cur > 0
}

// CanRedo сообщает, есть ли узел впереди текущего
func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cur >= 0 && h.cur < len(h.nodes)-1
}

// Len возвращает количество узлов
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.nodes)
}

// Max возвращает лимит узлов
func (h *History) Max() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.max
}

// SetMax меняет лимит узлов. Лишние узлы вытесняются сразу: сначала
// старейшие, текущий узел не вытесняется никогда.
func (h *History) SetMax(max int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if max <= 0 {
		max = DefaultMaxNodes
	}
	h.max = max
	for len(h.nodes) > h.max {
		if h.cur > 0 {
			h.evictOldest()
			continue
		}
		// текущий узел старейший: укорачиваем ветку повтора
		last := len(h.nodes) - 1
		h.nodes[last].Scene.Release()
		h.nodes[last] = nil
		h.nodes = h.nodes[:last]
		h.metrics.HistoryEviction()
	}
	h.metrics.SetHistoryNodes(len(h.nodes))
}

// Labels возвращает имена действий по порядку и индекс текущего узла
func (h *History) Labels() ([]string, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.nodes))
	for i, n := range h.nodes {
		out[i] = n.Label
	}
	return out, h.cur
}

// Clear освобождает все узлы
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, n := range h.nodes {
		n.Scene.Release()
	}
	h.nodes = nil
	h.cur = -1
	h.metrics.SetHistoryNodes(0)
}
