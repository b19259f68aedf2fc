// Package editor связывает сцену, историю, композицию и хранилище в
// документы. Editor заменяет глобальное состояние редактора: все
// зависимости передаются через Options.
package editor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/annel0/voxedit/internal/compose"
	"github.com/annel0/voxedit/internal/eventbus"
	"github.com/annel0/voxedit/internal/history"
	"github.com/annel0/voxedit/internal/logging"
	"github.com/annel0/voxedit/internal/metrics"
	"github.com/annel0/voxedit/internal/observability"
	"github.com/annel0/voxedit/internal/scene"
	"github.com/annel0/voxedit/internal/storage"
	"github.com/annel0/voxedit/internal/voxel"
)

const eventSource = "editor"

var (
	ErrDocumentNotFound = errors.New("документ не найден")
	ErrNoStore          = errors.New("хранилище не настроено")
	ErrStrokeActive     = errors.New("инструмент уже применяется")
	ErrStrokeDone       = errors.New("применение инструмента завершено")
	ErrEmptyClipboard   = errors.New("буфер обмена пуст")
	ErrClosed           = errors.New("редактор закрыт")
)

// Options зависимости редактора. Все поля, кроме Pool, могут быть nil.
type Options struct {
	Pool       *voxel.Pool
	Metrics    *metrics.Metrics
	Bus        eventbus.EventBus
	Store      *storage.ProjectStore
	HistoryMax int
	Workers    int // потоки для статистики документа

	// значения по умолчанию для процедурных слоев
	TerrainSeed    int64
	TerrainScale   float64
	TerrainMaxArea int64 // 0: procgen.MaxTerrainArea
}

// Editor владеет открытыми документами
type Editor struct {
	opts   Options
	logger *logging.Logger

	mu     sync.RWMutex
	docs   map[uuid.UUID]*Document
	closed bool
}

// New создает редактор
func New(opts Options) *Editor {
	if opts.Pool == nil {
		opts.Pool = voxel.DefaultPool
	}
	return &Editor{
		opts:   opts,
		logger: logging.GetComponentLogger("editor"),
		docs:   make(map[uuid.UUID]*Document),
	}
}

// Pool пул блоков редактора
func (e *Editor) Pool() *voxel.Pool { return e.opts.Pool }

// NewDocument создает документ со сценой по умолчанию
func (e *Editor) NewDocument(ctx context.Context, name string) (*Document, error) {
	return e.add(ctx, name, scene.New(e.opts.Pool))
}

// Open загружает документ из хранилища
func (e *Editor) Open(ctx context.Context, name string) (*Document, error) {
	if e.opts.Store == nil {
		return nil, ErrNoStore
	}
	ctx, span := observability.StartSpan(ctx, "editor.Open")
	defer span.End()

	s, err := e.opts.Store.Load(ctx, name, e.opts.Pool)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("открытие %q: %w", name, err)
	}
	d, err := e.add(ctx, name, s)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.savedKey = s.Key()
	d.adoptProducers()
	d.mu.Unlock()
	return d, nil
}

func (e *Editor) add(ctx context.Context, name string, s *scene.Scene) (*Document, error) {
	d := &Document{
		id:       uuid.New(),
		name:     name,
		editor:   e,
		scene:    s,
		history:  history.New(e.opts.HistoryMax, e.opts.Metrics),
		composer: compose.NewComposer(e.opts.Pool, e.opts.Metrics),
		logger:   e.logger,
	}
	d.history.Push(s, "open")

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		d.close()
		return nil, ErrClosed
	}
	e.docs[d.id] = d
	e.mu.Unlock()

	e.logger.Info("Открыт документ %s (%s)", d.id, name)
	e.publish(ctx, eventbus.TypeDocumentOpened, d.id, documentEvent{Name: name, Key: s.Key()})
	return d, nil
}

// Document возвращает открытый документ по id
func (e *Editor) Document(id uuid.UUID) (*Document, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return d, nil
}

// Documents возвращает открытые документы, упорядоченные по имени
func (e *Editor) Documents() []*Document {
	e.mu.RLock()
	out := make([]*Document, 0, len(e.docs))
	for _, d := range e.docs {
		out = append(out, d)
	}
	e.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Document) int {
		if c := strings.Compare(a.name, b.name); c != 0 {
			return c
		}
		return strings.Compare(a.id.String(), b.id.String())
	})
	return out
}

// CloseDocument закрывает документ и освобождает его блоки
func (e *Editor) CloseDocument(ctx context.Context, id uuid.UUID) error {
	e.mu.Lock()
	d, ok := e.docs[id]
	delete(e.docs, id)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}

	d.close()
	e.logger.Info("Закрыт документ %s (%s)", id, d.name)
	e.publish(ctx, eventbus.TypeDocumentClosed, id, documentEvent{Name: d.name})
	return nil
}

// Close закрывает все документы. Шину и хранилище закрывает владелец.
func (e *Editor) Close() {
	e.mu.Lock()
	docs := e.docs
	e.docs = make(map[uuid.UUID]*Document)
	e.closed = true
	e.mu.Unlock()

	for _, d := range docs {
		d.close()
	}
}

// documentEvent полезная нагрузка событий документа
type documentEvent struct {
	Name  string `json:"name"`
	Key   uint64 `json:"key"`
	Label string `json:"label,omitempty"`
}

func (e *Editor) publish(ctx context.Context, typ string, doc uuid.UUID, payload any) {
	if e.opts.Bus == nil {
		return
	}
	ev, err := eventbus.NewEnvelope(eventSource, typ, doc.String(), payload)
	if err != nil {
		e.logger.Warn("Событие %s: %v", typ, err)
		return
	}
	if err := e.opts.Bus.Publish(ctx, ev); err != nil {
		e.logger.Warn("Публикация %s: %v", typ, err)
	}
}
